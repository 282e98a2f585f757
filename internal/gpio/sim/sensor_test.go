package sim

import (
	"testing"
	"time"

	"github.com/afroash/dht11-httpd/internal/gpio"
)

// startSignal drives the line low for low, then high for 30us, then
// releases it.
func startSignal(s *Sensor, low time.Duration) {
	s.SetDirection(gpio.Output)
	s.SetLevel(gpio.Low)
	s.DelayMicroseconds(int(low / time.Microsecond))
	s.SetLevel(gpio.High)
	s.DelayMicroseconds(30)
	s.SetDirection(gpio.Input)
}

func TestSensor_Acknowledges(t *testing.T) {
	s := New(Frame(40, 20))
	startSignal(s, 19*time.Millisecond)

	if s.Starts() != 1 {
		t.Fatalf("Starts() = %d, want 1", s.Starts())
	}
	if s.Direction() != gpio.Input {
		t.Errorf("Direction() = %v, want input", s.Direction())
	}

	// each read advances the clock by 1us
	steps := []struct {
		delay int
		want  gpio.Level
	}{
		{0, gpio.High},  // t=1, response gap
		{20, gpio.Low},  // t=22, ack low
		{80, gpio.High}, // t=103, ack high
		{80, gpio.Low},  // t=184, first bit preamble
	}
	for i, step := range steps {
		s.DelayMicroseconds(step.delay)
		got, err := s.ReadLevel()
		if err != nil {
			t.Fatalf("ReadLevel() error = %v", err)
		}
		if got != step.want {
			t.Errorf("step %d: level = %v, want %v", i, got, step.want)
		}
	}
}

func TestSensor_IgnoresShortStart(t *testing.T) {
	s := New(Frame(40, 20))
	startSignal(s, 10*time.Millisecond)

	if s.Starts() != 0 {
		t.Errorf("Starts() = %d, want 0 for a %v start signal", s.Starts(), 10*time.Millisecond)
	}
	for i := 0; i < 200; i++ {
		if level, _ := s.ReadLevel(); level != gpio.High {
			t.Fatalf("line pulled low at read %d without a valid start", i)
		}
	}
}

func TestSensor_Silent(t *testing.T) {
	s := New(Frame(40, 20), Silent())
	startSignal(s, 19*time.Millisecond)

	if s.Starts() != 0 {
		t.Errorf("Starts() = %d, want 0", s.Starts())
	}
	if level, _ := s.ReadLevel(); level != gpio.High {
		t.Error("silent sensor should leave the line pulled up")
	}
}

func TestSensor_StuckLow(t *testing.T) {
	s := New(Frame(40, 20), StuckLow())
	startSignal(s, 19*time.Millisecond)

	s.DelayMicroseconds(10000)
	if level, _ := s.ReadLevel(); level != gpio.Low {
		t.Error("stuck sensor should hold the line low")
	}
}

func TestSensor_VirtualClock(t *testing.T) {
	s := New(Frame(40, 20), WithReadCost(3*time.Microsecond))
	start := s.Now()

	s.DelayMicroseconds(100)
	s.ReadLevel()
	s.ReadLevel()

	if got := s.Now().Sub(start); got != 106*time.Microsecond {
		t.Errorf("virtual time advanced %v, want 106us", got)
	}
	if s.Reads() != 2 {
		t.Errorf("Reads() = %d, want 2", s.Reads())
	}
}

func TestFrame(t *testing.T) {
	got := Frame(200, 100)
	want := [5]uint8{200, 0, 100, 0, 44}
	if got != want {
		t.Errorf("Frame(200, 100) = %v, want %v", got, want)
	}
}
