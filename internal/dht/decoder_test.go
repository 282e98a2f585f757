package dht

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/afroash/dht11-httpd/internal/gpio"
	"github.com/afroash/dht11-httpd/internal/gpio/sim"
	"github.com/afroash/dht11-httpd/internal/models"
)

func newTestDecoder(t *testing.T, s *sim.Sensor, timing Timing) *Decoder {
	t.Helper()
	d, err := NewDecoder(s, s, timing)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	return d
}

func TestDecoder_Read(t *testing.T) {
	tests := []struct {
		name  string
		frame [FrameSize]uint8
		want  models.Reading
	}{
		{
			name:  "35% 24C",
			frame: [FrameSize]uint8{0x23, 0x00, 0x18, 0x00, 0x3B},
			want: models.Reading{
				HumidityInteger:    35,
				TemperatureInteger: 24,
				Checksum:           0x3B,
				Valid:              true,
			},
		},
		{
			name:  "bad checksum still decodes",
			frame: [FrameSize]uint8{0x23, 0x00, 0x18, 0x00, 0x3C},
			want: models.Reading{
				HumidityInteger:    35,
				TemperatureInteger: 24,
				Checksum:           0x3C,
			},
		},
		{
			name:  "all ones",
			frame: [FrameSize]uint8{0xFF, 0xFF, 0xFF, 0xFF, 0xFC},
			want: models.Reading{
				HumidityInteger:     0xFF,
				HumidityFraction:    0xFF,
				TemperatureInteger:  0xFF,
				TemperatureFraction: 0xFF,
				Checksum:            0xFC,
				Valid:               true,
			},
		},
		{
			name:  "all zeros",
			frame: [FrameSize]uint8{},
			want:  models.Reading{Valid: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sim.New(tt.frame)
			d := newTestDecoder(t, s, DefaultTiming())

			got, err := d.Read(context.Background())
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Read() mismatch (-want +got):\n%s", diff)
			}
			if s.Direction() != gpio.Input {
				t.Errorf("line left as %v, want input", s.Direction())
			}
			if st, _ := d.State(); st != StateIdle {
				t.Errorf("State() = %v after Read, want idle", st)
			}
		})
	}
}

// Every value in every field must survive the trip across the wire.
func TestDecoder_ReadEveryByte(t *testing.T) {
	var frame [FrameSize]uint8
	s := sim.New(frame, sim.WithSource(func() [5]uint8 { return frame }))
	d := newTestDecoder(t, s, DefaultTiming())

	for v := 0; v < 256; v++ {
		b := uint8(v)
		frame = [FrameSize]uint8{b, ^b, b >> 1, b << 1}
		frame[ChecksumByte] = Checksum(frame)

		got, err := d.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() for %#02x error = %v", b, err)
		}
		if got.Frame() != frame {
			t.Fatalf("Read() frame = %v, want %v", got.Frame(), frame)
		}
		if !got.Valid {
			t.Fatalf("Read() for %#02x not valid", b)
		}
	}
}

func TestDecoder_PulseTolerance(t *testing.T) {
	frame := sim.Frame(61, 17)
	tests := []struct {
		name string
		opts []sim.Option
	}{
		{
			name: "short pulses",
			opts: []sim.Option{sim.WithPulses(sim.Pulses{
				ResponseGap: 40 * time.Microsecond,
				AckLow:      75 * time.Microsecond,
				AckHigh:     75 * time.Microsecond,
				BitLow:      48 * time.Microsecond,
				ZeroHigh:    22 * time.Microsecond,
				OneHigh:     60 * time.Microsecond,
				TrailLow:    50 * time.Microsecond,
			})},
		},
		{
			name: "long pulses",
			opts: []sim.Option{sim.WithPulses(sim.Pulses{
				ResponseGap: 20 * time.Microsecond,
				AckLow:      85 * time.Microsecond,
				AckHigh:     85 * time.Microsecond,
				BitLow:      55 * time.Microsecond,
				ZeroHigh:    28 * time.Microsecond,
				OneHigh:     75 * time.Microsecond,
				TrailLow:    50 * time.Microsecond,
			})},
		},
		{
			name: "slow line reads",
			opts: []sim.Option{sim.WithReadCost(4 * time.Microsecond)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecoder(t, sim.New(frame, tt.opts...), DefaultTiming())
			got, err := d.Read(context.Background())
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got.Frame() != frame || !got.Valid {
				t.Errorf("Read() = %v valid=%v, want %v", got.Frame(), got.Valid, frame)
			}
		})
	}
}

func TestDecoder_NoResponse(t *testing.T) {
	tests := []struct {
		name     string
		opt      sim.Option
		wantEdge string
	}{
		{name: "silent", opt: sim.Silent(), wantEdge: "low"},
		{name: "stuck low", opt: sim.StuckLow(), wantEdge: "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sim.New(sim.Frame(50, 20), tt.opt)
			timing := DefaultTiming()
			d := newTestDecoder(t, s, timing)

			start := s.Now()
			got, err := d.Read(context.Background())
			elapsed := s.Now().Sub(start)

			if !errors.Is(err, ErrNoResponse) {
				t.Fatalf("Read() error = %v, want ErrNoResponse", err)
			}
			if got != (models.Reading{}) {
				t.Errorf("Read() = %+v, want zero reading", got)
			}
			var te *TransactionError
			if !errors.As(err, &te) {
				t.Fatalf("Read() error %T is not a *TransactionError", err)
			}
			if te.State != StateHandshaking || te.Edge != tt.wantEdge {
				t.Errorf("failure at %v/%s, want handshaking/%s", te.State, te.Edge, tt.wantEdge)
			}
			// start signal plus at most three bounded waits
			bound := timing.StartLow + timing.StartRelease + 3*timing.ResponseTimeout + time.Millisecond
			if elapsed > bound {
				t.Errorf("Read() took %s of line time, want <= %s", elapsed, bound)
			}
			if s.Direction() != gpio.Input {
				t.Errorf("line left as %v, want input", s.Direction())
			}
		})
	}
}

func TestDecoder_StalledMidFrame(t *testing.T) {
	tests := []struct {
		name     string
		bits     int
		level    gpio.Level
		wantByte int
		wantBit  int
		wantEdge string
	}{
		{name: "low before first bit", bits: 0, level: gpio.Low, wantByte: 0, wantBit: 0, wantEdge: "high"},
		{name: "low in humidity", bits: 5, level: gpio.Low, wantByte: 0, wantBit: 5, wantEdge: "high"},
		{name: "high in temperature", bits: 19, level: gpio.High, wantByte: 2, wantBit: 3, wantEdge: "low"},
		{name: "high on last bit", bits: 39, level: gpio.High, wantByte: 4, wantBit: 7, wantEdge: "low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sim.New(sim.Frame(50, 20), sim.StallAfter(tt.bits, tt.level))
			d := newTestDecoder(t, s, DefaultTiming())

			got, err := d.Read(context.Background())
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Read() error = %v, want ErrTimeout", err)
			}
			if got != (models.Reading{}) {
				t.Errorf("Read() = %+v, want zero reading", got)
			}
			var te *TransactionError
			if !errors.As(err, &te) {
				t.Fatalf("Read() error %T is not a *TransactionError", err)
			}
			if te.Byte != tt.wantByte || te.Bit != tt.wantBit || te.Edge != tt.wantEdge {
				t.Errorf("failure at byte %d bit %d edge %s, want byte %d bit %d edge %s",
					te.Byte, te.Bit, te.Edge, tt.wantByte, tt.wantBit, tt.wantEdge)
			}
			if s.Direction() != gpio.Input {
				t.Errorf("line left as %v, want input", s.Direction())
			}
		})
	}
}

func TestDecoder_ContextDeadlineTooShort(t *testing.T) {
	s := sim.New(sim.Frame(50, 20))
	d := newTestDecoder(t, s, DefaultTiming())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := d.Read(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Read() error = %v, want ErrTimeout", err)
	}
	if s.Starts() != 0 {
		t.Errorf("sensor saw %d start signals, want 0", s.Starts())
	}
}

func TestDecoder_DeadlineBelowMinBudget(t *testing.T) {
	// enough for the start signal, not for the frame behind it
	s := sim.New(sim.Frame(50, 20))
	d := newTestDecoder(t, s, DefaultTiming())

	ctx, cancel := context.WithTimeout(context.Background(), 19*time.Millisecond+150*time.Microsecond)
	defer cancel()

	_, err := d.Read(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Read() error = %v, want ErrTimeout", err)
	}
	var te *TransactionError
	if !errors.As(err, &te) {
		t.Fatalf("Read() error %T is not a *TransactionError", err)
	}
	if te.State != StateIdle || te.Cause != context.DeadlineExceeded {
		t.Errorf("failure at %v cause %v, want idle with deadline exceeded", te.State, te.Cause)
	}
	if s.Starts() != 0 {
		t.Errorf("sensor saw %d start signals, want 0", s.Starts())
	}
}

func TestDecoder_DeadlineExpires(t *testing.T) {
	slowAck := sim.DefaultPulses()
	slowAck.ResponseGap = 3 * time.Millisecond
	slowAck.AckLow = 3 * time.Millisecond
	slowAck.AckHigh = 3 * time.Millisecond

	slowBits := sim.DefaultPulses()
	slowBits.BitLow = 150 * time.Microsecond
	slowBits.OneHigh = 150 * time.Microsecond

	timing := DefaultTiming()
	timing.ResponseTimeout = 4 * time.Millisecond

	tests := []struct {
		name      string
		pulses    sim.Pulses
		wantState State
	}{
		// the acknowledgement alone outlasts the frame budget
		{name: "during handshake", pulses: slowAck, wantState: StateHandshaking},
		// every bit is in spec but the frame takes about twelve milliseconds
		{name: "during frame", pulses: slowBits, wantState: StateReceiving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sim.New(sim.Frame(50, 20), sim.WithPulses(tt.pulses))
			d := newTestDecoder(t, s, timing)

			ctx, cancel := context.WithTimeout(context.Background(), 26*time.Millisecond)
			defer cancel()

			start := s.Now()
			_, err := d.Read(ctx)
			elapsed := s.Now().Sub(start)

			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Read() error = %v, want ErrTimeout", err)
			}
			if errors.Is(err, ErrNoResponse) {
				t.Errorf("Read() error = %v, must not report a missing sensor", err)
			}
			var te *TransactionError
			if !errors.As(err, &te) {
				t.Fatalf("Read() error %T is not a *TransactionError", err)
			}
			if te.State != tt.wantState {
				t.Errorf("failure at %v, want %v", te.State, tt.wantState)
			}
			if te.Cause != context.DeadlineExceeded {
				t.Errorf("Cause = %v, want context.DeadlineExceeded", te.Cause)
			}
			if s.Starts() != 1 {
				t.Errorf("sensor saw %d start signals, want 1", s.Starts())
			}
			if elapsed > 26*time.Millisecond+time.Millisecond {
				t.Errorf("Read() took %s of line time, want it cut at the deadline", elapsed)
			}
		})
	}
}

func TestDecoder_CancelledWhileWaitingForLine(t *testing.T) {
	s := sim.New(sim.Frame(50, 20))
	d := newTestDecoder(t, s, DefaultTiming())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Read(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Read() error = %v, want context.Canceled", err)
	}
	if s.Starts() != 0 {
		t.Errorf("sensor saw %d start signals, want 0", s.Starts())
	}
}

func TestDecoder_ConcurrentReads(t *testing.T) {
	frame := sim.Frame(45, 22)
	s := sim.New(frame)
	d := newTestDecoder(t, s, DefaultTiming())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.Read(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if got.Frame() != frame || !got.Valid {
				errs <- errors.New("interleaved transaction corrupted frame")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if s.Starts() != callers {
		t.Errorf("sensor saw %d start signals, want %d", s.Starts(), callers)
	}
}

func TestDecoder_DisableGC(t *testing.T) {
	before := debug.SetGCPercent(100)
	debug.SetGCPercent(before)

	timing := DefaultTiming()
	timing.DisableGC = true
	d := newTestDecoder(t, sim.New(sim.Frame(40, 21)), timing)

	if _, err := d.Read(context.Background()); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	after := debug.SetGCPercent(before)
	if after != before {
		t.Errorf("GC percent = %d after Read, want %d", after, before)
	}
}

func TestNewDecoder_RejectsBadTiming(t *testing.T) {
	s := sim.New(sim.Frame(40, 21))
	_, err := NewDecoder(s, s, Timing{StartLow: time.Millisecond})
	if !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("NewDecoder() error = %v, want ErrInvalidTiming", err)
	}

	if _, err := NewDecoder(nil, s, DefaultTiming()); err == nil {
		t.Error("NewDecoder(nil pin) should fail")
	}
}

func TestTransactionError_Error(t *testing.T) {
	err := &TransactionError{
		Kind:   ErrTimeout,
		State:  StateReceiving,
		Byte:   2,
		Bit:    3,
		Edge:   "low",
		Waited: 200 * time.Microsecond,
	}
	want := "dht: timed out waiting for data edge (byte 2 bit 3): line not low after 200µs"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
