// Package sim is a software DHT11 on a virtual clock. It implements
// gpio.Pin and gpio.Clock so the decoder can be exercised without hardware:
// delays and line reads advance virtual time, and the sensor answers a start
// signal with the same pulse train the real part emits.
package sim

import (
	"sync"
	"time"

	"github.com/afroash/dht11-httpd/internal/gpio"
)

// Pulses are the widths of the sensor's response, all measured from the
// moment the host releases the line.
type Pulses struct {
	ResponseGap time.Duration // line idles high before the sensor answers
	AckLow      time.Duration
	AckHigh     time.Duration
	BitLow      time.Duration // low preamble in front of every data bit
	ZeroHigh    time.Duration
	OneHigh     time.Duration
	TrailLow    time.Duration // final low after the 40th bit
}

// DefaultPulses are the nominal DHT11 datasheet widths.
func DefaultPulses() Pulses {
	return Pulses{
		ResponseGap: 20 * time.Microsecond,
		AckLow:      80 * time.Microsecond,
		AckHigh:     80 * time.Microsecond,
		BitLow:      50 * time.Microsecond,
		ZeroHigh:    26 * time.Microsecond,
		OneHigh:     70 * time.Microsecond,
		TrailLow:    50 * time.Microsecond,
	}
}

// MinStartLow is the shortest start signal the simulated part reacts to.
const MinStartLow = 18 * time.Millisecond

type segment struct {
	until time.Time
	level gpio.Level
}

// Sensor is a simulated DHT11 wired to a simulated line. It is safe for
// concurrent use, but like the real part it has no notion of who is talking:
// two interleaved transactions corrupt each other.
type Sensor struct {
	mu sync.Mutex

	now      time.Time
	readCost time.Duration
	pulses   Pulses
	source   func() [5]uint8

	silent     bool
	stuckLow   bool
	stallAfter int
	stallLevel gpio.Level

	dir      gpio.Direction
	driven   gpio.Level
	lowSince time.Time
	lowHeld  time.Duration

	wave   []segment
	cursor int
	rest   gpio.Level

	starts int
	reads  int
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithPulses overrides the response pulse widths.
func WithPulses(p Pulses) Option {
	return func(s *Sensor) { s.pulses = p }
}

// WithReadCost sets how much virtual time one ReadLevel call consumes.
func WithReadCost(d time.Duration) Option {
	return func(s *Sensor) { s.readCost = d }
}

// WithSource makes every transaction transmit the frame returned by fn.
func WithSource(fn func() [5]uint8) Option {
	return func(s *Sensor) { s.source = fn }
}

// Silent makes the sensor ignore start signals; the line stays pulled up.
func Silent() Option {
	return func(s *Sensor) { s.silent = true }
}

// StuckLow makes the sensor pull the line low and never let go.
func StuckLow() Option {
	return func(s *Sensor) { s.stuckLow = true }
}

// StallAfter makes the sensor freeze the line at level after transmitting
// the given number of data bits.
func StallAfter(bits int, level gpio.Level) Option {
	return func(s *Sensor) {
		s.stallAfter = bits
		s.stallLevel = level
	}
}

// New returns a sensor that transmits frame on every start signal.
func New(frame [5]uint8, opts ...Option) *Sensor {
	s := &Sensor{
		now:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		readCost:   time.Microsecond,
		pulses:     DefaultPulses(),
		stallAfter: -1,
		driven:     gpio.High,
		rest:       gpio.High,
	}
	s.source = func() [5]uint8 { return frame }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Frame builds a payload with integral humidity and temperature, zero
// fractions and a correct checksum.
func Frame(humidity, temperature uint8) [5]uint8 {
	return [5]uint8{humidity, 0, temperature, 0, humidity + temperature}
}

// Now reports the virtual time.
func (s *Sensor) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Direction reports how the host last configured the line.
func (s *Sensor) Direction() gpio.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Starts counts start signals the sensor answered.
func (s *Sensor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Reads counts ReadLevel calls.
func (s *Sensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sensor) SetDirection(dir gpio.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.dir
	s.dir = dir
	switch {
	case dir == gpio.Output:
		s.wave = nil
		s.rest = gpio.High
		if s.driven == gpio.Low {
			s.lowSince = s.now
		}
	case prev == gpio.Output:
		if s.driven == gpio.Low {
			s.lowHeld = s.now.Sub(s.lowSince)
		}
		if s.lowHeld >= MinStartLow {
			s.respond()
		}
		s.lowHeld = 0
	}
	return nil
}

func (s *Sensor) SetLevel(level gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == gpio.Output {
		switch {
		case s.driven == gpio.High && level == gpio.Low:
			s.lowSince = s.now
		case s.driven == gpio.Low && level == gpio.High:
			s.lowHeld = s.now.Sub(s.lowSince)
		}
	}
	s.driven = level
	return nil
}

func (s *Sensor) ReadLevel() (gpio.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	s.now = s.now.Add(s.readCost)
	if s.dir == gpio.Output {
		return s.driven, nil
	}
	for s.cursor < len(s.wave) && !s.now.Before(s.wave[s.cursor].until) {
		s.cursor++
	}
	if s.cursor < len(s.wave) {
		return s.wave[s.cursor].level, nil
	}
	return s.rest, nil
}

func (s *Sensor) DelayMicroseconds(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Duration(n) * time.Microsecond)
}

// Close is a no-op so the simulator can stand in for a hardware line.
func (s *Sensor) Close() error { return nil }

// respond lays out the pulse train for one transaction. Caller holds mu.
func (s *Sensor) respond() {
	s.wave = s.wave[:0]
	s.cursor = 0
	s.rest = gpio.High
	if s.silent {
		return
	}
	s.starts++

	t := s.now
	add := func(d time.Duration, level gpio.Level) {
		t = t.Add(d)
		s.wave = append(s.wave, segment{until: t, level: level})
	}

	add(s.pulses.ResponseGap, gpio.High)
	if s.stuckLow {
		s.rest = gpio.Low
		return
	}
	add(s.pulses.AckLow, gpio.Low)
	add(s.pulses.AckHigh, gpio.High)

	frame := s.source()
	for i := 0; i < 40; i++ {
		if i == s.stallAfter {
			s.rest = s.stallLevel
			if s.stallLevel == gpio.Low {
				return
			}
			add(s.pulses.BitLow, gpio.Low)
			return
		}
		add(s.pulses.BitLow, gpio.Low)
		if frame[i/8]&(0x80>>(i%8)) != 0 {
			add(s.pulses.OneHigh, gpio.High)
		} else {
			add(s.pulses.ZeroHigh, gpio.High)
		}
	}
	add(s.pulses.TrailLow, gpio.Low)
}
