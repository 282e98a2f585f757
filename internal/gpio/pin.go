// Package gpio provides the single-line capability the DHT decoder drives,
// plus Linux backends for it.
package gpio

import (
	"io"
	"time"
)

// Direction is the configured direction of a GPIO line.
type Direction int

const (
	// Input releases the line; backends enable the pull-up.
	Input Direction = iota
	// Output lets the host drive the line.
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Level is a logic level on the line.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Pin is the host-controlled line the sensor is wired to.
type Pin interface {
	// SetDirection switches the line between input (pulled up) and output.
	SetDirection(dir Direction) error

	// SetLevel drives the line. Only meaningful in Output mode.
	SetLevel(level Level) error

	// ReadLevel samples the line.
	ReadLevel() (Level, error)

	// DelayMicroseconds blocks for at least n microseconds.
	DelayMicroseconds(n int)
}

// Line is a Pin backed by a resource that must be released.
type Line interface {
	Pin
	io.Closer
}

// Clock supplies the time base used to bound waits on the line.
type Clock interface {
	Now() time.Time
}

// DelayMicroseconds blocks the calling goroutine for at least n microseconds.
// Short delays spin on the monotonic clock; anything of a millisecond or more
// sleeps, since oversleeping is harmless for the start signal.
func DelayMicroseconds(n int) {
	if n <= 0 {
		return
	}
	d := time.Duration(n) * time.Microsecond
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}
