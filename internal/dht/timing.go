package dht

import (
	"time"

	"github.com/pkg/errors"
)

// Protocol constants from the DHT11 datasheet.
const (
	// MinStartLow is the shortest start signal the sensor is guaranteed to see.
	MinStartLow = 18 * time.Millisecond

	// ZeroPulse and OnePulse are the nominal high widths encoding 0 and 1.
	// The sample point must fall strictly between them.
	ZeroPulse = 28 * time.Microsecond
	OnePulse  = 70 * time.Microsecond

	// FrameTime is the longest a well-behaved sensor takes from release to
	// the last bit: three acknowledgement phases and forty bits of up to
	// 50us low plus 70us high, rounded up.
	FrameTime = 5 * time.Millisecond

	ackPulse = 80 * time.Microsecond
)

// Timing holds the host-side timing of a transaction.
type Timing struct {
	// StartLow is how long the host holds the line low to request data.
	StartLow time.Duration `yaml:"start_low"`
	// StartRelease is how long the host drives high before releasing.
	StartRelease time.Duration `yaml:"start_release"`
	// SampleDelay is measured from each rising edge to the sample point.
	SampleDelay time.Duration `yaml:"sample_delay"`
	// ResponseTimeout bounds each wait for the sensor's acknowledgement.
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	// BitTimeout bounds each wait for an edge inside the data stream.
	BitTimeout time.Duration `yaml:"bit_timeout"`
	// TransactionTimeout bounds the whole call, lock wait excluded.
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
	// DisableGC turns the collector off for the duration of a transaction.
	DisableGC bool `yaml:"disable_gc"`
}

// DefaultTiming returns the datasheet timing: a 19ms start signal, a 30us
// sample point and bounded waits on every edge.
func DefaultTiming() Timing {
	return Timing{
		StartLow:           19 * time.Millisecond,
		StartRelease:       30 * time.Microsecond,
		SampleDelay:        30 * time.Microsecond,
		ResponseTimeout:    500 * time.Microsecond,
		BitTimeout:         200 * time.Microsecond,
		TransactionTimeout: 50 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultTiming.
func (t Timing) WithDefaults() Timing {
	def := DefaultTiming()
	if t.StartLow == 0 {
		t.StartLow = def.StartLow
	}
	if t.StartRelease == 0 {
		t.StartRelease = def.StartRelease
	}
	if t.SampleDelay == 0 {
		t.SampleDelay = def.SampleDelay
	}
	if t.ResponseTimeout == 0 {
		t.ResponseTimeout = def.ResponseTimeout
	}
	if t.BitTimeout == 0 {
		t.BitTimeout = def.BitTimeout
	}
	if t.TransactionTimeout == 0 {
		t.TransactionTimeout = def.TransactionTimeout
	}
	return t
}

// Validate rejects timings that break the protocol rather than merely
// slowing it down.
func (t Timing) Validate() error {
	if t.StartLow < MinStartLow {
		return errors.Wrapf(ErrInvalidTiming, "start low %s is shorter than %s", t.StartLow, MinStartLow)
	}
	if t.StartRelease <= 0 {
		return errors.Wrapf(ErrInvalidTiming, "start release %s must be positive", t.StartRelease)
	}
	if t.SampleDelay <= ZeroPulse || t.SampleDelay >= OnePulse {
		return errors.Wrapf(ErrInvalidTiming, "sample delay %s must fall between %s and %s",
			t.SampleDelay, ZeroPulse, OnePulse)
	}
	if t.ResponseTimeout <= ackPulse {
		return errors.Wrapf(ErrInvalidTiming, "response timeout %s must exceed %s", t.ResponseTimeout, ackPulse)
	}
	if t.BitTimeout <= OnePulse {
		return errors.Wrapf(ErrInvalidTiming, "bit timeout %s must exceed %s", t.BitTimeout, OnePulse)
	}
	if t.TransactionTimeout <= t.MinBudget() {
		return errors.Wrapf(ErrInvalidTiming, "transaction timeout %s must exceed %s",
			t.TransactionTimeout, t.MinBudget())
	}
	return nil
}

// MinBudget is the shortest deadline a transaction is started with: the start
// signal plus FrameTime.
func (t Timing) MinBudget() time.Duration {
	return t.StartLow + t.StartRelease + FrameTime
}

func micros(d time.Duration) int {
	return int((d + time.Microsecond - 1) / time.Microsecond)
}
