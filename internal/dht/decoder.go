// Package dht decodes the DHT11 single-wire protocol: the host start signal,
// the sensor acknowledgement, 40 edge-sampled data bits and the checksum.
package dht

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/afroash/dht11-httpd/internal/gpio"
	"github.com/afroash/dht11-httpd/internal/models"
)

// Decoder runs transactions against one sensor line. Read is safe for
// concurrent use; transactions are serialised on the line.
type Decoder struct {
	pin    gpio.Pin
	clock  gpio.Clock
	timing Timing

	line  *semaphore.Weighted
	state atomic.Int32
	index atomic.Int32

	// deadline bounds every wait of the running transaction. Only touched
	// while holding line.
	deadline time.Time
}

// NewDecoder validates timing and returns a decoder for pin. Zero timing
// fields take their defaults.
func NewDecoder(pin gpio.Pin, clock gpio.Clock, timing Timing) (*Decoder, error) {
	if pin == nil {
		return nil, errors.New("dht: nil pin")
	}
	if clock == nil {
		return nil, errors.New("dht: nil clock")
	}
	timing = timing.WithDefaults()
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{
		pin:    pin,
		clock:  clock,
		timing: timing,
		line:   semaphore.NewWeighted(1),
	}, nil
}

// Timing returns the effective timing.
func (d *Decoder) Timing() Timing { return d.timing }

// State reports where the current transaction is, and the byte being
// received when in StateReceiving.
func (d *Decoder) State() (State, int) {
	return State(d.state.Load()), int(d.index.Load())
}

// Read performs one full transaction. It waits for the line while ctx
// allows, then holds it for the whole exchange. The transaction is bounded by
// Timing.TransactionTimeout or the context deadline, whichever is sooner. If
// that leaves less than Timing.MinBudget the line is never driven and the
// error is ErrTimeout with cause context.DeadlineExceeded, as it is when the
// deadline runs out mid-transaction.
//
// A frame with a bad checksum is returned with Valid unset and a nil error.
// ErrNoResponse and ErrTimeout abort the transaction with no reading.
func (d *Decoder) Read(ctx context.Context) (models.Reading, error) {
	if err := d.line.Acquire(ctx, 1); err != nil {
		return models.Reading{}, errors.Wrap(err, "dht: waiting for sensor line")
	}
	defer d.line.Release(1)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if d.timing.DisableGC {
		defer debug.SetGCPercent(debug.SetGCPercent(-1))
	}

	now := d.clock.Now()
	d.deadline = now.Add(d.timing.TransactionTimeout)
	if dl, ok := ctx.Deadline(); ok {
		if byCtx := now.Add(time.Until(dl)); byCtx.Before(d.deadline) {
			d.deadline = byCtx
		}
	}
	defer func() { d.deadline = time.Time{} }()

	if d.deadline.Sub(now) < d.timing.MinBudget() {
		return models.Reading{}, &TransactionError{
			Kind:  ErrTimeout,
			State: StateIdle,
			Byte:  -1,
			Cause: context.DeadlineExceeded,
		}
	}

	reading, err := d.transact(ctx)
	if rerr := d.release(); rerr != nil {
		err = multierr.Append(err, rerr)
	}
	d.setState(StateIdle, 0)
	if err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}

func (d *Decoder) transact(ctx context.Context) (models.Reading, error) {
	d.setState(StateHandshaking, 0)
	if err := d.initiate(); err != nil {
		return models.Reading{}, err
	}

	var frame [FrameSize]uint8
	for i := range frame {
		if err := ctx.Err(); err != nil {
			return models.Reading{}, &TransactionError{
				Kind: ErrTimeout, State: StateReceiving, Byte: i, Cause: err,
			}
		}
		d.setState(StateReceiving, i)
		b, err := d.readByte()
		if err != nil {
			var te *TransactionError
			if errors.As(err, &te) {
				te.Byte = i
			}
			return models.Reading{}, err
		}
		frame[i] = b
	}

	d.setState(StateAssembled, 0)
	return Decode(frame), nil
}

// initiate sends the start signal and consumes the sensor's acknowledgement,
// leaving the line at the falling edge that opens the first data bit.
func (d *Decoder) initiate() error {
	if err := d.pin.SetDirection(gpio.Output); err != nil {
		return errors.Wrap(err, "dht: start signal")
	}
	if err := d.pin.SetLevel(gpio.Low); err != nil {
		return errors.Wrap(err, "dht: start signal")
	}
	d.pin.DelayMicroseconds(micros(d.timing.StartLow))

	if err := d.pin.SetLevel(gpio.High); err != nil {
		return errors.Wrap(err, "dht: start signal")
	}
	d.pin.DelayMicroseconds(micros(d.timing.StartRelease))
	if err := d.pin.SetDirection(gpio.Input); err != nil {
		return errors.Wrap(err, "dht: release line")
	}

	// ack low, ack high, then the first bit's low preamble
	for _, level := range [...]gpio.Level{gpio.Low, gpio.High, gpio.Low} {
		waited, ok, err := d.waitFor(level, d.timing.ResponseTimeout)
		if err != nil {
			return err
		}
		if !ok {
			te := &TransactionError{
				Kind:   ErrNoResponse,
				State:  StateHandshaking,
				Byte:   -1,
				Edge:   level.String(),
				Waited: waited,
			}
			if d.pastDeadline() {
				te.Kind, te.Cause = ErrTimeout, context.DeadlineExceeded
			}
			return te
		}
	}
	return nil
}

// readByte samples eight bits, most significant first. For each bit it waits
// for the rising edge, samples after SampleDelay (high means the long "1"
// pulse), then waits for the line to fall again.
func (d *Decoder) readByte() (uint8, error) {
	var b uint8
	sample := micros(d.timing.SampleDelay)
	for bit := 0; bit < 8; bit++ {
		waited, ok, err := d.waitFor(gpio.High, d.timing.BitTimeout)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, d.bitTimeout(bit, gpio.High, waited)
		}

		d.pin.DelayMicroseconds(sample)
		level, err := d.pin.ReadLevel()
		if err != nil {
			return 0, errors.Wrap(err, "dht: sample bit")
		}
		b <<= 1
		if level == gpio.High {
			b |= 1
		}

		waited, ok, err = d.waitFor(gpio.Low, d.timing.BitTimeout)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, d.bitTimeout(bit, gpio.Low, waited)
		}
	}
	return b, nil
}

func (d *Decoder) bitTimeout(bit int, edge gpio.Level, waited time.Duration) error {
	te := &TransactionError{
		Kind:   ErrTimeout,
		State:  StateReceiving,
		Bit:    bit,
		Edge:   edge.String(),
		Waited: waited,
	}
	if d.pastDeadline() {
		te.Cause = context.DeadlineExceeded
	}
	return te
}

// pastDeadline reports whether an expired wait was cut short by the
// transaction deadline rather than its own phase timeout.
func (d *Decoder) pastDeadline() bool {
	return !d.deadline.IsZero() && !d.clock.Now().Before(d.deadline)
}

// waitFor spins until the line reads level or the wait runs out, whichever of
// timeout and the transaction deadline comes first. ok is false on expiry.
func (d *Decoder) waitFor(level gpio.Level, timeout time.Duration) (waited time.Duration, ok bool, err error) {
	start := d.clock.Now()
	limit := start.Add(timeout)
	if !d.deadline.IsZero() && d.deadline.Before(limit) {
		limit = d.deadline
	}
	for {
		got, rerr := d.pin.ReadLevel()
		if rerr != nil {
			return 0, false, errors.Wrap(rerr, "dht: read line")
		}
		now := d.clock.Now()
		if got == level {
			return now.Sub(start), true, nil
		}
		if !now.Before(limit) {
			return now.Sub(start), false, nil
		}
	}
}

// release returns the line to the idle pulled-up input state.
func (d *Decoder) release() error {
	return errors.Wrap(d.pin.SetDirection(gpio.Input), "dht: release line")
}

func (d *Decoder) setState(s State, index int) {
	d.index.Store(int32(index))
	d.state.Store(int32(s))
}
