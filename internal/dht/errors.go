package dht

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoResponse means the sensor never acknowledged the start signal.
	ErrNoResponse = errors.New("dht: no response to start signal")

	// ErrTimeout means an edge inside the data stream never came, or the
	// transaction deadline ran out first.
	ErrTimeout = errors.New("dht: timed out waiting for data edge")

	// ErrChecksumMismatch is never returned by the decoder itself; a frame
	// that fails its checksum comes back as a Reading with Valid unset.
	// Callers that want to treat it as a failure can use this value.
	ErrChecksumMismatch = errors.New("dht: checksum mismatch")

	// ErrInvalidTiming is returned for a Timing that violates the protocol.
	ErrInvalidTiming = errors.New("dht: invalid timing")
)

// TransactionError describes where a transaction was aborted. It unwraps to
// ErrNoResponse or ErrTimeout.
type TransactionError struct {
	Kind  error
	State State
	// Byte and Bit locate the failure in the frame, -1 when not receiving.
	Byte int
	Bit  int
	// Edge is the level the decoder was waiting for.
	Edge string
	// Waited is how long the failing wait spun.
	Waited time.Duration
	// Cause is context.DeadlineExceeded when the transaction deadline cut a
	// wait short, or the context error when the caller gave up between bytes.
	Cause error
}

func (e *TransactionError) Error() string {
	msg := e.Kind.Error()
	if e.Byte >= 0 {
		msg = fmt.Sprintf("%s (byte %d bit %d)", msg, e.Byte, e.Bit)
	}
	if e.Edge != "" {
		msg = fmt.Sprintf("%s: line not %s after %s", msg, e.Edge, e.Waited)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Kind }
