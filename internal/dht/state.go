package dht

import "fmt"

// State is the decoder's position in a transaction:
// Idle -> Handshaking -> Receiving(0..4) -> Assembled -> Idle.
type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateReceiving
	StateAssembled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateReceiving:
		return "receiving"
	case StateAssembled:
		return "assembled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
