package models

import "time"

// Outcome classifies how a sensor transaction ended.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeChecksumMismatch Outcome = "checksum_mismatch"
	OutcomeNoResponse       Outcome = "no_response"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeError            Outcome = "error"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeOK,
	OutcomeChecksumMismatch,
	OutcomeNoResponse,
	OutcomeTimeout,
	OutcomeError,
}

// Result records one transaction. Reading is set whenever a complete frame
// was received, including frames that failed their checksum.
type Result struct {
	ID        string        `json:"id"`
	SensorID  string        `json:"sensor_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Reading   *Reading      `json:"reading,omitempty"`
}

// Failed reports whether the transaction produced no usable reading.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeOK
}
