package sensor

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/dht"
	"github.com/afroash/dht11-httpd/internal/models"
)

// Recorder receives the result of every transaction. Implementations must
// not block.
type Recorder interface {
	Record(result models.Result)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(models.Result)

func (f RecorderFunc) Record(result models.Result) { f(result) }

// stateReporter is implemented by sensors that expose the decoder state.
type stateReporter interface {
	State() (dht.State, int)
}

// Reader runs one transaction per call and fans the result out to its
// recorders. It never polls in the background.
type Reader struct {
	sensor     DHTSensor
	sensorInfo *models.SensorInfo
	logger     zerolog.Logger
	clock      clock.Clock
	recorders  []Recorder
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithClock sets the clock used to stamp results.
func WithClock(c clock.Clock) ReaderOption {
	return func(r *Reader) { r.clock = c }
}

// WithRecorders adds recorders that see every result.
func WithRecorders(recorders ...Recorder) ReaderOption {
	return func(r *Reader) { r.recorders = append(r.recorders, recorders...) }
}

// NewReader creates a new sensor reader
func NewReader(sensor DHTSensor, info *models.SensorInfo, logger zerolog.Logger, opts ...ReaderOption) *Reader {
	r := &Reader{
		sensor:     sensor,
		sensorInfo: info,
		logger:     logger,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadOnce performs a single transaction. The returned error is non-nil only
// for hard failures; a frame with a bad checksum comes back in the result
// with Outcome set to OutcomeChecksumMismatch.
func (r *Reader) ReadOnce(ctx context.Context) (models.Result, error) {
	started := r.clock.Now()
	reading, err := r.sensor.Read(ctx)
	elapsed := r.clock.Since(started)

	result := models.Result{
		ID:        uuid.NewString(),
		SensorID:  r.sensorInfo.ID,
		StartedAt: started,
		Duration:  elapsed,
		Outcome:   Classify(reading, err),
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		reading.SensorID = r.sensorInfo.ID
		reading.Timestamp = started
		reading.Duration = elapsed
		result.Reading = &reading
	}

	r.log(result, err)
	for _, rec := range r.recorders {
		rec.Record(result)
	}
	return result, err
}

func (r *Reader) log(result models.Result, err error) {
	switch result.Outcome {
	case models.OutcomeOK:
		r.logger.Debug().
			Str("id", result.ID).
			Dur("duration", result.Duration).
			Msgf("read from sensor: %s", result.Reading.String())
		if perr := result.Reading.Plausible(); perr != nil {
			r.logger.Warn().
				Err(perr).
				Str("id", result.ID).
				Hex("frame", frameBytes(result.Reading)).
				Msg("reading outside rated range")
		}
	case models.OutcomeChecksumMismatch:
		r.logger.Error().
			Str("id", result.ID).
			Hex("frame", frameBytes(result.Reading)).
			Uint8("expected", dht.Checksum(result.Reading.Frame())).
			Msg("invalid checksum")
	default:
		r.logger.Error().
			Err(err).
			Str("id", result.ID).
			Str("outcome", string(result.Outcome)).
			Dur("duration", result.Duration).
			Msg("failed to read from sensor")
	}
}

func frameBytes(r *models.Reading) []byte {
	f := r.Frame()
	return f[:]
}

// Classify maps the outcome of a transaction onto the outcomes recorded in
// metrics and the journal.
func Classify(reading models.Reading, err error) models.Outcome {
	switch {
	case err == nil && reading.Valid:
		return models.OutcomeOK
	case err == nil:
		return models.OutcomeChecksumMismatch
	case errors.Is(err, dht.ErrNoResponse):
		return models.OutcomeNoResponse
	case errors.Is(err, dht.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.OutcomeTimeout
	default:
		return models.OutcomeError
	}
}

// State reports the decoder state, or idle for sensors that do not expose it.
func (r *Reader) State() (dht.State, int) {
	if sr, ok := r.sensor.(stateReporter); ok {
		return sr.State()
	}
	return dht.StateIdle, 0
}

// Info returns the metadata of the sensor being read.
func (r *Reader) Info() *models.SensorInfo {
	return r.sensorInfo
}

// Close stops the reader and cleans up resources
func (r *Reader) Close() error {
	return r.sensor.Close()
}
