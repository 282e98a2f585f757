package server

import (
	"context"
	"time"

	"github.com/afroash/dht11-httpd/internal/dht"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/storage"
)

// SensorReader runs one sensor transaction per call
// sensor.Reader implements this interface
type SensorReader interface {
	// ReadOnce returns a non-nil error only for hard failures; a frame with
	// a bad checksum comes back in the result.
	ReadOnce(ctx context.Context) (models.Result, error)

	// State reports the decoder's position in the running transaction
	State() (dht.State, int)

	// Info returns the metadata of the sensor being read
	Info() *models.SensorInfo
}

// ResultStore keeps the most recent transaction result
// LatestStore implements this interface
type ResultStore interface {
	// Record replaces the stored result
	Record(result models.Result)

	// Latest returns a copy of the stored result, false before the first one
	Latest() (models.Result, bool)

	// Stats returns statistics about the store
	Stats() StoreStats
}

// Journal answers queries against the transaction journal
// storage.SQLiteStore implements this interface
type Journal interface {
	OutcomeStats(sensorID string, since time.Time) (*storage.OutcomeStats, error)
	GetStorageStats() (*storage.StorageStats, error)
	GetRecent(sensorID string, limit int) ([]*models.Result, error)
	GetResultsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Result, error)
}

// WriterStats is implemented by storage.DBWriter
type WriterStats interface {
	Stats() storage.DBWriterStats
}

// RetentionStats is implemented by storage.RetentionCleaner
type RetentionStats interface {
	Stats() storage.RetentionCleanerStats
}

// ClientLister lists the connected websocket clients
// Handler implements this interface
type ClientLister interface {
	GetActiveClients() []ClientConnection
}
