package server

import (
	"sync"
	"time"

	"github.com/afroash/dht11-httpd/internal/models"
)

// LatestStore is a single-slot store holding the most recent transaction
// result. Older results are not kept.
type LatestStore struct {
	mutex     sync.RWMutex
	latest    *models.Result
	lastValid time.Time

	totalResults int64
	failures     int64
}

// NewLatestStore creates an empty store
func NewLatestStore() *LatestStore {
	return &LatestStore{}
}

// Record replaces the stored result
func (ls *LatestStore) Record(result models.Result) {
	stored := copyResult(result)

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	ls.latest = &stored
	ls.totalResults++
	if result.Failed() {
		ls.failures++
	} else {
		ls.lastValid = result.StartedAt
	}
}

// Latest returns a copy of the stored result
func (ls *LatestStore) Latest() (models.Result, bool) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if ls.latest == nil {
		return models.Result{}, false
	}
	// Return a copy, not a pointer to internal data
	return copyResult(*ls.latest), true
}

// Stats returns statistics about the store
func (ls *LatestStore) Stats() StoreStats {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	stats := StoreStats{
		TotalResults: ls.totalResults,
		Failures:     ls.failures,
		LastValid:    ls.lastValid,
	}
	if ls.latest != nil {
		stats.LastResult = ls.latest.StartedAt
		stats.LastOutcome = ls.latest.Outcome
	}
	return stats
}

// StoreStats contains statistics about the latest store
type StoreStats struct {
	TotalResults int64          `json:"total_results"`
	Failures     int64          `json:"failures"`
	LastOutcome  models.Outcome `json:"last_outcome,omitempty"`
	LastResult   time.Time      `json:"last_result,omitempty"`
	LastValid    time.Time      `json:"last_valid,omitempty"`
}

func copyResult(r models.Result) models.Result {
	if r.Reading != nil {
		reading := *r.Reading
		r.Reading = &reading
	}
	return r
}
