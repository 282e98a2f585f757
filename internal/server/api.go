package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/dht"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/storage"
)

// APIHandler handles the JSON API
type APIHandler struct {
	reader  SensorReader
	store   ResultStore
	journal Journal
	timeout time.Duration
	version string
	logger  zerolog.Logger
	started time.Time

	writer    WriterStats
	retention RetentionStats
	clients   ClientLister
}

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 1000
)

// NewAPIHandler creates a new API handler
func NewAPIHandler(reader SensorReader, store ResultStore, timeout time.Duration, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		reader:  reader,
		store:   store,
		timeout: timeout,
		version: version,
		logger:  logger,
		started: time.Now(),
	}
}

// NewAPIHandlerWithJournal creates an API handler that also reports journal
// statistics on /api/status and serves /api/transactions
func NewAPIHandlerWithJournal(reader SensorReader, store ResultStore, journal Journal, timeout time.Duration, version string, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(reader, store, timeout, version, logger)
	api.journal = journal
	return api
}

// SetJournalWorkers reports the journal writer and retention cleaner on
// /api/status. Either may be nil.
func (api *APIHandler) SetJournalWorkers(writer WriterStats, retention RetentionStats) {
	api.writer = writer
	api.retention = retention
}

// SetClients reports connected websocket clients on /api/status
func (api *APIHandler) SetClients(clients ClientLister) {
	api.clients = clients
}

// ReadingResponse is the body of /api/reading and /api/latest
type ReadingResponse struct {
	ID        string          `json:"id"`
	Reading   *models.Reading `json:"reading,omitempty"`
	Valid     bool            `json:"valid"`
	Outcome   models.Outcome  `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

func newReadingResponse(result models.Result) ReadingResponse {
	resp := ReadingResponse{
		ID:        result.ID,
		Reading:   result.Reading,
		Outcome:   result.Outcome,
		Error:     result.Error,
		StartedAt: result.StartedAt,
	}
	if result.Reading != nil {
		resp.Valid = result.Reading.Valid
	}
	if result.Outcome == models.OutcomeChecksumMismatch {
		resp.Error = dht.ErrChecksumMismatch.Error()
	}
	return resp
}

// HandleReading runs one transaction and returns it
func (api *APIHandler) HandleReading(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), api.timeout)
	defer cancel()

	result, err := api.reader.ReadOnce(ctx)
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, newReadingResponse(result))
}

// HandleLatest returns the last stored result without touching the sensor
func (api *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	result, ok := api.store.Latest()
	if !ok {
		http.Error(w, "No readings available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newReadingResponse(result))
}

// StatusResponse contains everything /api/status reports
type StatusResponse struct {
	Sensor     *models.SensorInfo    `json:"sensor"`
	Version    string                `json:"version"`
	Uptime     string                `json:"uptime"`
	State      string                `json:"state"`
	StateIndex int                   `json:"state_index"`
	Store      StoreStats         `json:"store"`
	Journal    *JournalStatus     `json:"journal,omitempty"`
	Clients    int                `json:"clients"`
	ClientList []ClientConnection `json:"client_list,omitempty"`
	LastUpdate time.Time          `json:"last_update"`
}

// JournalStatus is the journal section of /api/status. Outcomes cover the
// last 24 hours; a section whose query failed is left out.
type JournalStatus struct {
	Outcomes    *storage.OutcomeStats          `json:"outcomes,omitempty"`
	SuccessRate float64                        `json:"success_rate"`
	Storage     *storage.StorageStats          `json:"storage,omitempty"`
	Writer      *storage.DBWriterStats         `json:"writer,omitempty"`
	Retention   *storage.RetentionCleanerStats `json:"retention,omitempty"`
}

// HandleStatus returns sensor, decoder and store state
func (api *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	info := api.reader.Info()
	state, index := api.reader.State()
	resp := StatusResponse{
		Sensor:     info,
		Version:    api.version,
		Uptime:     time.Since(api.started).Round(time.Second).String(),
		State:      state.String(),
		StateIndex: index,
		Store:      api.store.Stats(),
		LastUpdate: time.Now(),
	}
	if api.clients != nil {
		resp.ClientList = api.clients.GetActiveClients()
		resp.Clients = len(resp.ClientList)
	}
	if api.journal != nil {
		resp.Journal = api.journalStatus(info.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *APIHandler) journalStatus(sensorID string) *JournalStatus {
	status := &JournalStatus{}

	outcomes, err := api.journal.OutcomeStats(sensorID, time.Now().Add(-24*time.Hour))
	if err != nil {
		api.logger.Error().Err(err).Msg("failed to read journal stats")
	} else {
		status.Outcomes = outcomes
		status.SuccessRate = outcomes.SuccessRate()
	}

	storageStats, err := api.journal.GetStorageStats()
	if err != nil {
		api.logger.Error().Err(err).Msg("failed to read journal storage stats")
	} else {
		status.Storage = storageStats
	}

	if api.writer != nil {
		ws := api.writer.Stats()
		status.Writer = &ws
	}
	if api.retention != nil {
		rs := api.retention.Stats()
		status.Retention = &rs
	}
	return status
}

// TransactionsResponse is the body of /api/transactions
type TransactionsResponse struct {
	SensorID     string           `json:"sensor_id"`
	Count        int              `json:"count"`
	Transactions []*models.Result `json:"transactions"`
}

// HandleTransactions lists journalled transactions, newest first. limit
// defaults to 50; since and until take RFC 3339 times and select a range.
func (api *APIHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if api.journal == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	limit := defaultTransactionLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > maxTransactionLimit {
			parsed = maxTransactionLimit
		}
		limit = parsed
	}

	since, err := parseTimeParam(query.Get("since"))
	if err != nil {
		http.Error(w, "since must be an RFC 3339 time", http.StatusBadRequest)
		return
	}
	until, err := parseTimeParam(query.Get("until"))
	if err != nil {
		http.Error(w, "until must be an RFC 3339 time", http.StatusBadRequest)
		return
	}

	sensorID := api.reader.Info().ID
	var results []*models.Result
	if since.IsZero() && until.IsZero() {
		results, err = api.journal.GetRecent(sensorID, limit)
	} else {
		if until.IsZero() {
			until = time.Now()
		}
		results, err = api.journal.GetResultsInRange(sensorID, since, until, limit)
	}
	if err != nil {
		api.logger.Error().Err(err).Msg("failed to query journal")
		http.Error(w, "Failed to query journal", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*models.Result{}
	}

	writeJSON(w, http.StatusOK, TransactionsResponse{
		SensorID:     sensorID,
		Count:        len(results),
		Transactions: results,
	})
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// HandleHealth reports liveness
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": api.version,
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
