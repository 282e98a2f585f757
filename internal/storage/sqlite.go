package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/models"
)

// timeFormat sorts lexically in the same order as time, so range queries and
// retention can compare strings.
const timeFormat = "2006-01-02 15:04:05.000"

// Store defines the interface for the transaction journal. It records how
// each transaction ended; reading values are never stored.
type Store interface {
	Close() error
	Migrate() error
	InsertResult(result *models.Result) error
	InsertBatch(results []*models.Result) error
	GetRecent(sensorID string, limit int) ([]*models.Result, error)
	GetResultsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Result, error)
	OutcomeStats(sensorID string, since time.Time) (*OutcomeStats, error)
	DeleteBefore(cutoff time.Time) (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of transaction outcomes
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OutcomeStats aggregates the journal since a point in time
type OutcomeStats struct {
	Since         time.Time                `json:"since"`
	Total         int64                    `json:"total"`
	Counts        map[models.Outcome]int64 `json:"counts"`
	AvgDurationUS float64                  `json:"avg_duration_us"`
	MaxDurationUS int64                    `json:"max_duration_us"`
	LastFailure   time.Time                `json:"last_failure,omitempty"`
}

// SuccessRate is the fraction of transactions that produced a valid reading.
func (s *OutcomeStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Counts[models.OutcomeOK]) / float64(s.Total)
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalTransactions int64     `json:"total_transactions"`
	Oldest            time.Time `json:"oldest,omitempty"`
	Newest            time.Time `json:"newest,omitempty"`
	DatabaseSizeMB    float64   `json:"database_size_mb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("transaction journal initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		sensor_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_us INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_sensor_time ON transactions(sensor_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_time ON transactions(started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("database schema migrated")
	return nil
}

const insertResult = `
	INSERT INTO transactions (id, sensor_id, started_at, duration_us, outcome, error)
	VALUES (?, ?, ?, ?, ?, ?)
`

// InsertResult records a single transaction
func (s *SQLiteStore) InsertResult(result *models.Result) error {
	if _, err := s.db.Exec(insertResult, resultArgs(result)...); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// InsertBatch records multiple transactions in a single database transaction
func (s *SQLiteStore) InsertBatch(results []*models.Result) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertResult)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, result := range results {
		if _, err := stmt.Exec(resultArgs(result)...); err != nil {
			return fmt.Errorf("failed to insert transaction in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(results)).Msg("batch insert completed")
	return nil
}

func resultArgs(r *models.Result) []interface{} {
	return []interface{}{
		r.ID,
		r.SensorID,
		r.StartedAt.UTC().Format(timeFormat),
		r.Duration.Microseconds(),
		string(r.Outcome),
		r.Error,
	}
}

// GetRecent returns the newest transactions for a sensor, newest first.
// An empty sensorID matches every sensor.
func (s *SQLiteStore) GetRecent(sensorID string, limit int) ([]*models.Result, error) {
	query := `
		SELECT id, sensor_id, started_at, duration_us, outcome, error
		FROM transactions
		WHERE (? = '' OR sensor_id = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, sensorID, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// GetResultsInRange returns transactions started within [start, end], newest first
func (s *SQLiteStore) GetResultsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Result, error) {
	query := `
		SELECT id, sensor_id, started_at, duration_us, outcome, error
		FROM transactions
		WHERE (? = '' OR sensor_id = ?) AND started_at BETWEEN ? AND ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query,
		sensorID, sensorID,
		start.UTC().Format(timeFormat),
		end.UTC().Format(timeFormat),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// OutcomeStats counts outcomes of transactions started at or after since
func (s *SQLiteStore) OutcomeStats(sensorID string, since time.Time) (*OutcomeStats, error) {
	stats := &OutcomeStats{
		Since:  since,
		Counts: make(map[models.Outcome]int64, len(models.Outcomes)),
	}
	for _, o := range models.Outcomes {
		stats.Counts[o] = 0
	}
	sinceStr := since.UTC().Format(timeFormat)

	rows, err := s.db.Query(`
		SELECT outcome, COUNT(*)
		FROM transactions
		WHERE (? = '' OR sensor_id = ?) AND started_at >= ?
		GROUP BY outcome
	`, sensorID, sensorID, sinceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		stats.Counts[models.Outcome(outcome)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if stats.Total == 0 {
		return stats, nil
	}

	var avg sql.NullFloat64
	var maxDur sql.NullInt64
	err = s.db.QueryRow(`
		SELECT AVG(duration_us), MAX(duration_us)
		FROM transactions
		WHERE (? = '' OR sensor_id = ?) AND started_at >= ?
	`, sensorID, sensorID, sinceStr).Scan(&avg, &maxDur)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate durations: %w", err)
	}
	stats.AvgDurationUS = avg.Float64
	stats.MaxDurationUS = maxDur.Int64

	var lastFailure sql.NullString
	err = s.db.QueryRow(`
		SELECT MAX(started_at)
		FROM transactions
		WHERE (? = '' OR sensor_id = ?) AND started_at >= ? AND outcome != ?
	`, sensorID, sensorID, sinceStr, string(models.OutcomeOK)).Scan(&lastFailure)
	if err != nil {
		return nil, fmt.Errorf("failed to find last failure: %w", err)
	}
	if lastFailure.Valid {
		stats.LastFailure, _ = parseTimestamp(lastFailure.String)
	}

	return stats, nil
}

// DeleteBefore removes transactions started before cutoff
func (s *SQLiteStore) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM transactions WHERE started_at < ?",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old transactions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Debug().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("deleted old transactions")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&stats.TotalTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	if stats.TotalTransactions > 0 {
		var oldestStr, newestStr string
		err = s.db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM transactions").
			Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.Oldest, _ = parseTimestamp(oldestStr)
		stats.Newest, _ = parseTimestamp(newestStr)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to read page size: %w", err)
	}
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// scanResults scans multiple rows into a slice of results
func scanResults(rows *sql.Rows) ([]*models.Result, error) {
	var results []*models.Result

	for rows.Next() {
		var r models.Result
		var startedAt, outcome string
		var durationUS int64

		err := rows.Scan(&r.ID, &r.SensorID, &startedAt, &durationUS, &outcome, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		r.StartedAt, err = parseTimestamp(startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		r.Duration = time.Duration(durationUS) * time.Microsecond
		r.Outcome = models.Outcome(outcome)

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeFormat,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
