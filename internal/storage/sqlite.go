package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

// Store defines the persistence used by the dashboard server
type Store interface {
	Close() error
	Migrate() error
	InsertRecommendation(rec *models.RecommendationRecord) error
	InsertBatch(recs []*models.RecommendationRecord) error
	GetLastIrrigation() (*models.RecommendationRecord, error)
	GetRecentRecommendations(limit int) ([]*models.RecommendationRecord, error)
	DeleteOlderThan(days int) (int64, error)
	GetCached(ctx context.Context, key string) ([]byte, bool, error)
	PutCached(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	DeleteExpiredCache() (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// issued_at is stored with millisecond precision so text ordering matches time ordering.
const timestampLayout = "2006-01-02 15:04:05.000"

// SQLiteStore keeps the recommendation audit log and the weather response cache
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalRecommendations int64     `json:"totalRecommendations"`
	IrrigationCount      int64     `json:"irrigationCount"`
	OldestIssued         time.Time `json:"oldestIssued,omitzero"`
	NewestIssued         time.Time `json:"newestIssued,omitzero"`
	CachedEntries        int64     `json:"cachedEntries"`
	DatabaseSizeMB       float64   `json:"databaseSizeMb"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Apply performance pragmas for SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

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
	CREATE TABLE IF NOT EXISTS recommendations (
		id TEXT PRIMARY KEY,
		city TEXT NOT NULL,
		crop TEXT NOT NULL,
		should_irrigate INTEGER NOT NULL,
		irrigation_status TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		reason TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recommendations_issued ON recommendations(issued_at DESC);
	CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(irrigation_status, issued_at DESC);

	CREATE TABLE IF NOT EXISTS weather_cache (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_weather_cache_expires ON weather_cache(expires_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertRecommendationSQL = `
	INSERT INTO recommendations (id, city, crop, should_irrigate, irrigation_status, confidence, reason, issued_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertRecommendation inserts a single audit record
func (s *SQLiteStore) InsertRecommendation(rec *models.RecommendationRecord) error {
	_, err := s.db.Exec(insertRecommendationSQL, recommendationArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple audit records in a single transaction
func (s *SQLiteStore) InsertBatch(recs []*models.RecommendationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertRecommendationSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.Exec(recommendationArgs(rec)...); err != nil {
			return fmt.Errorf("failed to insert recommendation in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(recs)).Msg("Batch insert completed")
	return nil
}

func recommendationArgs(rec *models.RecommendationRecord) []any {
	return []any{
		rec.ID,
		rec.City,
		rec.Crop,
		rec.ShouldIrrigate,
		string(rec.IrrigationStatus),
		rec.Confidence,
		rec.Reason,
		rec.IssuedAt.UTC().Format(timestampLayout),
	}
}

const selectRecommendationSQL = `
	SELECT id, city, crop, should_irrigate, irrigation_status, confidence, reason, issued_at
	FROM recommendations
`

// GetLastIrrigation returns the most recent record that switched the pump on,
// or nil when there is none
func (s *SQLiteStore) GetLastIrrigation() (*models.RecommendationRecord, error) {
	row := s.db.QueryRow(selectRecommendationSQL+`
		WHERE irrigation_status = ?
		ORDER BY issued_at DESC, rowid DESC
		LIMIT 1
	`, string(models.IrrigationOn))

	rec, err := s.scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last irrigation: %w", err)
	}
	return rec, nil
}

// GetRecentRecommendations returns up to limit records, newest first
func (s *SQLiteStore) GetRecentRecommendations(limit int) ([]*models.RecommendationRecord, error) {
	rows, err := s.db.Query(selectRecommendationSQL+`
		ORDER BY issued_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*models.RecommendationRecord
	for rows.Next() {
		rec, err := s.scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, nil
}

// DeleteOlderThan removes audit records issued more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec(
		"DELETE FROM recommendations WHERE issued_at < ?",
		cutoff.Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old recommendations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old recommendations")

	return deleted, nil
}

// GetCached returns the payload stored under key if it has not expired
func (s *SQLiteStore) GetCached(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM weather_cache WHERE key = ? AND expires_at > ?",
		key, s.now().UnixMilli(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return payload, true, nil
}

// PutCached stores payload under key for ttl, replacing any previous entry
func (s *SQLiteStore) PutCached(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_cache (key, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, key, payload, s.now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCache purges expired weather cache rows
func (s *SQLiteStore) DeleteExpiredCache() (int64, error) {
	result, err := s.db.Exec("DELETE FROM weather_cache WHERE expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN irrigation_status = ? THEN 1 ELSE 0 END), 0)
		FROM recommendations
	`, string(models.IrrigationOn)).Scan(&stats.TotalRecommendations, &stats.IrrigationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count recommendations: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM weather_cache").Scan(&stats.CachedEntries); err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}

	if stats.TotalRecommendations > 0 {
		var oldestStr, newestStr string
		err = s.db.QueryRow("SELECT MIN(issued_at), MAX(issued_at) FROM recommendations").
			Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.OldestIssued, _ = s.parseTimestamp(oldestStr)
		stats.NewestIssued, _ = s.parseTimestamp(newestStr)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// scanRecommendation scans one row into a RecommendationRecord
func (s *SQLiteStore) scanRecommendation(row interface{ Scan(...any) error }) (*models.RecommendationRecord, error) {
	var rec models.RecommendationRecord
	var status, issuedAt string

	err := row.Scan(
		&rec.ID,
		&rec.City,
		&rec.Crop,
		&rec.ShouldIrrigate,
		&status,
		&rec.Confidence,
		&rec.Reason,
		&issuedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.IrrigationStatus = models.IrrigationStatus(status)
	rec.IssuedAt, err = s.parseTimestamp(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued_at: %w", err)
	}
	return &rec, nil
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func (s *SQLiteStore) parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timestampLayout,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
