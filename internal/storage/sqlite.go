// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/supplychain-anchor/internal/metrics"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager wires database operation metrics
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// CreateEvent persists a new event
func (s *SQLiteStorage) CreateEvent(ctx context.Context, event *models.Event) error {
	start := time.Now()

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event metadata", err.Error())
	}

	query := `
		INSERT INTO events
		(id, entity_type, entity_id, event_type, timestamp, description,
		 metadata, severity, actor, location, display_name, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.EntityType, event.EntityID, event.EventType,
		event.Timestamp.UTC(), event.Description, string(metadataJSON),
		event.Severity, event.Actor, event.Location,
		event.DisplayName, event.IPAddress, event.UserAgent, event.CreatedAt.UTC())

	s.recordOperation("insert_event", start, err)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}
	return nil
}

// GetEvent retrieves an event by ID
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, entity_type, entity_id, event_type, timestamp, description,
		       metadata, severity, actor, location, display_name, ip_address, user_agent, created_at
		FROM events WHERE id = ?
	`
	return scanEvent(s.db.QueryRowContext(ctx, query, id))
}

// GetEvents retrieves events matching a filter
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `
		SELECT id, entity_type, entity_id, event_type, timestamp, description,
		       metadata, severity, actor, location, display_name, ip_address, user_agent, created_at
		FROM events
	`
	where, args := buildEventFilter(filter, "?")
	query += where + " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventCount counts events matching a filter
func (s *SQLiteStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	where, args := buildEventFilter(filter, "?")
	query := "SELECT COUNT(*) FROM events" + where

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// UpdateEventDescription mutates a stored payload in place (tamper simulation)
func (s *SQLiteStorage) UpdateEventDescription(ctx context.Context, id, description string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE events SET description = ? WHERE id = ?", description, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event", err.Error())
	}
	return nil
}

// CreateIntegrityRecord persists a new integrity record
func (s *SQLiteStorage) CreateIntegrityRecord(ctx context.Context, record *models.IntegrityRecord) error {
	start := time.Now()

	query := `
		INSERT INTO integrity_records
		(event_id, canonical_hash, hash_version, integrity_status, anchor_reference,
		 anchor_block, submitted_at, confirmed_at, retry_count, terminal,
		 last_attempt_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.EventID, record.CanonicalHash, record.HashVersion,
		record.IntegrityStatus, record.AnchorReference, record.AnchorBlock,
		record.SubmittedAt, record.ConfirmedAt, record.RetryCount, record.Terminal,
		record.LastAttemptAt, record.LastError, time.Now().UTC())

	s.recordOperation("insert_integrity", start, err)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save integrity record", err.Error())
	}
	return nil
}

// GetIntegrityRecord retrieves the integrity record for an event
func (s *SQLiteStorage) GetIntegrityRecord(ctx context.Context, eventID string) (*models.IntegrityRecord, error) {
	query := integritySelect + " WHERE event_id = ?"
	return scanIntegrityRecord(s.db.QueryRowContext(ctx, query, eventID))
}

// SetCanonicalHash stores a freshly computed canonical hash
func (s *SQLiteStorage) SetCanonicalHash(ctx context.Context, eventID, hash, version string) error {
	query := `
		UPDATE integrity_records
		SET canonical_hash = ?, hash_version = ?, updated_at = ?
		WHERE event_id = ?
	`
	_, err := s.db.ExecContext(ctx, query, hash, version, time.Now().UTC(), eventID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set canonical hash", err.Error())
	}
	return nil
}

// GetIntegrityRecords lists records matching a filter
func (s *SQLiteStorage) GetIntegrityRecords(ctx context.Context, filter IntegrityFilter) ([]*models.IntegrityRecord, error) {
	where, args := buildIntegrityFilter(filter, "?")
	query := integritySelect + where + " ORDER BY updated_at ASC, event_id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return s.queryIntegrityRecords(ctx, query, args...)
}

// GetDueRecords selects records eligible for submission
func (s *SQLiteStorage) GetDueRecords(ctx context.Context, maxRetries, limit int) ([]*models.IntegrityRecord, error) {
	query := integritySelect + `
		WHERE integrity_status = 'unanchored'
		   OR (integrity_status = 'failed' AND terminal = FALSE AND retry_count < ?)
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return s.queryIntegrityRecords(ctx, query, maxRetries, limit)
}

// GetSubmittedRecords selects records awaiting confirmation
func (s *SQLiteStorage) GetSubmittedRecords(ctx context.Context, limit int) ([]*models.IntegrityRecord, error) {
	query := integritySelect + `
		WHERE integrity_status = 'submitted'
		ORDER BY submitted_at ASC
		LIMIT ?
	`
	return s.queryIntegrityRecords(ctx, query, limit)
}

// ClaimSubmission conditionally transitions a record to submitted
func (s *SQLiteStorage) ClaimSubmission(ctx context.Context, eventID, fromStatus string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'submitted', last_attempt_at = ?, updated_at = ?
		WHERE event_id = ? AND integrity_status = ? AND terminal = FALSE
	`
	return s.conditionalUpdate(ctx, query, at.UTC(), at.UTC(), eventID, fromStatus)
}

// SetAnchorReference records the submission receipt
func (s *SQLiteStorage) SetAnchorReference(ctx context.Context, eventID, anchorRef string, submittedAt time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET anchor_reference = ?, submitted_at = ?, last_error = '', updated_at = ?
		WHERE event_id = ? AND integrity_status = 'submitted'
	`
	return s.conditionalUpdate(ctx, query, anchorRef, submittedAt.UTC(), time.Now().UTC(), eventID)
}

// MarkAnchored conditionally transitions submitted -> anchored
func (s *SQLiteStorage) MarkAnchored(ctx context.Context, eventID string, block uint64, confirmedAt time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'anchored', anchor_block = ?, confirmed_at = ?, last_error = '', updated_at = ?
		WHERE event_id = ? AND integrity_status = 'submitted'
	`
	return s.conditionalUpdate(ctx, query, block, confirmedAt.UTC(), time.Now().UTC(), eventID)
}

// MarkRetryableFailure conditionally transitions submitted -> failed (retryable)
func (s *SQLiteStorage) MarkRetryableFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', retry_count = retry_count + 1,
		    last_error = ?, last_attempt_at = ?, updated_at = ?
		WHERE event_id = ? AND integrity_status = 'submitted'
	`
	return s.conditionalUpdate(ctx, query, lastError, at.UTC(), at.UTC(), eventID)
}

// MarkTerminalFailure transitions a non-anchored record to terminal failed
func (s *SQLiteStorage) MarkTerminalFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', terminal = TRUE,
		    last_error = ?, last_attempt_at = ?, updated_at = ?
		WHERE event_id = ? AND integrity_status != 'anchored'
	`
	return s.conditionalUpdate(ctx, query, lastError, at.UTC(), at.UTC(), eventID)
}

// ReleaseStrandedSubmissions frees submitted records with no persisted receipt
func (s *SQLiteStorage) ReleaseStrandedSubmissions(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', retry_count = retry_count + 1,
		    last_error = 'submission interrupted before receipt was stored', updated_at = ?
		WHERE integrity_status = 'submitted' AND anchor_reference = '' AND last_attempt_at < ?
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), olderThan.UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to release stranded submissions", err.Error())
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// GetIntegrityStats counts records per status
func (s *SQLiteStorage) GetIntegrityStats(ctx context.Context) (*models.IntegrityStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN integrity_status = 'unanchored' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrity_status = 'submitted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrity_status = 'anchored' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrity_status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN terminal = TRUE THEN 1 ELSE 0 END), 0)
		FROM integrity_records
	`
	stats := &models.IntegrityStats{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Unanchored, &stats.Submitted, &stats.Anchored, &stats.Failed, &stats.Terminal)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get integrity stats", err.Error())
	}
	return stats, nil
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM integrity_records").Scan(&stats.TotalIntegrity); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count integrity records", err.Error())
	}
	s.db.QueryRow("SELECT COUNT(*) FROM integrity_records WHERE integrity_status = 'anchored'").Scan(&stats.AnchoredRecords)
	s.db.QueryRow("SELECT COUNT(*) FROM integrity_records WHERE integrity_status IN ('unanchored', 'submitted')").Scan(&stats.PendingRecords)

	var oldest, latest sql.NullTime
	s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM events").Scan(&oldest, &latest)
	if oldest.Valid {
		stats.OldestEvent = &oldest.Time
	}
	if latest.Valid {
		stats.LatestEvent = &latest.Time
	}

	if info, err := os.Stat(s.config.ConnectionString); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

func (s *SQLiteStorage) queryIntegrityRecords(ctx context.Context, query string, args ...interface{}) ([]*models.IntegrityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query integrity records", err.Error())
	}
	defer rows.Close()

	var records []*models.IntegrityRecord
	for rows.Next() {
		record, err := scanIntegrityRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) conditionalUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	start := time.Now()

	result, err := s.db.ExecContext(ctx, query, args...)
	s.recordOperation("conditional_update", start, err)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Conditional update failed", err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read rows affected", err.Error())
	}
	return affected == 1, nil
}

func (s *SQLiteStorage) recordOperation(operation string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, status, time.Since(start))
}
