// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/supplychain-anchor/internal/metrics"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager wires database operation metrics
func (p *PostgreSQLStorage) SetMetricsManager(m *metrics.Manager) {
	p.metricsManager = m
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting database migrations")

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	p.logger.Info("Database migrations completed")
	return nil
}

// CreateEvent persists a new event
func (p *PostgreSQLStorage) CreateEvent(ctx context.Context, event *models.Event) error {
	start := time.Now()

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event metadata", err.Error())
	}

	query := `
		INSERT INTO events
		(id, entity_type, entity_id, event_type, timestamp, description,
		 metadata, severity, actor, location, display_name, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = p.db.ExecContext(ctx, query,
		event.ID, event.EntityType, event.EntityID, event.EventType,
		event.Timestamp.UTC(), event.Description, string(metadataJSON),
		event.Severity, event.Actor, event.Location,
		event.DisplayName, event.IPAddress, event.UserAgent, event.CreatedAt.UTC())

	p.recordOperation("insert_event", start, err)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}
	return nil
}

// GetEvent retrieves an event by ID
func (p *PostgreSQLStorage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, entity_type, entity_id, event_type, timestamp, description,
		       metadata, severity, actor, location, display_name, ip_address, user_agent, created_at
		FROM events WHERE id = $1
	`
	return scanEvent(p.db.QueryRowContext(ctx, query, id))
}

// GetEvents retrieves events matching a filter
func (p *PostgreSQLStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `
		SELECT id, entity_type, entity_id, event_type, timestamp, description,
		       metadata, severity, actor, location, display_name, ip_address, user_agent, created_at
		FROM events
	`
	where, args := buildEventFilter(filter, "$")
	query += where + " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	where, args := buildEventFilter(filter, "$")
	query := "SELECT COUNT(*) FROM events" + where

	var count int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// UpdateEventDescription mutates a stored payload in place (tamper simulation)
func (p *PostgreSQLStorage) UpdateEventDescription(ctx context.Context, id, description string) error {
	_, err := p.db.ExecContext(ctx, "UPDATE events SET description = $1 WHERE id = $2", description, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event", err.Error())
	}
	return nil
}

// CreateIntegrityRecord persists a new integrity record
func (p *PostgreSQLStorage) CreateIntegrityRecord(ctx context.Context, record *models.IntegrityRecord) error {
	start := time.Now()

	query := `
		INSERT INTO integrity_records
		(event_id, canonical_hash, hash_version, integrity_status, anchor_reference,
		 anchor_block, submitted_at, confirmed_at, retry_count, terminal,
		 last_attempt_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := p.db.ExecContext(ctx, query,
		record.EventID, record.CanonicalHash, record.HashVersion,
		record.IntegrityStatus, record.AnchorReference, record.AnchorBlock,
		record.SubmittedAt, record.ConfirmedAt, record.RetryCount, record.Terminal,
		record.LastAttemptAt, record.LastError, time.Now().UTC())

	p.recordOperation("insert_integrity", start, err)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save integrity record", err.Error())
	}
	return nil
}

// GetIntegrityRecord retrieves the integrity record for an event
func (p *PostgreSQLStorage) GetIntegrityRecord(ctx context.Context, eventID string) (*models.IntegrityRecord, error) {
	query := integritySelect + " WHERE event_id = $1"
	return scanIntegrityRecord(p.db.QueryRowContext(ctx, query, eventID))
}

// SetCanonicalHash stores a freshly computed canonical hash
func (p *PostgreSQLStorage) SetCanonicalHash(ctx context.Context, eventID, hash, version string) error {
	query := `
		UPDATE integrity_records
		SET canonical_hash = $1, hash_version = $2, updated_at = $3
		WHERE event_id = $4
	`
	_, err := p.db.ExecContext(ctx, query, hash, version, time.Now().UTC(), eventID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set canonical hash", err.Error())
	}
	return nil
}

// GetIntegrityRecords lists records matching a filter
func (p *PostgreSQLStorage) GetIntegrityRecords(ctx context.Context, filter IntegrityFilter) ([]*models.IntegrityRecord, error) {
	where, args := buildIntegrityFilter(filter, "$")
	query := integritySelect + where + " ORDER BY updated_at ASC, event_id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return p.queryIntegrityRecords(ctx, query, args...)
}

// GetDueRecords selects records eligible for submission
func (p *PostgreSQLStorage) GetDueRecords(ctx context.Context, maxRetries, limit int) ([]*models.IntegrityRecord, error) {
	query := integritySelect + `
		WHERE integrity_status = 'unanchored'
		   OR (integrity_status = 'failed' AND terminal = FALSE AND retry_count < $1)
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return p.queryIntegrityRecords(ctx, query, maxRetries, limit)
}

// GetSubmittedRecords selects records awaiting confirmation
func (p *PostgreSQLStorage) GetSubmittedRecords(ctx context.Context, limit int) ([]*models.IntegrityRecord, error) {
	query := integritySelect + `
		WHERE integrity_status = 'submitted'
		ORDER BY submitted_at ASC
		LIMIT $1
	`
	return p.queryIntegrityRecords(ctx, query, limit)
}

// ClaimSubmission conditionally transitions a record to submitted
func (p *PostgreSQLStorage) ClaimSubmission(ctx context.Context, eventID, fromStatus string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'submitted', last_attempt_at = $1, updated_at = $2
		WHERE event_id = $3 AND integrity_status = $4 AND terminal = FALSE
	`
	return p.conditionalUpdate(ctx, query, at.UTC(), at.UTC(), eventID, fromStatus)
}

// SetAnchorReference records the submission receipt
func (p *PostgreSQLStorage) SetAnchorReference(ctx context.Context, eventID, anchorRef string, submittedAt time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET anchor_reference = $1, submitted_at = $2, last_error = '', updated_at = $3
		WHERE event_id = $4 AND integrity_status = 'submitted'
	`
	return p.conditionalUpdate(ctx, query, anchorRef, submittedAt.UTC(), time.Now().UTC(), eventID)
}

// MarkAnchored conditionally transitions submitted -> anchored
func (p *PostgreSQLStorage) MarkAnchored(ctx context.Context, eventID string, block uint64, confirmedAt time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'anchored', anchor_block = $1, confirmed_at = $2, last_error = '', updated_at = $3
		WHERE event_id = $4 AND integrity_status = 'submitted'
	`
	return p.conditionalUpdate(ctx, query, block, confirmedAt.UTC(), time.Now().UTC(), eventID)
}

// MarkRetryableFailure conditionally transitions submitted -> failed (retryable)
func (p *PostgreSQLStorage) MarkRetryableFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', retry_count = retry_count + 1,
		    last_error = $1, last_attempt_at = $2, updated_at = $3
		WHERE event_id = $4 AND integrity_status = 'submitted'
	`
	return p.conditionalUpdate(ctx, query, lastError, at.UTC(), at.UTC(), eventID)
}

// MarkTerminalFailure transitions a non-anchored record to terminal failed
func (p *PostgreSQLStorage) MarkTerminalFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', terminal = TRUE,
		    last_error = $1, last_attempt_at = $2, updated_at = $3
		WHERE event_id = $4 AND integrity_status != 'anchored'
	`
	return p.conditionalUpdate(ctx, query, lastError, at.UTC(), at.UTC(), eventID)
}

// ReleaseStrandedSubmissions frees submitted records with no persisted receipt
func (p *PostgreSQLStorage) ReleaseStrandedSubmissions(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE integrity_records
		SET integrity_status = 'failed', retry_count = retry_count + 1,
		    last_error = 'submission interrupted before receipt was stored', updated_at = $1
		WHERE integrity_status = 'submitted' AND anchor_reference = '' AND last_attempt_at < $2
	`
	result, err := p.db.ExecContext(ctx, query, time.Now().UTC(), olderThan.UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to release stranded submissions", err.Error())
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// GetIntegrityStats counts records per status
func (p *PostgreSQLStorage) GetIntegrityStats(ctx context.Context) (*models.IntegrityStats, error) {
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
	err := p.db.QueryRowContext(ctx, query).Scan(
		&stats.Unanchored, &stats.Submitted, &stats.Anchored, &stats.Failed, &stats.Terminal)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get integrity stats", err.Error())
	}
	return stats, nil
}

// GetStorageStats returns storage statistics
func (p *PostgreSQLStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := p.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	if err := p.db.QueryRow("SELECT COUNT(*) FROM integrity_records").Scan(&stats.TotalIntegrity); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count integrity records", err.Error())
	}
	p.db.QueryRow("SELECT COUNT(*) FROM integrity_records WHERE integrity_status = 'anchored'").Scan(&stats.AnchoredRecords)
	p.db.QueryRow("SELECT COUNT(*) FROM integrity_records WHERE integrity_status IN ('unanchored', 'submitted')").Scan(&stats.PendingRecords)

	var oldest, latest sql.NullTime
	p.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM events").Scan(&oldest, &latest)
	if oldest.Valid {
		stats.OldestEvent = &oldest.Time
	}
	if latest.Valid {
		stats.LatestEvent = &latest.Time
	}

	p.db.QueryRow("SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize)

	return stats, nil
}

func (p *PostgreSQLStorage) queryIntegrityRecords(ctx context.Context, query string, args ...interface{}) ([]*models.IntegrityRecord, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *PostgreSQLStorage) conditionalUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	start := time.Now()

	result, err := p.db.ExecContext(ctx, query, args...)
	p.recordOperation("conditional_update", start, err)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Conditional update failed", err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read rows affected", err.Error())
	}
	return affected == 1, nil
}

func (p *PostgreSQLStorage) recordOperation(operation string, start time.Time, err error) {
	if p.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, status, time.Since(start))
}
