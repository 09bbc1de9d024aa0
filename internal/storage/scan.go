package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

const integritySelect = `
	SELECT event_id, canonical_hash, hash_version, integrity_status,
	       anchor_reference, anchor_block, submitted_at, confirmed_at,
	       retry_count, terminal, last_attempt_at, last_error, updated_at
	FROM integrity_records`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var event models.Event
	var metadataJSON string

	err := row.Scan(
		&event.ID, &event.EntityType, &event.EntityID, &event.EventType,
		&event.Timestamp, &event.Description, &metadataJSON,
		&event.Severity, &event.Actor, &event.Location,
		&event.DisplayName, &event.IPAddress, &event.UserAgent, &event.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Event not found")
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal event metadata", err.Error())
		}
	}
	return &event, nil
}

func scanIntegrityRecord(row rowScanner) (*models.IntegrityRecord, error) {
	var record models.IntegrityRecord
	var submittedAt, confirmedAt, lastAttemptAt sql.NullTime

	err := row.Scan(
		&record.EventID, &record.CanonicalHash, &record.HashVersion,
		&record.IntegrityStatus, &record.AnchorReference, &record.AnchorBlock,
		&submittedAt, &confirmedAt, &record.RetryCount, &record.Terminal,
		&lastAttemptAt, &record.LastError, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Integrity record not found")
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan integrity record", err.Error())
	}

	if submittedAt.Valid {
		record.SubmittedAt = &submittedAt.Time
	}
	if confirmedAt.Valid {
		record.ConfirmedAt = &confirmedAt.Time
	}
	if lastAttemptAt.Valid {
		record.LastAttemptAt = &lastAttemptAt.Time
	}
	return &record, nil
}

// buildEventFilter renders a WHERE clause for an event filter. The
// placeholder argument selects the dialect: "?" for SQLite, anything
// else switches to numbered PostgreSQL placeholders.
func buildEventFilter(filter models.EventFilter, placeholder string) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	next := func() string {
		if placeholder == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", len(args))
	}

	add := func(column, op string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s %s %s", column, op, next()))
	}

	if filter.EntityType != nil {
		add("entity_type", "=", *filter.EntityType)
	}
	if filter.EntityID != nil {
		add("entity_id", "=", *filter.EntityID)
	}
	if filter.EventType != nil {
		add("event_type", "=", *filter.EventType)
	}
	if filter.Severity != nil {
		add("severity", "=", *filter.Severity)
	}
	if filter.FromTime != nil {
		add("timestamp", ">=", filter.FromTime.UTC())
	}
	if filter.ToTime != nil {
		add("timestamp", "<=", filter.ToTime.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// buildIntegrityFilter renders a WHERE clause for an integrity record
// filter, using the same placeholder convention as buildEventFilter.
func buildIntegrityFilter(filter IntegrityFilter, placeholder string) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	next := func() string {
		if placeholder == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("integrity_status = %s", next()))
	}
	if filter.Terminal != nil {
		args = append(args, *filter.Terminal)
		conditions = append(conditions, fmt.Sprintf("terminal = %s", next()))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
