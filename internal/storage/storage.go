// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

// Storage defines the interface for event and integrity record
// persistence. Integrity status mutations are conditional updates: the
// transition only happens if the record is still in the expected state,
// so concurrent coordinator instances cannot double-apply it.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Event operations
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
	GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error)
	// UpdateEventDescription mutates a stored payload in place. It
	// exists to exercise tamper detection; nothing in the service
	// request path calls it.
	UpdateEventDescription(ctx context.Context, id, description string) error

	// Integrity record operations
	CreateIntegrityRecord(ctx context.Context, record *models.IntegrityRecord) error
	GetIntegrityRecord(ctx context.Context, eventID string) (*models.IntegrityRecord, error)
	GetIntegrityRecords(ctx context.Context, filter IntegrityFilter) ([]*models.IntegrityRecord, error)
	SetCanonicalHash(ctx context.Context, eventID, hash, version string) error

	// Sweep selection. GetDueRecords returns unanchored records plus
	// retryable failed ones still inside their retry budget; backoff
	// eligibility is evaluated by the coordinator. GetSubmittedRecords
	// feeds reconciliation.
	GetDueRecords(ctx context.Context, maxRetries, limit int) ([]*models.IntegrityRecord, error)
	GetSubmittedRecords(ctx context.Context, limit int) ([]*models.IntegrityRecord, error)

	// Conditional transitions. Each returns true only if this caller
	// won the transition.
	ClaimSubmission(ctx context.Context, eventID, fromStatus string, at time.Time) (bool, error)
	SetAnchorReference(ctx context.Context, eventID, anchorRef string, submittedAt time.Time) (bool, error)
	MarkAnchored(ctx context.Context, eventID string, block uint64, confirmedAt time.Time) (bool, error)
	MarkRetryableFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error)
	MarkTerminalFailure(ctx context.Context, eventID, lastError string, at time.Time) (bool, error)

	// ReleaseStrandedSubmissions moves submitted records that never got
	// an anchor reference persisted (sweep interrupted mid-submit) back
	// to retryable failed once they are older than the cutoff.
	ReleaseStrandedSubmissions(ctx context.Context, olderThan time.Time) (int, error)

	// Statistics
	GetIntegrityStats(ctx context.Context) (*models.IntegrityStats, error)
	GetStorageStats() (*StorageStats, error)
}

// IntegrityFilter narrows integrity record listings
type IntegrityFilter struct {
	Status   *string `json:"status,omitempty"`
	Terminal *bool   `json:"terminal,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEvents      int64      `json:"total_events"`
	TotalIntegrity   int64      `json:"total_integrity_records"`
	OldestEvent      *time.Time `json:"oldest_event,omitempty"`
	LatestEvent      *time.Time `json:"latest_event,omitempty"`
	DatabaseSize     int64      `json:"database_size_bytes"`
	AnchoredRecords  int64      `json:"anchored_records"`
	PendingRecords   int64      `json:"pending_records"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
