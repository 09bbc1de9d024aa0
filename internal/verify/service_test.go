package verify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/supplychain-anchor/internal/anchor"
	"github.com/smartdevs17/supplychain-anchor/internal/canonical"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/internal/coordinator"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/internal/notification"
	"github.com/smartdevs17/supplychain-anchor/internal/storage"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "anchor.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func seedEvent(t *testing.T, store storage.Storage, id string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID:          id,
		EntityType:  "batch",
		EntityID:    42,
		EventType:   "created",
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Description: "batch registered",
		Severity:    "info",
		CreatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, store.CreateIntegrityRecord(ctx, &models.IntegrityRecord{
		EventID:         id,
		IntegrityStatus: models.StatusUnanchored,
	}))
}

// anchorEvent drives a full submit-and-confirm cycle through the coordinator
func anchorEvent(t *testing.T, store storage.Storage, ledger anchor.Client, id string) *models.IntegrityRecord {
	t.Helper()

	ctx := context.Background()
	coord := coordinator.NewAnchorCoordinator(store, ledger, nil, &coordinator.Config{
		SweepInterval:   time.Second,
		BatchSize:       10,
		Workers:         2,
		MaxRetries:      3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		SubmitTimeout:   2 * time.Second,
		ResubmitTimeout: 10 * time.Minute,
	})
	_, err := coord.SweepOnce(ctx)
	require.NoError(t, err)

	record, err := store.GetIntegrityRecord(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusAnchored, record.IntegrityStatus)
	return record
}

func TestVerifyAnchoredEvent(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	record := anchorEvent(t, store, ledger, "evt-1")

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, models.ReasonVerified, result.Reason)
	assert.Equal(t, record.CanonicalHash, result.StoredHash)
	assert.Equal(t, record.CanonicalHash, result.RecomputedHash)
	assert.Equal(t, record.CanonicalHash, result.LedgerHash)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestVerifyNotYetAnchored(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")

	// A matching payload hash counts as verified while anchoring is still
	// pending; the pending state is only visible through the reason.
	event, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	digest, version, err := canonical.HashEvent(event)
	require.NoError(t, err)
	require.NoError(t, store.SetCanonicalHash(ctx, "evt-1", digest, version))

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, models.ReasonNotYetAnchored, result.Reason)
	assert.Equal(t, digest, result.RecomputedHash)
}

func TestVerifyNotYetAnchoredStillReportsTamper(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")

	event, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	digest, version, err := canonical.HashEvent(event)
	require.NoError(t, err)
	require.NoError(t, store.SetCanonicalHash(ctx, "evt-1", digest, version))
	require.NoError(t, store.UpdateEventDescription(ctx, "evt-1", "rewritten"))

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, models.ReasonPayloadTamper, result.Reason)
}

func TestVerifyDetectsPayloadTamper(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	notifier := notification.NewManager(&config.NotificationConfig{
		Enabled:        true,
		DefaultChannel: "log",
	})
	service := NewService(store, ledger, notifier)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	anchorEvent(t, store, ledger, "evt-1")

	// Mutate the stored payload behind the fingerprint's back.
	require.NoError(t, store.UpdateEventDescription(ctx, "evt-1", "batch registered (edited)"))

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, models.ReasonPayloadTamper, result.Reason)
	assert.NotEqual(t, result.StoredHash, result.RecomputedHash)

	stats := notifier.GetStats()
	assert.Equal(t, uint64(1), stats.TotalSent)
}

func TestVerifyDetectsLedgerMismatch(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	record := anchorEvent(t, store, ledger, "evt-1")

	ledger.TamperDigest(record.AnchorReference, "0000000000000000000000000000000000000000000000000000000000000000")

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, models.ReasonLedgerMismatch, result.Reason)
	assert.Equal(t, record.CanonicalHash, result.RecomputedHash)
	assert.NotEqual(t, result.RecomputedHash, result.LedgerHash)
}

func TestVerifyUnreachableLedger(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	anchorEvent(t, store, ledger, "evt-1")

	ledger.SetUnreachable(true)

	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, models.ReasonVerificationErr, result.Reason)
}

func TestVerifyTamperReportedEvenWhenLedgerDown(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	anchorEvent(t, store, ledger, "evt-1")

	require.NoError(t, store.UpdateEventDescription(ctx, "evt-1", "rewritten"))
	ledger.SetUnreachable(true)

	// Payload integrity is checked before the ledger, so the tamper
	// verdict does not depend on ledger availability.
	result, err := service.Verify(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonPayloadTamper, result.Reason)
}

func TestVerifyUnknownEvent(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)

	_, err := service.Verify(context.Background(), "missing")
	require.Error(t, err)
}

func TestVerifyAnchoredBatch(t *testing.T) {
	store := newTestStorage(t)
	ledger := anchor.NewMemoryLedger()
	service := NewService(store, ledger, nil)
	ctx := context.Background()

	seedEvent(t, store, "evt-1")
	seedEvent(t, store, "evt-2")
	seedEvent(t, store, "evt-3")
	anchorEvent(t, store, ledger, "evt-1")

	require.NoError(t, store.UpdateEventDescription(ctx, "evt-2", "rewritten"))

	results, err := service.VerifyAnchored(ctx, 2)
	require.NoError(t, err)

	// evt-2 and evt-3 were anchored by the same sweep as evt-1.
	verified := 0
	tampered := 0
	for _, result := range results {
		switch result.Reason {
		case models.ReasonVerified:
			verified++
		case models.ReasonPayloadTamper:
			tampered++
		}
	}
	assert.Len(t, results, 3)
	assert.Equal(t, 2, verified)
	assert.Equal(t, 1, tampered)
}
