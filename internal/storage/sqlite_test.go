package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(&StorageConfig{
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

func seedEvent(t *testing.T, store *SQLiteStorage, id string) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID:          id,
		EntityType:  "batch",
		EntityID:    42,
		EventType:   "created",
		Timestamp:   now,
		Description: "batch registered",
		Severity:    "info",
		CreatedAt:   now,
	}))
	require.NoError(t, store.CreateIntegrityRecord(ctx, &models.IntegrityRecord{
		EventID:         id,
		IntegrityStatus: models.StatusUnanchored,
	}))
}

func TestEventRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	event := &models.Event{
		ID:          "evt-1",
		EntityType:  "shipment",
		EntityID:    7,
		EventType:   "shipped",
		Timestamp:   now,
		Description: "left warehouse",
		Metadata:    map[string]interface{}{"carrier": "acme"},
		Severity:    "info",
		Actor:       "user:12",
		Location:    "warehouse-3",
		CreatedAt:   now,
	}
	require.NoError(t, store.CreateEvent(ctx, event))

	got, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, event.EntityType, got.EntityType)
	assert.Equal(t, event.EntityID, got.EntityID)
	assert.Equal(t, event.Description, got.Description)
	assert.Equal(t, "acme", got.Metadata["carrier"])

	entityType := "shipment"
	events, err := store.GetEvents(ctx, models.EventFilter{EntityType: &entityType, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)

	count, err := store.GetEventCount(ctx, models.EventFilter{EntityType: &entityType})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	other := "batch"
	events, err = store.GetEvents(ctx, models.EventFilter{EntityType: &other, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClaimSubmissionIsExclusive(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	now := time.Now().UTC()
	won, err := store.ClaimSubmission(ctx, "evt-1", models.StatusUnanchored, now)
	require.NoError(t, err)
	assert.True(t, won)

	// A second claim from the same starting state must lose.
	won, err = store.ClaimSubmission(ctx, "evt-1", models.StatusUnanchored, now)
	require.NoError(t, err)
	assert.False(t, won)

	record, err := store.GetIntegrityRecord(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, record.IntegrityStatus)
	require.NotNil(t, record.LastAttemptAt)
}

func TestAnchoredIsTerminal(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	now := time.Now().UTC()
	won, err := store.ClaimSubmission(ctx, "evt-1", models.StatusUnanchored, now)
	require.NoError(t, err)
	require.True(t, won)

	ok, err := store.SetAnchorReference(ctx, "evt-1", "0xabc", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.MarkAnchored(ctx, "evt-1", 1234, now)
	require.NoError(t, err)
	require.True(t, ok)

	record, err := store.GetIntegrityRecord(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnchored, record.IntegrityStatus)
	assert.Equal(t, uint64(1234), record.AnchorBlock)
	assert.True(t, record.IsAnchored())

	// No transition may leave anchored.
	ok, err = store.MarkRetryableFailure(ctx, "evt-1", "boom", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkTerminalFailure(ctx, "evt-1", "boom", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ClaimSubmission(ctx, "evt-1", models.StatusAnchored, now)
	require.NoError(t, err)
	assert.False(t, ok)

	record, err = store.GetIntegrityRecord(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnchored, record.IntegrityStatus)
}

func TestMarkAnchoredRequiresSubmitted(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	ok, err := store.MarkAnchored(ctx, "evt-1", 99, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryableFailureIncrementsRetryCount(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	now := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		won, err := store.ClaimSubmission(ctx, "evt-1", expectedStatus(i), now)
		require.NoError(t, err)
		require.True(t, won)

		ok, err := store.MarkRetryableFailure(ctx, "evt-1", "connection refused", now)
		require.NoError(t, err)
		require.True(t, ok)

		record, err := store.GetIntegrityRecord(ctx, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, i, record.RetryCount)
		assert.Equal(t, models.StatusFailed, record.IntegrityStatus)
		assert.False(t, record.Terminal)
		assert.Equal(t, "connection refused", record.LastError)
	}
}

func expectedStatus(attempt int) string {
	if attempt == 1 {
		return models.StatusUnanchored
	}
	return models.StatusFailed
}

func TestTerminalFailureBlocksFurtherClaims(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	now := time.Now().UTC()
	ok, err := store.MarkTerminalFailure(ctx, "evt-1", "canonicalization failed", now)
	require.NoError(t, err)
	require.True(t, ok)

	record, err := store.GetIntegrityRecord(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, record.Terminal)
	assert.Equal(t, models.StatusFailed, record.IntegrityStatus)

	won, err := store.ClaimSubmission(ctx, "evt-1", models.StatusFailed, now)
	require.NoError(t, err)
	assert.False(t, won)

	due, err := store.GetDueRecords(ctx, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestGetDueRecordsHonorsRetryBudget(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-fresh")
	seedEvent(t, store, "evt-retryable")
	seedEvent(t, store, "evt-exhausted")

	now := time.Now().UTC()
	maxRetries := 3

	// evt-retryable: one failure.
	won, err := store.ClaimSubmission(ctx, "evt-retryable", models.StatusUnanchored, now)
	require.NoError(t, err)
	require.True(t, won)
	_, err = store.MarkRetryableFailure(ctx, "evt-retryable", "timeout", now)
	require.NoError(t, err)

	// evt-exhausted: maxRetries failures.
	status := models.StatusUnanchored
	for i := 0; i < maxRetries; i++ {
		won, err := store.ClaimSubmission(ctx, "evt-exhausted", status, now)
		require.NoError(t, err)
		require.True(t, won)
		_, err = store.MarkRetryableFailure(ctx, "evt-exhausted", "timeout", now)
		require.NoError(t, err)
		status = models.StatusFailed
	}

	due, err := store.GetDueRecords(ctx, maxRetries, 100)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, record := range due {
		ids = append(ids, record.EventID)
	}
	assert.ElementsMatch(t, []string{"evt-fresh", "evt-retryable"}, ids)
}

func TestReleaseStrandedSubmissions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-stranded")
	seedEvent(t, store, "evt-inflight")

	old := time.Now().UTC().Add(-time.Hour)
	recent := time.Now().UTC()

	// Stranded: claimed an hour ago, no receipt persisted.
	won, err := store.ClaimSubmission(ctx, "evt-stranded", models.StatusUnanchored, old)
	require.NoError(t, err)
	require.True(t, won)

	// In flight: claimed an hour ago but the receipt made it to storage.
	won, err = store.ClaimSubmission(ctx, "evt-inflight", models.StatusUnanchored, old)
	require.NoError(t, err)
	require.True(t, won)
	ok, err := store.SetAnchorReference(ctx, "evt-inflight", "0xdef", old)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := store.ReleaseStrandedSubmissions(ctx, recent.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	record, err := store.GetIntegrityRecord(ctx, "evt-stranded")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, record.IntegrityStatus)
	assert.Equal(t, 1, record.RetryCount)
	assert.False(t, record.Terminal)

	record, err = store.GetIntegrityRecord(ctx, "evt-inflight")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, record.IntegrityStatus)
}

func TestIntegrityStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")
	seedEvent(t, store, "evt-2")
	seedEvent(t, store, "evt-3")

	now := time.Now().UTC()
	won, err := store.ClaimSubmission(ctx, "evt-2", models.StatusUnanchored, now)
	require.NoError(t, err)
	require.True(t, won)

	_, err = store.MarkTerminalFailure(ctx, "evt-3", "rejected", now)
	require.NoError(t, err)

	stats, err := store.GetIntegrityStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Unanchored)
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(0), stats.Anchored)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Terminal)
}

func TestGetIntegrityRecordsFilter(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")
	seedEvent(t, store, "evt-2")

	now := time.Now().UTC()
	won, err := store.ClaimSubmission(ctx, "evt-2", models.StatusUnanchored, now)
	require.NoError(t, err)
	require.True(t, won)

	unanchored := models.StatusUnanchored
	records, err := store.GetIntegrityRecords(ctx, IntegrityFilter{Status: &unanchored})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].EventID)
}

func TestSetCanonicalHash(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	seedEvent(t, store, "evt-1")

	require.NoError(t, store.SetCanonicalHash(ctx, "evt-1", "deadbeef", "1"))

	record, err := store.GetIntegrityRecord(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", record.CanonicalHash)
	assert.Equal(t, "1", record.HashVersion)
}
