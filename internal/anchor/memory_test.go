package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestMemoryLedgerSubmitAndConfirm(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	receipt, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)
	require.NotEmpty(t, receipt.AnchorReference)

	status, err := ledger.GetStatus(ctx, receipt.AnchorReference)
	require.NoError(t, err)
	assert.True(t, status.Confirmed)
	assert.NotZero(t, status.BlockReference)

	digest, err := ledger.GetDigest(ctx, receipt.AnchorReference)
	require.NoError(t, err)
	assert.Equal(t, testDigest, digest)
}

func TestMemoryLedgerIdempotentSubmission(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	first, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)

	second, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.AnchorReference, second.AnchorReference)
	assert.Equal(t, first.SubmittedAt, second.SubmittedAt)

	other, err := ledger.Submit(ctx, testDigest, "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.AnchorReference, other.AnchorReference)
}

func TestMemoryLedgerDelayedConfirmation(t *testing.T) {
	ledger := NewMemoryLedger().ConfirmAfterPolls(3)
	ctx := context.Background()

	receipt, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		status, err := ledger.GetStatus(ctx, receipt.AnchorReference)
		require.NoError(t, err)
		assert.False(t, status.Confirmed)
	}

	status, err := ledger.GetStatus(ctx, receipt.AnchorReference)
	require.NoError(t, err)
	assert.True(t, status.Confirmed)
}

func TestMemoryLedgerFaultInjection(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	ledger.FailSubmits(2)
	_, err := ledger.Submit(ctx, testDigest, "key-1")
	assert.True(t, IsTransient(err))
	_, err = ledger.Submit(ctx, testDigest, "key-1")
	assert.True(t, IsTransient(err))

	// Third attempt succeeds.
	_, err = ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.SubmitCalls())

	ledger.RejectNext()
	_, err = ledger.Submit(ctx, testDigest, "key-2")
	assert.True(t, IsRejected(err))
	assert.False(t, IsTransient(err))
}

func TestMemoryLedgerDroppedAnchor(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	ledger.DropNext()
	receipt, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)

	status, err := ledger.GetStatus(ctx, receipt.AnchorReference)
	require.NoError(t, err)
	assert.True(t, status.Dropped)
	assert.False(t, status.Confirmed)
}

func TestMemoryLedgerNotFound(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	_, err := ledger.GetStatus(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ledger.GetDigest(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedgerUnreachable(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	receipt, err := ledger.Submit(ctx, testDigest, "key-1")
	require.NoError(t, err)

	ledger.SetUnreachable(true)

	_, err = ledger.GetStatus(ctx, receipt.AnchorReference)
	assert.True(t, IsTransient(err))

	_, err = ledger.GetDigest(ctx, receipt.AnchorReference)
	assert.True(t, IsTransient(err))

	assert.Error(t, ledger.Ping(ctx))

	ledger.SetUnreachable(false)
	require.NoError(t, ledger.Ping(ctx))
}
