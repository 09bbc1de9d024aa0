package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

// MemoryLedger is a deterministic in-memory ledger. It backs local
// development (ledger.type=memory) and tests: anchor references are
// derived from the idempotency key, duplicate submissions collapse onto
// the same entry, and fault injection covers transient failures,
// rejections, dropped transactions and unreachability.
type MemoryLedger struct {
	mu sync.Mutex

	entries map[string]*memoryEntry
	nextBlock uint64

	// Confirmation arrives after this many status polls per entry.
	confirmAfterPolls int

	// Fault injection
	failSubmits int
	rejectNext  bool
	dropNext    bool
	unreachable bool

	submitCalls int
}

type memoryEntry struct {
	digest      string
	block       uint64
	polls       int
	dropped     bool
	submittedAt time.Time
}

// NewMemoryLedger creates an in-memory ledger that confirms entries on
// the first status poll.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:           make(map[string]*memoryEntry),
		nextBlock:         1000,
		confirmAfterPolls: 1,
	}
}

// ConfirmAfterPolls sets how many GetStatus calls an entry needs before
// it reports confirmed.
func (m *MemoryLedger) ConfirmAfterPolls(n int) *MemoryLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmAfterPolls = n
	return m
}

// FailSubmits makes the next n Submit calls return a TransientError.
func (m *MemoryLedger) FailSubmits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubmits = n
}

// RejectNext makes the next Submit call return a RejectedError.
func (m *MemoryLedger) RejectNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

// DropNext marks the next submitted entry as dropped by the ledger.
func (m *MemoryLedger) DropNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropNext = true
}

// SetUnreachable toggles simulated ledger unreachability.
func (m *MemoryLedger) SetUnreachable(unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = unreachable
}

// SubmitCalls returns how many Submit calls reached the ledger.
func (m *MemoryLedger) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// Submit records a digest under a reference derived from the
// idempotency key. Resubmitting the same key returns the existing
// receipt instead of creating a duplicate entry.
func (m *MemoryLedger) Submit(ctx context.Context, digest string, idempotencyKey string) (*models.AnchorReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransientError{Op: "submit", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return nil, &TransientError{Op: "submit", Err: context.DeadlineExceeded}
	}

	m.submitCalls++

	if m.failSubmits > 0 {
		m.failSubmits--
		return nil, &TransientError{Op: "submit", Err: errTemporarilyUnavailable}
	}
	if m.rejectNext {
		m.rejectNext = false
		return nil, &RejectedError{Reason: "digest refused by ledger policy"}
	}

	ref := referenceFor(idempotencyKey)
	entry, exists := m.entries[ref]
	if !exists {
		m.nextBlock++
		entry = &memoryEntry{
			digest:      digest,
			block:       m.nextBlock,
			dropped:     m.dropNext,
			submittedAt: time.Now().UTC(),
		}
		m.dropNext = false
		m.entries[ref] = entry
	}

	return &models.AnchorReceipt{
		AnchorReference: ref,
		SubmittedAt:     entry.submittedAt,
	}, nil
}

// GetStatus reports confirmation state for a reference.
func (m *MemoryLedger) GetStatus(ctx context.Context, anchorRef string) (*models.LedgerStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransientError{Op: "status", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return nil, &TransientError{Op: "status", Err: context.DeadlineExceeded}
	}

	entry, ok := m.entries[anchorRef]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.dropped {
		return &models.LedgerStatus{Dropped: true}, nil
	}

	entry.polls++
	if entry.polls < m.confirmAfterPolls {
		return &models.LedgerStatus{Confirmed: false}, nil
	}

	return &models.LedgerStatus{
		Confirmed:      true,
		BlockReference: entry.block,
		Confirmations:  uint64(entry.polls),
	}, nil
}

// GetDigest returns the digest stored under a reference.
func (m *MemoryLedger) GetDigest(ctx context.Context, anchorRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransientError{Op: "digest", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return "", &TransientError{Op: "digest", Err: context.DeadlineExceeded}
	}

	entry, ok := m.entries[anchorRef]
	if !ok {
		return "", ErrNotFound
	}
	return entry.digest, nil
}

// TamperDigest overwrites the stored digest for a reference. Test hook
// for ledger mismatch scenarios.
func (m *MemoryLedger) TamperDigest(anchorRef, digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[anchorRef]; ok {
		entry.digest = digest
	}
}

// Ping reports reachability.
func (m *MemoryLedger) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return &TransientError{Op: "ping", Err: context.DeadlineExceeded}
	}
	return nil
}

// Close is a no-op for the in-memory ledger.
func (m *MemoryLedger) Close() error { return nil }

func referenceFor(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return "0x" + hex.EncodeToString(sum[:])
}

var errTemporarilyUnavailable = &temporaryError{"ledger temporarily unavailable"}

type temporaryError struct{ msg string }

func (e *temporaryError) Error() string { return e.msg }
