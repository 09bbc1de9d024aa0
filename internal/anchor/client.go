// Package anchor defines the boundary to the external tamper-resistant
// ledger. The engine only ever talks to the ledger through the Client
// interface; a network-backed implementation and a deterministic
// in-memory ledger satisfy the identical contract and are chosen via
// injection.
package anchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartdevs17/supplychain-anchor/internal/models"
)

// Client is the capability interface to the external ledger.
type Client interface {
	// Submit anchors a fingerprint. It may return a receipt while the
	// underlying ledger transaction is still pending. The idempotency
	// key lets the ledger deduplicate resubmissions after an ambiguous
	// failure.
	Submit(ctx context.Context, digest string, idempotencyKey string) (*models.AnchorReceipt, error)

	// GetStatus reports the confirmation state of a submitted anchor.
	// Idempotent, safe to call repeatedly.
	GetStatus(ctx context.Context, anchorRef string) (*models.LedgerStatus, error)

	// GetDigest returns the fingerprint recorded on the ledger under
	// the given reference, for ledger-side cross-checks.
	GetDigest(ctx context.Context, anchorRef string) (string, error)

	// Ping checks ledger reachability.
	Ping(ctx context.Context) error

	Close() error
}

// ErrNotFound indicates an anchor reference unknown to the ledger.
var ErrNotFound = errors.New("anchor reference not found")

// TransientError wraps a ledger failure that is safe to retry with
// backoff: network errors, timeouts, temporary node unavailability.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError indicates the ledger refused the submission outright.
// Fatal for that submission; never auto-retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("submission rejected by ledger: %s", e.Reason)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsRejected reports whether the ledger rejected the submission.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
