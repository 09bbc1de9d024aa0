package models

import (
	"time"
)

// Integrity status lifecycle values. Transitions are constrained to
// unanchored->submitted->anchored (terminal) and
// submitted->failed->submitted (bounded retry); failed becomes terminal
// once the retry budget is exhausted or the ledger rejects outright.
const (
	StatusUnanchored = "unanchored"
	StatusSubmitted  = "submitted"
	StatusAnchored   = "anchored"
	StatusFailed     = "failed"
)

// IntegrityRecord is the permanent proof trail for a single event. It
// is created with the event, mutated only by the anchoring coordinator,
// and never deleted.
type IntegrityRecord struct {
	EventID         string     `json:"event_id" db:"event_id"`
	CanonicalHash   string     `json:"canonical_hash" db:"canonical_hash"`
	HashVersion     string     `json:"hash_version" db:"hash_version"`
	IntegrityStatus string     `json:"integrity_status" db:"integrity_status"`
	AnchorReference string     `json:"anchor_reference,omitempty" db:"anchor_reference"`
	AnchorBlock     uint64     `json:"anchor_block,omitempty" db:"anchor_block"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	RetryCount      int        `json:"retry_count" db:"retry_count"`
	Terminal        bool       `json:"terminal" db:"terminal"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// IsAnchored checks whether the record has reached its terminal success state
func (r *IntegrityRecord) IsAnchored() bool {
	return r.IntegrityStatus == StatusAnchored
}

// IsRetryable reports whether a failed record is still within its retry budget
func (r *IntegrityRecord) IsRetryable(maxRetries int) bool {
	return r.IntegrityStatus == StatusFailed && !r.Terminal && r.RetryCount < maxRetries
}

// AnchorReceipt is returned by a ledger submission. The underlying
// ledger transaction may still be pending when the receipt arrives.
type AnchorReceipt struct {
	AnchorReference string    `json:"anchor_reference"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// LedgerStatus describes the confirmation state of a submitted anchor.
type LedgerStatus struct {
	Confirmed      bool   `json:"confirmed"`
	BlockReference uint64 `json:"block_reference,omitempty"`
	Confirmations  uint64 `json:"confirmations"`
	Dropped        bool   `json:"dropped"`
}

// Verification reasons. "not_yet_anchored" and "payload_tamper" are
// both expected, actionable outcomes, not errors.
const (
	ReasonVerified         = "verified"
	ReasonNotYetAnchored   = "not_yet_anchored"
	ReasonPayloadTamper    = "payload_tamper"
	ReasonLedgerMismatch   = "ledger_mismatch"
	ReasonVerificationErr  = "verification_error"
)

// VerificationResult is the structured outcome of an integrity check.
type VerificationResult struct {
	EventID        string    `json:"event_id"`
	Verified       bool      `json:"verified"`
	Reason         string    `json:"reason"`
	StoredHash     string    `json:"stored_hash,omitempty"`
	RecomputedHash string    `json:"recomputed_hash,omitempty"`
	LedgerHash     string    `json:"ledger_hash,omitempty"`
	HashVersion    string    `json:"hash_version,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
	Detail         string    `json:"detail,omitempty"`
}

// IntegrityStats provides per-status record counts.
type IntegrityStats struct {
	Unanchored int64 `json:"unanchored"`
	Submitted  int64 `json:"submitted"`
	Anchored   int64 `json:"anchored"`
	Failed     int64 `json:"failed"`
	Terminal   int64 `json:"terminal_failed"`
}
