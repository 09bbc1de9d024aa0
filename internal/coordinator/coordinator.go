// File: internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/supplychain-anchor/internal/anchor"
	"github.com/smartdevs17/supplychain-anchor/internal/canonical"
	"github.com/smartdevs17/supplychain-anchor/internal/metrics"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/internal/notification"
	"github.com/smartdevs17/supplychain-anchor/internal/storage"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// Coordinator defines the anchoring coordinator interface
type Coordinator interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Sweep control
	SweepOnce(ctx context.Context) (*SweepResult, error)
	AnchorEvent(ctx context.Context, eventID string) error

	// Statistics and monitoring
	GetStats() *CoordinatorStats
	GetHealth(ctx context.Context) *HealthStatus
}

// AnchorCoordinator implements the Coordinator interface
type AnchorCoordinator struct {
	// Dependencies
	storage  storage.Storage
	ledger   anchor.Client
	notifier notification.Notifier
	logger   *logrus.Logger

	// Configuration
	config *Config

	// State management
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Statistics
	stats          *CoordinatorStats
	metricsManager *metrics.Manager
}

// Config holds coordinator configuration
type Config struct {
	SweepInterval   time.Duration `json:"sweep_interval"`
	BatchSize       int           `json:"batch_size"`
	Workers         int           `json:"workers"`
	MaxRetries      int           `json:"max_retries"`
	BackoffBase     time.Duration `json:"backoff_base"`
	BackoffMax      time.Duration `json:"backoff_max"`
	SubmitTimeout   time.Duration `json:"submit_timeout"`
	ResubmitTimeout time.Duration `json:"resubmit_timeout"`
}

// SweepResult contains the outcome of a single sweep cycle
type SweepResult struct {
	DueExamined int           `json:"due_examined"`
	Submitted   int           `json:"submitted"`
	Confirmed   int           `json:"confirmed"`
	Retried     int           `json:"retried"`
	Terminal    int           `json:"terminal"`
	Stranded    int           `json:"stranded"`
	Duration    time.Duration `json:"duration"`
	Errors      []string      `json:"errors,omitempty"`
}

// CoordinatorStats provides coordinator statistics
type CoordinatorStats struct {
	StartTime         time.Time     `json:"start_time"`
	Uptime            time.Duration `json:"uptime"`
	IsRunning         bool          `json:"is_running"`
	SweepCount        uint64        `json:"sweep_count"`
	TotalSubmitted    uint64        `json:"total_submitted"`
	TotalConfirmed    uint64        `json:"total_confirmed"`
	TotalRetried      uint64        `json:"total_retried"`
	TotalTerminal     uint64        `json:"total_terminal"`
	TotalStranded     uint64        `json:"total_stranded"`
	LastSweepAt       *time.Time    `json:"last_sweep_at,omitempty"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	ErrorCount        uint64        `json:"error_count"`
	LastError         *string       `json:"last_error,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy        bool       `json:"healthy"`
	StorageHealthy bool       `json:"storage_healthy"`
	LedgerHealthy  bool       `json:"ledger_healthy"`
	LastSweepAt    *time.Time `json:"last_sweep_at,omitempty"`
	Issues         []string   `json:"issues,omitempty"`
}

// submission outcomes, used for per-record bookkeeping
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSubmitted
	outcomeRetried
	outcomeTerminal
	outcomeError
)

// NewAnchorCoordinator creates a new anchoring coordinator
func NewAnchorCoordinator(
	store storage.Storage,
	ledger anchor.Client,
	notifier notification.Notifier,
	config *Config,
) *AnchorCoordinator {
	return &AnchorCoordinator{
		storage:  store,
		ledger:   ledger,
		notifier: notifier,
		config:   config,
		logger:   utils.GetLogger(),
		stopChan: make(chan struct{}),
		stats: &CoordinatorStats{
			StartTime: time.Now(),
		},
	}
}

// SetMetricsManager attaches a metrics manager
func (ac *AnchorCoordinator) SetMetricsManager(m *metrics.Manager) {
	ac.metricsManager = m
}

// Start starts the periodic sweep loop
func (ac *AnchorCoordinator) Start(ctx context.Context) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Coordinator already running", "")
	}

	ac.logger.WithFields(logrus.Fields{
		"sweep_interval": ac.config.SweepInterval,
		"batch_size":     ac.config.BatchSize,
		"workers":        ac.config.Workers,
		"max_retries":    ac.config.MaxRetries,
	}).Info("Starting anchoring coordinator")

	ac.running = true
	ac.stats.StartTime = time.Now()
	ac.stats.IsRunning = true

	ac.wg.Add(1)
	go ac.sweepLoop(ctx)

	return nil
}

// Stop stops the sweep loop and waits for in-flight work
func (ac *AnchorCoordinator) Stop() error {
	ac.mu.Lock()
	if !ac.running {
		ac.mu.Unlock()
		return nil
	}
	ac.running = false
	ac.stats.IsRunning = false
	ac.mu.Unlock()

	ac.logger.Info("Stopping anchoring coordinator")
	ac.stopOnce.Do(func() {
		close(ac.stopChan)
	})
	ac.wg.Wait()

	ac.logger.Info("Anchoring coordinator stopped")
	return nil
}

// IsRunning returns whether the sweep loop is active
func (ac *AnchorCoordinator) IsRunning() bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.running
}

// sweepLoop runs sweeps at the configured interval until stopped
func (ac *AnchorCoordinator) sweepLoop(ctx context.Context) {
	defer ac.wg.Done()

	ticker := time.NewTicker(ac.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ac.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ac.SweepOnce(ctx); err != nil {
				ac.recordError(err)
				ac.logger.WithField("error", err.Error()).Error("Sweep cycle failed")
			}
		}
	}
}

// SweepOnce runs a single sweep cycle: release stranded submissions,
// submit due records, then reconcile submitted records against the ledger.
func (ac *AnchorCoordinator) SweepOnce(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	stranded, err := ac.storage.ReleaseStrandedSubmissions(ctx, start.Add(-ac.config.ResubmitTimeout))
	if err != nil {
		return nil, err
	}
	result.Stranded = stranded
	if stranded > 0 {
		ac.logger.WithField("count", stranded).Warn("Released stranded submissions for retry")
	}

	if err := ac.submissionPass(ctx, result); err != nil {
		return nil, err
	}
	if err := ac.reconciliationPass(ctx, result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	ac.updateSweepStats(result)
	ac.updateStatusGauges(ctx)

	if ac.metricsManager != nil {
		ac.metricsManager.GetPrometheusMetrics().RecordSweep("full", result.Duration)
	}

	ac.logger.WithFields(logrus.Fields{
		"due_examined": result.DueExamined,
		"submitted":    result.Submitted,
		"confirmed":    result.Confirmed,
		"retried":      result.Retried,
		"terminal":     result.Terminal,
		"stranded":     result.Stranded,
		"duration":     result.Duration,
	}).Debug("Sweep cycle completed")

	return result, nil
}

// AnchorEvent runs the submission flow for a single event outside the
// periodic sweep, honoring the same claim and backoff rules.
func (ac *AnchorCoordinator) AnchorEvent(ctx context.Context, eventID string) error {
	record, err := ac.storage.GetIntegrityRecord(ctx, eventID)
	if err != nil {
		return err
	}
	if record.IsAnchored() {
		return nil
	}
	if record.Terminal {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Event has terminally failed anchoring", record.LastError)
	}
	if record.IntegrityStatus == models.StatusSubmitted {
		return utils.NewAppError(utils.ErrCodeValidation,
			"Event submission is already in flight", "")
	}

	if record.CanonicalHash == "" {
		hash, err := ac.computeHash(ctx, record.EventID)
		if err != nil {
			var canonErr *canonical.CanonicalizationError
			if errors.As(err, &canonErr) {
				ac.failTerminally(ctx, record.EventID,
					fmt.Sprintf("canonicalization failed: %s", canonErr.Error()))
				return utils.NewAppError(utils.ErrCodeCanonicalization,
					"Event payload cannot be canonicalized", canonErr.Error())
			}
			return err
		}
		record.CanonicalHash = hash
	}

	switch ac.processDue(ctx, record) {
	case outcomeSubmitted:
		return nil
	case outcomeSkipped:
		return utils.NewAppError(utils.ErrCodeValidation,
			"Event is not yet eligible for resubmission", "")
	case outcomeTerminal:
		return utils.NewAppError(utils.ErrCodeLedgerRejected,
			"Event anchoring failed terminally", "")
	default:
		return utils.NewAppError(utils.ErrCodeLedgerTransient,
			"Submission attempt failed, will retry on a later sweep", "")
	}
}

// submissionPass submits due records with bounded concurrency
func (ac *AnchorCoordinator) submissionPass(ctx context.Context, result *SweepResult) error {
	records, err := ac.storage.GetDueRecords(ctx, ac.config.MaxRetries, ac.config.BatchSize)
	if err != nil {
		return err
	}
	result.DueExamined = len(records)
	if len(records) == 0 {
		return nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, ac.config.Workers)
	)

	for _, record := range records {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(rec *models.IntegrityRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			out := ac.processDue(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSubmitted:
				result.Submitted++
			case outcomeRetried:
				result.Retried++
			case outcomeTerminal:
				result.Terminal++
			case outcomeError:
				result.Errors = append(result.Errors, rec.EventID)
			}
		}(record)
	}
	wg.Wait()
	return nil
}

// processDue takes one record through hash computation, claim, and submit
func (ac *AnchorCoordinator) processDue(ctx context.Context, record *models.IntegrityRecord) outcome {
	now := time.Now().UTC()

	if record.IntegrityStatus == models.StatusFailed && !ac.eligible(record, now) {
		return outcomeSkipped
	}

	hash := record.CanonicalHash
	if hash == "" {
		var err error
		hash, err = ac.computeHash(ctx, record.EventID)
		if err != nil {
			var canonErr *canonical.CanonicalizationError
			if errors.As(err, &canonErr) {
				ac.failTerminally(ctx, record.EventID,
					fmt.Sprintf("canonicalization failed: %s", canonErr.Error()))
				return outcomeTerminal
			}
			ac.recordError(err)
			return outcomeError
		}
	}

	// Claim before submit: only the sweep that wins this conditional
	// update talks to the ledger for the record.
	claimed, err := ac.storage.ClaimSubmission(ctx, record.EventID, record.IntegrityStatus, now)
	if err != nil {
		ac.recordError(err)
		return outcomeError
	}
	if !claimed {
		return outcomeSkipped
	}

	submitCtx, cancel := context.WithTimeout(ctx, ac.config.SubmitTimeout)
	defer cancel()

	idempotencyKey := utils.CreateIdempotencyKey(record.EventID, hash)
	receipt, err := ac.ledger.Submit(submitCtx, hash, idempotencyKey)
	if err != nil {
		return ac.handleSubmitError(ctx, record, err)
	}

	if _, err := ac.storage.SetAnchorReference(ctx, record.EventID, receipt.AnchorReference, receipt.SubmittedAt); err != nil {
		ac.recordError(err)
		return outcomeError
	}

	if ac.metricsManager != nil {
		ac.metricsManager.GetPrometheusMetrics().RecordSubmission("submitted")
	}
	ac.logger.WithFields(logrus.Fields{
		"event_id":         record.EventID,
		"anchor_reference": receipt.AnchorReference,
	}).Info("Event digest submitted to ledger")

	return outcomeSubmitted
}

// handleSubmitError classifies a ledger submit failure into a retryable or
// terminal state transition
func (ac *AnchorCoordinator) handleSubmitError(ctx context.Context, record *models.IntegrityRecord, err error) outcome {
	now := time.Now().UTC()

	if anchor.IsRejected(err) {
		ac.failTerminally(ctx, record.EventID, fmt.Sprintf("ledger rejected submission: %s", err.Error()))
		if ac.metricsManager != nil {
			ac.metricsManager.GetPrometheusMetrics().RecordSubmission("rejected")
		}
		return outcomeTerminal
	}

	// Transient: spend one retry, or give up when the budget is exhausted
	if record.RetryCount+1 >= ac.config.MaxRetries {
		ac.failTerminally(ctx, record.EventID,
			fmt.Sprintf("retry budget exhausted: %s", err.Error()))
		if ac.metricsManager != nil {
			ac.metricsManager.GetPrometheusMetrics().RecordSubmission("transient_error")
		}
		return outcomeTerminal
	}

	if _, markErr := ac.storage.MarkRetryableFailure(ctx, record.EventID, err.Error(), now); markErr != nil {
		ac.recordError(markErr)
		return outcomeError
	}
	if ac.metricsManager != nil {
		ac.metricsManager.GetPrometheusMetrics().RecordSubmission("transient_error")
	}
	ac.logger.WithFields(logrus.Fields{
		"event_id":    record.EventID,
		"retry_count": record.RetryCount + 1,
		"error":       err.Error(),
	}).Warn("Ledger submission failed, scheduled for retry")

	return outcomeRetried
}

// reconciliationPass checks submitted records against the ledger
func (ac *AnchorCoordinator) reconciliationPass(ctx context.Context, result *SweepResult) error {
	records, err := ac.storage.GetSubmittedRecords(ctx, ac.config.BatchSize)
	if err != nil {
		return err
	}

	for _, record := range records {
		if record.AnchorReference == "" {
			// No persisted receipt; stranded-submission release handles these.
			continue
		}

		statusCtx, cancel := context.WithTimeout(ctx, ac.config.SubmitTimeout)
		status, err := ac.ledger.GetStatus(statusCtx, record.AnchorReference)
		cancel()

		switch {
		case err == nil && status.Confirmed:
			if ok, err := ac.storage.MarkAnchored(ctx, record.EventID, status.BlockReference, time.Now().UTC()); err != nil {
				ac.recordError(err)
			} else if ok {
				result.Confirmed++
				if ac.metricsManager != nil {
					ac.metricsManager.GetPrometheusMetrics().RecordConfirmation(record.RetryCount)
				}
				ac.logger.WithFields(logrus.Fields{
					"event_id":         record.EventID,
					"anchor_reference": record.AnchorReference,
					"block":            status.BlockReference,
				}).Info("Event anchor confirmed")
			}

		case err == nil && status.Dropped, errors.Is(err, anchor.ErrNotFound):
			ac.handleDroppedAnchor(ctx, record, result)

		case err != nil:
			// Transient ledger trouble; leave the record submitted and
			// check again next sweep.
			ac.logger.WithFields(logrus.Fields{
				"event_id": record.EventID,
				"error":    err.Error(),
			}).Warn("Ledger status check failed")
		}
	}
	return nil
}

func (ac *AnchorCoordinator) handleDroppedAnchor(ctx context.Context, record *models.IntegrityRecord, result *SweepResult) {
	now := time.Now().UTC()
	reason := "anchor transaction dropped by ledger"

	if ac.notifier != nil {
		ac.notifier.Notify(ctx, &notification.Alert{
			Type:     notification.AlertAnchorDropped,
			EventID:  record.EventID,
			Severity: "warning",
			Message:  reason,
			Details:  map[string]interface{}{"anchor_reference": record.AnchorReference},
		})
	}

	if record.RetryCount+1 >= ac.config.MaxRetries {
		ac.failTerminally(ctx, record.EventID, reason)
		result.Terminal++
		return
	}
	if ok, err := ac.storage.MarkRetryableFailure(ctx, record.EventID, reason, now); err != nil {
		ac.recordError(err)
	} else if ok {
		result.Retried++
	}
}

// computeHash canonicalizes the event payload and persists the digest
func (ac *AnchorCoordinator) computeHash(ctx context.Context, eventID string) (string, error) {
	event, err := ac.storage.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}

	hash, version, err := canonical.HashEvent(event)
	if err != nil {
		return "", err
	}

	if err := ac.storage.SetCanonicalHash(ctx, eventID, hash, version); err != nil {
		return "", err
	}
	return hash, nil
}

// eligible applies the backoff schedule to a retryable failed record
func (ac *AnchorCoordinator) eligible(record *models.IntegrityRecord, now time.Time) bool {
	if record.LastAttemptAt == nil {
		return true
	}
	delay := backoffDelay(ac.config.BackoffBase, ac.config.BackoffMax, record.RetryCount)
	return !now.Before(record.LastAttemptAt.Add(delay))
}

func (ac *AnchorCoordinator) failTerminally(ctx context.Context, eventID, reason string) {
	now := time.Now().UTC()
	if _, err := ac.storage.MarkTerminalFailure(ctx, eventID, reason, now); err != nil {
		ac.recordError(err)
		return
	}

	ac.logger.WithFields(logrus.Fields{
		"event_id": eventID,
		"reason":   reason,
	}).Error("Event anchoring failed terminally")

	if ac.notifier != nil {
		ac.notifier.Notify(ctx, &notification.Alert{
			Type:     notification.AlertTerminalFailure,
			EventID:  eventID,
			Severity: "critical",
			Message:  reason,
		})
	}
}

func (ac *AnchorCoordinator) updateSweepStats(result *SweepResult) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	now := time.Now()
	ac.stats.SweepCount++
	ac.stats.TotalSubmitted += uint64(result.Submitted)
	ac.stats.TotalConfirmed += uint64(result.Confirmed)
	ac.stats.TotalRetried += uint64(result.Retried)
	ac.stats.TotalTerminal += uint64(result.Terminal)
	ac.stats.TotalStranded += uint64(result.Stranded)
	ac.stats.LastSweepAt = &now
	ac.stats.LastSweepDuration = result.Duration
}

func (ac *AnchorCoordinator) updateStatusGauges(ctx context.Context) {
	if ac.metricsManager == nil {
		return
	}
	stats, err := ac.storage.GetIntegrityStats(ctx)
	if err != nil {
		return
	}
	pm := ac.metricsManager.GetPrometheusMetrics()
	pm.UpdateRecordsByStatus(models.StatusUnanchored, stats.Unanchored)
	pm.UpdateRecordsByStatus(models.StatusSubmitted, stats.Submitted)
	pm.UpdateRecordsByStatus(models.StatusAnchored, stats.Anchored)
	pm.UpdateRecordsByStatus(models.StatusFailed, stats.Failed)
}

func (ac *AnchorCoordinator) recordError(err error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.stats.ErrorCount++
	msg := err.Error()
	ac.stats.LastError = &msg
}

// GetStats returns coordinator statistics
func (ac *AnchorCoordinator) GetStats() *CoordinatorStats {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	statsCopy := *ac.stats
	statsCopy.Uptime = time.Since(ac.stats.StartTime)
	statsCopy.IsRunning = ac.running
	return &statsCopy
}

// GetHealth returns coordinator health
func (ac *AnchorCoordinator) GetHealth(ctx context.Context) *HealthStatus {
	health := &HealthStatus{Healthy: true}

	if err := ac.storage.Ping(); err != nil {
		health.StorageHealthy = false
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("storage: %s", err.Error()))
	} else {
		health.StorageHealthy = true
	}

	if err := ac.ledger.Ping(ctx); err != nil {
		health.LedgerHealthy = false
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("ledger: %s", err.Error()))
	} else {
		health.LedgerHealthy = true
	}

	ac.mu.RLock()
	health.LastSweepAt = ac.stats.LastSweepAt
	running := ac.running
	ac.mu.RUnlock()

	if running && health.LastSweepAt != nil &&
		time.Since(*health.LastSweepAt) > 3*ac.config.SweepInterval {
		health.Healthy = false
		health.Issues = append(health.Issues, "sweep loop has stalled")
	}

	return health
}
