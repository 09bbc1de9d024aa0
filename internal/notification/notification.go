// File: internal/notification/notification.go
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// Alert types raised by the anchoring and verification pipelines
const (
	AlertTamperDetected  = "tamper_detected"
	AlertLedgerMismatch  = "ledger_mismatch"
	AlertTerminalFailure = "terminal_failure"
	AlertAnchorDropped   = "anchor_dropped"
)

// Alert carries an integrity finding to the configured channels
type Alert struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	EventID   string                 `json:"event_id"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier dispatches integrity alerts
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
	GetStats() *NotifierStats
}

// NotifierStats tracks dispatch outcomes
type NotifierStats struct {
	TotalSent   uint64     `json:"total_sent"`
	TotalFailed uint64     `json:"total_failed"`
	LastAlertAt *time.Time `json:"last_alert_at,omitempty"`
}

// Manager implements Notifier over the configured channels
type Manager struct {
	config  *config.NotificationConfig
	logger  *logrus.Logger
	webhook *WebhookSender

	mu    sync.Mutex
	stats NotifierStats
}

// NewManager creates a notification manager
func NewManager(cfg *config.NotificationConfig) *Manager {
	m := &Manager{
		config: cfg,
		logger: utils.GetLogger(),
	}
	if cfg.WebhookURL != "" {
		m.webhook = NewWebhookSender(cfg)
	}
	return m
}

// Notify dispatches an alert to the default channel. The log channel is
// always written so findings survive a misconfigured webhook.
func (m *Manager) Notify(ctx context.Context, alert *Alert) error {
	if !m.config.Enabled {
		return nil
	}

	if alert.ID == "" {
		if id, err := utils.GenerateID(); err == nil {
			alert.ID = id
		}
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	m.logAlert(alert)

	var err error
	if m.config.DefaultChannel == "webhook" && m.webhook != nil {
		err = m.webhook.Send(ctx, alert)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.stats.LastAlertAt = &now
	if err != nil {
		m.stats.TotalFailed++
	} else {
		m.stats.TotalSent++
	}
	return err
}

// GetStats returns dispatch statistics
func (m *Manager) GetStats() *NotifierStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	statsCopy := m.stats
	return &statsCopy
}

func (m *Manager) logAlert(alert *Alert) {
	entry := m.logger.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"event_id":   alert.EventID,
		"severity":   alert.Severity,
	})

	switch alert.Type {
	case AlertTamperDetected, AlertLedgerMismatch:
		entry.Error(alert.Message)
	default:
		entry.Warn(alert.Message)
	}
}
