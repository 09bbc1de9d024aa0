// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// WebhookSender delivers alerts to an HTTP endpoint
type WebhookSender struct {
	config     *config.NotificationConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(cfg *config.NotificationConfig) *WebhookSender {
	return &WebhookSender{
		config: cfg,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Send delivers an alert with retry logic
func (ws *WebhookSender) Send(ctx context.Context, alert *Alert) error {
	payload := &WebhookPayload{
		Alert:     alert,
		Timestamp: time.Now().UTC(),
		Source:    "supplychain-anchor",
		Version:   "1.0",
	}

	maxAttempts := ws.config.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.config.RetryDelay * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = ws.sendOnce(ctx, payload)
		if lastErr == nil {
			ws.logger.WithFields(logrus.Fields{
				"alert_id": alert.ID,
				"url":      ws.config.WebhookURL,
				"attempt":  attempt,
			}).Debug("Webhook alert delivered")
			return nil
		}

		ws.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"url":      ws.config.WebhookURL,
			"attempt":  attempt,
			"error":    lastErr.Error(),
		}).Warn("Webhook delivery attempt failed")
	}

	return lastErr
}

func (ws *WebhookSender) sendOnce(ctx context.Context, payload *WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SupplyChain-Anchor/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if requestID, err := utils.GenerateID(); err == nil {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeInternal,
			"Webhook returned non-success status", fmt.Sprintf("status: %d", resp.StatusCode))
	}
	return nil
}
