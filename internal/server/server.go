// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/supplychain-anchor/internal/canonical"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/internal/coordinator"
	"github.com/smartdevs17/supplychain-anchor/internal/metrics"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/internal/notification"
	"github.com/smartdevs17/supplychain-anchor/internal/storage"
	"github.com/smartdevs17/supplychain-anchor/internal/verify"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// HTTPServer exposes the event recording, anchoring, and verification API
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	coordinator    coordinator.Coordinator
	verifier       *verify.Service
	notifier       notification.Notifier
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	coord coordinator.Coordinator,
	verifier *verify.Service,
	notifier notification.Notifier,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         cfg,
		storage:        store,
		coordinator:    coord,
		verifier:       verifier,
		notifier:       notifier,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoints
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Event endpoints
	api.HandleFunc("/events", s.createEventHandler).Methods("POST")
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/events/{id}", s.getEventHandler).Methods("GET")

	// Anchoring endpoints
	api.HandleFunc("/anchor/{event_id}", s.anchorEventHandler).Methods("POST")
	api.HandleFunc("/integrity/stats", s.integrityStatsHandler).Methods("GET")
	api.HandleFunc("/integrity/{event_id}", s.getIntegrityHandler).Methods("GET")

	// Verification endpoints
	api.HandleFunc("/verify/{event_id}", s.verifyEventHandler).Methods("GET")

	// Coordinator endpoints
	api.HandleFunc("/coordinator/status", s.coordinatorStatusHandler).Methods("GET")
	api.HandleFunc("/coordinator/sweep", s.sweepHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("error", err.Error()).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         "1.0.0",
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns per-component health
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	coordHealth := s.coordinator.GetHealth(r.Context())

	status := "healthy"
	code := http.StatusOK
	if !coordHealth.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"version":   "1.0.0",
		"components": map[string]interface{}{
			"storage":     coordHealth.StorageHealthy,
			"ledger":      coordHealth.LedgerHealthy,
			"coordinator": coordHealth,
		},
	}

	s.writeJSON(w, code, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":     time.Now(),
		"storage":       storageStats,
		"coordinator":   s.coordinator.GetStats(),
		"notifications": s.notifier.GetStats(),
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Event Handlers

type createEventRequest struct {
	EntityType  string                 `json:"entity_type"`
	EntityID    int64                  `json:"entity_id"`
	EventType   string                 `json:"event_type"`
	Timestamp   *time.Time             `json:"timestamp,omitempty"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Severity    string                 `json:"severity,omitempty"`
	Actor       string                 `json:"actor,omitempty"`
	Location    string                 `json:"location,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
}

// createEventHandler records a new event and opens its integrity record
func (s *HTTPServer) createEventHandler(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !models.IsValidEntityType(req.EntityType) {
		s.writeError(w, http.StatusBadRequest, "Invalid entity type", nil)
		return
	}
	if !models.IsValidEventType(req.EventType) {
		s.writeError(w, http.StatusBadRequest, "Invalid event type", nil)
		return
	}
	if req.Severity == "" {
		req.Severity = "info"
	}
	if !models.IsValidSeverity(req.Severity) {
		s.writeError(w, http.StatusBadRequest, "Invalid severity", nil)
		return
	}

	id, err := utils.GenerateID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to generate event ID", err)
		return
	}

	now := time.Now().UTC()
	timestamp := now
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	event := &models.Event{
		ID:          id,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		EventType:   req.EventType,
		Timestamp:   timestamp,
		Description: req.Description,
		Metadata:    req.Metadata,
		Severity:    req.Severity,
		Actor:       req.Actor,
		Location:    req.Location,
		DisplayName: req.DisplayName,
		IPAddress:   r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		CreatedAt:   now,
	}

	if err := s.storage.CreateEvent(r.Context(), event); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to create event", err)
		return
	}

	// The fingerprint is computed inline; anchoring itself happens on the
	// coordinator's schedule. A canonicalization failure still records the
	// event, but its integrity record is terminally failed from the start.
	record := &models.IntegrityRecord{
		EventID:         event.ID,
		IntegrityStatus: models.StatusUnanchored,
		UpdatedAt:       now,
	}
	if digest, version, hashErr := canonical.HashEvent(event); hashErr != nil {
		record.IntegrityStatus = models.StatusFailed
		record.Terminal = true
		record.LastError = hashErr.Error()
	} else {
		record.CanonicalHash = digest
		record.HashVersion = version
	}
	if err := s.storage.CreateIntegrityRecord(r.Context(), record); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to create integrity record", err)
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordEventCreated(
			event.EntityType, event.EventType, event.Severity)
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"event":            event,
		"integrity_status": record.IntegrityStatus,
	})
}

// listEventsHandler lists events with optional filters
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.EventFilter{
		Limit:  50,
		Offset: 0,
	}

	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if v := q.Get("entity_type"); v != "" {
		filter.EntityType = &v
	}
	if v := q.Get("entity_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.EntityID = &id
		}
	}
	if v := q.Get("event_type"); v != "" {
		filter.EventType = &v
	}
	if v := q.Get("severity"); v != "" {
		filter.Severity = &v
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.FromTime = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.ToTime = &t
		}
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve events", err)
		return
	}

	total, err := s.storage.GetEventCount(r.Context(), filter)
	if err != nil {
		total = int64(len(events))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"total":  total,
	})
}

// getEventHandler gets a specific event with its integrity record
func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	event, err := s.storage.GetEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Event not found", err)
		return
	}

	response := map[string]interface{}{
		"event": event,
	}
	if record, err := s.storage.GetIntegrityRecord(r.Context(), id); err == nil {
		response["integrity"] = record
	}

	s.writeJSON(w, http.StatusOK, response)
}

// Anchoring Handlers

// anchorEventHandler requests immediate anchoring of one event
func (s *HTTPServer) anchorEventHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	eventID := vars["event_id"]

	if err := s.coordinator.AnchorEvent(r.Context(), eventID); err != nil {
		if appErr, ok := err.(*utils.AppError); ok {
			switch appErr.Code {
			case utils.ErrCodeNotFound:
				s.writeError(w, http.StatusNotFound, "Event not found", err)
			case utils.ErrCodeValidation:
				s.writeError(w, http.StatusConflict, appErr.Message, err)
			case utils.ErrCodeCanonicalization, utils.ErrCodeLedgerRejected:
				s.writeError(w, http.StatusUnprocessableEntity, appErr.Message, err)
			case utils.ErrCodeLedgerTransient:
				s.writeError(w, http.StatusServiceUnavailable, appErr.Message, err)
			default:
				s.writeError(w, http.StatusInternalServerError, "Anchoring failed", err)
			}
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Anchoring failed", err)
		return
	}

	record, err := s.storage.GetIntegrityRecord(r.Context(), eventID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load integrity record", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "Anchoring submitted",
		"event_id":  eventID,
		"integrity": record,
	})
}

// getIntegrityHandler returns the integrity record for an event
func (s *HTTPServer) getIntegrityHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	eventID := vars["event_id"]

	record, err := s.storage.GetIntegrityRecord(r.Context(), eventID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Integrity record not found", err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// integrityStatsHandler returns per-status record counts
func (s *HTTPServer) integrityStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetIntegrityStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve integrity stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now(),
		"stats":     stats,
	})
}

// Verification Handlers

// verifyEventHandler recomputes and cross-checks an event fingerprint
func (s *HTTPServer) verifyEventHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	eventID := vars["event_id"]

	result, err := s.verifier.Verify(r.Context(), eventID)
	if err != nil {
		if appErr, ok := err.(*utils.AppError); ok && appErr.Code == utils.ErrCodeNotFound {
			s.writeError(w, http.StatusNotFound, "Event not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Verification failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// Coordinator Handlers

// coordinatorStatusHandler gets coordinator status
func (s *HTTPServer) coordinatorStatusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"running":   s.coordinator.IsRunning(),
		"health":    s.coordinator.GetHealth(r.Context()),
		"stats":     s.coordinator.GetStats(),
		"timestamp": time.Now(),
	}

	s.writeJSON(w, http.StatusOK, status)
}

// sweepHandler triggers an immediate sweep cycle
func (s *HTTPServer) sweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.coordinator.SweepOnce(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
