package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/supplychain-anchor/internal/anchor"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/internal/coordinator"
	"github.com/smartdevs17/supplychain-anchor/internal/models"
	"github.com/smartdevs17/supplychain-anchor/internal/notification"
	"github.com/smartdevs17/supplychain-anchor/internal/storage"
	"github.com/smartdevs17/supplychain-anchor/internal/verify"
)

type testServer struct {
	server *HTTPServer
	store  storage.Storage
	ledger *anchor.MemoryLedger
}

func newTestServer(t *testing.T) *testServer {
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

	ledger := anchor.NewMemoryLedger()
	notifier := notification.NewManager(&config.NotificationConfig{
		Enabled:        true,
		DefaultChannel: "log",
	})

	coord := coordinator.NewAnchorCoordinator(store, ledger, notifier, &coordinator.Config{
		SweepInterval:   time.Second,
		BatchSize:       10,
		Workers:         2,
		MaxRetries:      3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		SubmitTimeout:   2 * time.Second,
		ResubmitTimeout: 10 * time.Minute,
	})
	verifier := verify.NewService(store, ledger, notifier)

	srv, err := NewHTTPServer(&config.ServerConfig{
		Port:         0,
		Host:         "127.0.0.1",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		EnableHealth: true,
	}, store, coord, verifier, notifier, nil)
	require.NoError(t, err)

	return &testServer{server: srv, store: store, ledger: ledger}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	ts.server.router.ServeHTTP(recorder, req)
	return recorder
}

func (ts *testServer) createEvent(t *testing.T) string {
	t.Helper()

	resp := ts.do(t, "POST", "/api/v1/events", map[string]interface{}{
		"entity_type": "batch",
		"entity_id":   42,
		"event_type":  "created",
		"description": "batch registered",
		"severity":    "info",
		"metadata":    map[string]interface{}{"sku": "A-100"},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body struct {
		Event models.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Event.ID)
	return body.Event.ID
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "healthy")
}

func TestCreateAndGetEvent(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEvent(t)

	resp := ts.do(t, "GET", "/api/v1/events/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Event     models.Event           `json:"event"`
		Integrity models.IntegrityRecord `json:"integrity"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "batch", body.Event.EntityType)
	assert.Equal(t, models.StatusUnanchored, body.Integrity.IntegrityStatus)
}

func TestCreateEventValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/events", map[string]interface{}{
		"entity_type": "spaceship",
		"entity_id":   1,
		"event_type":  "created",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(t, "POST", "/api/v1/events", map[string]interface{}{
		"entity_type": "batch",
		"entity_id":   1,
		"event_type":  "teleported",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.createEvent(t)
	ts.createEvent(t)

	resp := ts.do(t, "GET", "/api/v1/events?entity_type=batch&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Events []models.Event `json:"events"`
		Total  int64          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Len(t, body.Events, 2)
	assert.Equal(t, int64(2), body.Total)
}

func TestAnchorAndVerifyFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEvent(t)

	resp := ts.do(t, "POST", "/api/v1/anchor/"+id, nil)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	// Reconcile the submission so the anchor confirms.
	resp = ts.do(t, "POST", "/api/v1/coordinator/sweep", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, "GET", "/api/v1/integrity/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var record models.IntegrityRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &record))
	assert.Equal(t, models.StatusAnchored, record.IntegrityStatus)

	resp = ts.do(t, "GET", "/api/v1/verify/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var result models.VerificationResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.True(t, result.Verified)
	assert.Equal(t, models.ReasonVerified, result.Reason)
}

func TestAnchorRejectedByLedger(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEvent(t)

	ts.ledger.RejectNext()

	resp := ts.do(t, "POST", "/api/v1/anchor/"+id, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code, resp.Body.String())

	var record models.IntegrityRecord
	integrity := ts.do(t, "GET", "/api/v1/integrity/"+id, nil)
	require.NoError(t, json.Unmarshal(integrity.Body.Bytes(), &record))
	assert.Equal(t, models.StatusFailed, record.IntegrityStatus)
	assert.True(t, record.Terminal)
}

func TestAnchorLedgerUnavailable(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEvent(t)

	ts.ledger.SetUnreachable(true)

	resp := ts.do(t, "POST", "/api/v1/anchor/"+id, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code, resp.Body.String())

	// The failure is retryable, the record stays claimable for later sweeps.
	var record models.IntegrityRecord
	integrity := ts.do(t, "GET", "/api/v1/integrity/"+id, nil)
	require.NoError(t, json.Unmarshal(integrity.Body.Bytes(), &record))
	assert.Equal(t, models.StatusFailed, record.IntegrityStatus)
	assert.False(t, record.Terminal)
}

func TestAnchorUnknownEvent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/anchor/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestVerifyUnknownEvent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/verify/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestIntegrityStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createEvent(t)

	resp := ts.do(t, "GET", "/api/v1/integrity/stats", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Stats models.IntegrityStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Stats.Unanchored)
}

func TestCoordinatorStatus(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/coordinator/status", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.Running)
}
