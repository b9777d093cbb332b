package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"logguard/config"
	"logguard/core"
	"logguard/storage"
)

type capturedRequest struct {
	body    []byte
	headers http.Header
}

type captureServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{status: status}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{body: body, headers: r.Header.Clone()})
		cs.mu.Unlock()
		w.WriteHeader(cs.status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.requests)
}

func (cs *captureServer) last() capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests[len(cs.requests)-1]
}

func newTestNotifier(t *testing.T, enabled bool) (*Notifier, storage.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	store, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Notifications.Enabled = enabled
	cfg.Notifications.Timeout = 5
	return NewNotifier(cfg, store, logger), store
}

func registerWebhook(t *testing.T, store storage.Store, url, secret string, minRisk float64, events ...string) *core.Webhook {
	t.Helper()
	w := &core.Webhook{
		ID:           uuid.NewString(),
		URL:          url,
		Secret:       secret,
		Events:       events,
		Enabled:      true,
		MinRiskScore: minRisk,
	}
	require.NoError(t, store.SaveWebhook(context.Background(), w))
	return w
}

func TestNotifier_DeliversSignedPayload(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	n, store := newTestNotifier(t, true)
	registerWebhook(t, store, server.URL, "s3cret", 0, core.EventAnalysisDone)

	n.Notify(context.Background(), core.EventAnalysisDone, map[string]interface{}{
		"logFileId":      "file-1",
		"anomaliesFound": 2,
	})
	n.Wait()

	require.Equal(t, 1, server.count())
	req := server.last()

	assert.Equal(t, "application/json", req.headers.Get("Content-Type"))
	assert.Equal(t, core.EventAnalysisDone, req.headers.Get(EventHeader))
	assert.True(t, Verify("s3cret", req.body, req.headers.Get(SignatureHeader)))
	assert.False(t, Verify("wrong", req.body, req.headers.Get(SignatureHeader)))

	var env envelope
	require.NoError(t, json.Unmarshal(req.body, &env))
	assert.Equal(t, core.EventAnalysisDone, env.Event)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "file-1", data["logFileId"])
}

func TestNotifier_SkipsUnsubscribedEvents(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	n, store := newTestNotifier(t, true)
	registerWebhook(t, store, server.URL, "", 0, core.EventAnalysisFailed)

	n.Notify(context.Background(), core.EventAnalysisDone, nil)
	n.Wait()

	assert.Zero(t, server.count())
}

func TestNotifier_RiskThresholdFiltersDetections(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	n, store := newTestNotifier(t, true)
	registerWebhook(t, store, server.URL, "", 9.0, core.EventAnomalyDetected)

	lowRisk := map[string]interface{}{
		"logFileId": "file-1",
		"anomalies": []core.Anomaly{{ID: "a1", RiskScore: 5.0}},
	}
	n.Notify(context.Background(), core.EventAnomalyDetected, lowRisk)
	n.Wait()
	assert.Zero(t, server.count(), "below-threshold detections are filtered")

	highRisk := map[string]interface{}{
		"logFileId": "file-1",
		"anomalies": []core.Anomaly{{ID: "a1", RiskScore: 5.0}, {ID: "a2", RiskScore: 9.5}},
	}
	n.Notify(context.Background(), core.EventAnomalyDetected, highRisk)
	n.Wait()
	assert.Equal(t, 1, server.count(), "one anomaly over the threshold delivers")
}

func TestNotifier_DisabledDeliversNothing(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK)
	n, store := newTestNotifier(t, false)
	registerWebhook(t, store, server.URL, "", 0, core.EventAnalysisDone)

	n.Notify(context.Background(), core.EventAnalysisDone, nil)
	n.Wait()

	assert.Zero(t, server.count())
}

func TestNotifier_CircuitBreakerStopsFailingEndpoint(t *testing.T) {
	server := newCaptureServer(t, http.StatusInternalServerError)
	n, store := newTestNotifier(t, true)
	registerWebhook(t, store, server.URL, "", 0, core.EventAnalysisDone)

	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), core.EventAnalysisDone, nil)
		n.Wait()
	}

	assert.Equal(t, 3, server.count(), "breaker opens after three failures")
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"analysis.completed"}`)
	sig := Sign("key", body)

	assert.Contains(t, sig, "sha256=")
	assert.True(t, Verify("key", body, sig))
	assert.False(t, Verify("key", []byte("tampered"), sig))
}
