package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"logguard/config"
	"logguard/core"
	"logguard/metrics"
	"logguard/storage"
	"logguard/util/goroutine"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, computed
// with the webhook's secret. Receivers verify it before trusting the payload.
const SignatureHeader = "X-LogGuard-Signature"

// EventHeader names the event type so receivers can route without parsing.
const EventHeader = "X-LogGuard-Event"

const userAgent = "LogGuard/1.0"

// envelope is the wire shape of every delivery.
type envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier delivers analysis lifecycle events to registered webhook endpoints.
// Deliveries run in the background and never block the caller. Each endpoint
// gets its own circuit breaker so one dead receiver cannot slow the rest.
type Notifier struct {
	store   storage.WebhookStore
	client  *http.Client
	logger  *zap.SugaredLogger
	enabled bool

	cbMu     sync.RWMutex
	breakers map[string]*core.CircuitBreaker

	wg sync.WaitGroup
}

// NewNotifier builds a notifier backed by the webhook store.
func NewNotifier(cfg *config.Config, store storage.WebhookStore, logger *zap.SugaredLogger) *Notifier {
	timeout := time.Duration(cfg.Notifications.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		store:   store,
		enabled: cfg.Notifications.Enabled,
		logger:  logger,
		breakers: make(map[string]*core.CircuitBreaker),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// Notify fans the event out to every subscribed webhook. It returns
// immediately; failures are logged and counted, never surfaced to the caller.
func (n *Notifier) Notify(ctx context.Context, event string, payload interface{}) {
	if !n.enabled {
		return
	}

	webhooks, err := n.store.ListWebhooks(ctx)
	if err != nil {
		n.logger.Errorw("Failed to list webhooks for delivery", "event", event, "error", err)
		return
	}

	targets := make([]core.Webhook, 0, len(webhooks))
	for _, w := range webhooks {
		if !w.Subscribed(event) {
			continue
		}
		if event == core.EventAnomalyDetected && maxRiskScore(payload) < w.MinRiskScore {
			metrics.WebhookDeliveries.WithLabelValues("filtered").Inc()
			continue
		}
		targets = append(targets, w)
	}
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(envelope{Event: event, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		n.logger.Errorw("Failed to marshal webhook payload", "event", event, "error", err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer goroutine.Recover("webhook-delivery", n.logger)
		for i := range targets {
			n.deliver(&targets[i], event, body)
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used during shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(w *core.Webhook, event string, body []byte) {
	cb := n.breaker(w.URL)
	if err := cb.Allow(); err != nil {
		n.logger.Warnw("Circuit breaker open for webhook", "url", w.URL, "event", event)
		metrics.WebhookDeliveries.WithLabelValues("circuit_open").Inc()
		return
	}

	if err := n.post(w, event, body); err != nil {
		cb.RecordFailure()
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		n.logger.Errorw("Webhook delivery failed",
			"webhook_id", w.ID, "url", w.URL, "event", event, "error", err)
		return
	}
	cb.RecordSuccess()
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	n.logger.Infow("Delivered webhook", "webhook_id", w.ID, "event", event)
}

func (n *Notifier) post(w *core.Webhook, event string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(EventHeader, event)
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// breaker returns the per-endpoint circuit breaker, creating it on first use.
func (n *Notifier) breaker(url string) *core.CircuitBreaker {
	n.cbMu.RLock()
	cb, ok := n.breakers[url]
	n.cbMu.RUnlock()
	if ok {
		return cb
	}

	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	if cb, ok := n.breakers[url]; ok {
		return cb
	}
	cb = core.MustNewCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Minute,
		MaxHalfOpenRequests: 1,
	})
	n.breakers[url] = cb
	return cb
}

// Sign computes the signature header value for a delivery body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the body. Receivers use it to
// reject forged deliveries. Constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// maxRiskScore digs the highest anomaly score out of an event payload so the
// per-webhook threshold can be applied. Unknown shapes score zero.
func maxRiskScore(payload interface{}) float64 {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return 0
	}
	anomalies, ok := m["anomalies"].([]core.Anomaly)
	if !ok {
		return 0
	}
	max := 0.0
	for i := range anomalies {
		if anomalies[i].RiskScore > max {
			max = anomalies[i].RiskScore
		}
	}
	return max
}
