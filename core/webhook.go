package core

import (
	"fmt"
	"net/url"
	"time"
)

// Webhook event names.
const (
	EventAnomalyDetected = "anomaly.detected"
	EventAnalysisDone    = "analysis.completed"
	EventAnalysisFailed  = "analysis.failed"
	EventBulkReviewed    = "anomaly.bulk_updated"
)

// Live-feed-only event names. Never delivered to webhooks.
const (
	EventAnalysisStarted  = "analysis.started"
	EventCacheInvalidated = "cache.invalidated"
)

// Webhook is a registered outbound notification target.
type Webhook struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Secret  string   `json:"-"`
	Events  []string `json:"events"`
	Enabled bool     `json:"enabled"`
	// MinRiskScore suppresses anomaly.detected deliveries below this score.
	MinRiskScore float64   `json:"minRiskScore"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ValidWebhookEvent reports whether e is a deliverable event name.
func ValidWebhookEvent(e string) bool {
	switch e {
	case EventAnomalyDetected, EventAnalysisDone, EventAnalysisFailed, EventBulkReviewed:
		return true
	}
	return false
}

// Validate rejects webhooks that could never deliver.
func (w *Webhook) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", w.URL)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("webhook must subscribe to at least one event")
	}
	for _, e := range w.Events {
		if !ValidWebhookEvent(e) {
			return fmt.Errorf("unknown webhook event: %s", e)
		}
	}
	return nil
}

// Subscribed reports whether the webhook wants the named event.
func (w *Webhook) Subscribed(event string) bool {
	if !w.Enabled {
		return false
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}
