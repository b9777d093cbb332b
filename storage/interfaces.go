package storage

import (
	"context"
	"time"

	"logguard/core"
)

// MaxBulkIDs caps how many anomaly IDs one bulk status update may carry.
const MaxBulkIDs = 1000

// AnomalyFilter narrows anomaly listings. Zero values mean "no constraint".
type AnomalyFilter struct {
	LogFileID       string
	Status          string
	DetectionMethod string
	MinRiskScore    float64
	// Search matches case-insensitively against type, description and the
	// raw log entry.
	Search string
	Limit  int
	Offset int
}

// AnomalyStore persists detected anomalies and their review state.
type AnomalyStore interface {
	SaveAnomaly(ctx context.Context, a *core.Anomaly) error
	SaveAnomalies(ctx context.Context, anomalies []core.Anomaly) error
	GetAnomaly(ctx context.Context, id string) (*core.Anomaly, error)
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]core.Anomaly, error)
	UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error)
	// BulkUpdateStatus moves every listed anomaly to status atomically: all
	// rows change or none do. Returns the number of rows actually updated.
	BulkUpdateStatus(ctx context.Context, ids []string, status string, reviewedAt time.Time) (int, error)
	SetAIAnalysis(ctx context.Context, id string, analysis map[string]interface{}) error
}

// LogFileStore persists upload session records.
type LogFileStore interface {
	SaveLogFile(ctx context.Context, f *core.LogFile) error
	GetLogFile(ctx context.Context, id string) (*core.LogFile, error)
	ListLogFiles(ctx context.Context) ([]core.LogFile, error)
	UpdateLogFileStatus(ctx context.Context, id, status string, totalEntries int, errorMessage string) error
	DeleteLogFile(ctx context.Context, id string) error
}

// APIKeyStore persists user-supplied AI provider keys.
type APIKeyStore interface {
	SetAPIKey(ctx context.Context, provider, key string) (*core.APIKeyRecord, error)
	GetAPIKey(ctx context.Context, provider string) (*core.APIKeyRecord, error)
	KeyStatus(ctx context.Context) (core.KeyStatus, error)
	DeleteAPIKey(ctx context.Context, provider string) error
}

// WebhookStore persists outbound notification targets.
type WebhookStore interface {
	SaveWebhook(ctx context.Context, w *core.Webhook) error
	GetWebhook(ctx context.Context, id string) (*core.Webhook, error)
	ListWebhooks(ctx context.Context) ([]core.Webhook, error)
	UpdateWebhook(ctx context.Context, w *core.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
}

// Store is the full metadata storage surface the service runs on.
type Store interface {
	AnomalyStore
	LogFileStore
	APIKeyStore
	WebhookStore
	Close() error
}
