package analyze

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"logguard/config"
	"logguard/core"
	"logguard/storage"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *storage.SQLite
	cache      core.Cache
	cfg        *config.Config
}

func newDispatcherFixture(t *testing.T, openAIBase string) *dispatcherFixture {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()

	store, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache, err := core.NewMemoryCache(64)
	require.NoError(t, err)

	cfg := testAIConfig(openAIBase)
	cfg.DataPaths.UploadsDir = t.TempDir()
	cfg.Analysis.MaxConcurrent = 2
	cfg.Analysis.RegexTimeout = 1000

	traditional, err := NewTraditionalAnalyzer("", cfg.GetRegexTimeout(), logger)
	require.NoError(t, err)
	advanced := NewAdvancedMLAnalyzer(logger)
	ai, err := NewAIAnalyzer(cfg, logger)
	require.NoError(t, err)

	d := NewDispatcher(cfg, store, cache, traditional, advanced, ai, nil, nil, nil, logger)
	return &dispatcherFixture{dispatcher: d, store: store, cache: cache, cfg: cfg}
}

// uploadFile stores content on disk and registers the log file record.
func (f *dispatcherFixture) uploadFile(t *testing.T, content string) *core.LogFile {
	t.Helper()

	stored := uuid.NewString() + ".log"
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.DataPaths.UploadsDir, stored), []byte(content), 0644))

	logFile := &core.LogFile{
		ID:           uuid.NewString(),
		Filename:     stored,
		OriginalName: "auth.log",
		FileSize:     int64(len(content)),
		Status:       core.FileStatusPending,
	}
	require.NoError(t, f.store.SaveLogFile(context.Background(), logFile))
	return logFile
}

const suspiciousLog = `Mar  1 12:00:00 host sshd[991]: Failed password for root from 203.0.113.9
Mar  1 12:00:05 host sshd[991]: Failed password for root from 203.0.113.9
Mar  1 12:00:10 host cron[12]: job finished`

func TestDispatcher_RunTraditional(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()
	logFile := f.uploadFile(t, suspiciousLog)

	// Seed the cache so invalidation is observable.
	require.NoError(t, f.cache.Set(ctx, core.CacheKeyAnomalies, []core.Anomaly{}, time.Minute))

	result, err := f.dispatcher.RunTraditional(ctx, logFile.ID)
	require.NoError(t, err)

	assert.Equal(t, core.MethodTraditional, result.Method)
	assert.Equal(t, 3, result.LogEntriesAnalyzed)
	assert.GreaterOrEqual(t, result.AnomaliesFound, 2)

	stored, err := f.store.ListAnomalies(ctx, storage.AnomalyFilter{LogFileID: logFile.ID})
	require.NoError(t, err)
	assert.Len(t, stored, result.AnomaliesFound)

	updated, err := f.store.GetLogFile(ctx, logFile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.FileStatusCompleted, updated.Status)
	assert.Equal(t, 3, updated.TotalEntries)

	var cached []core.Anomaly
	found, err := f.cache.Get(ctx, core.CacheKeyAnomalies, &cached)
	require.NoError(t, err)
	assert.False(t, found, "anomaly list cache must be invalidated after a run")
}

func TestDispatcher_RunAdvancedML(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()
	logFile := f.uploadFile(t, suspiciousLog)

	result, err := f.dispatcher.RunAdvancedML(ctx, logFile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MethodAdvancedML, result.Method)
	assert.Len(t, result.ModelsUsed, 3)
}

func TestDispatcher_UnknownLogFile(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")

	_, err := f.dispatcher.RunTraditional(context.Background(), "absent")
	assert.ErrorIs(t, err, storage.ErrLogFileNotFound)
}

func TestDispatcher_SingleFlightPerFileAndStrategy(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")

	release, err := f.dispatcher.begin("file-1", StrategyTraditional)
	require.NoError(t, err)
	defer release()

	_, err = f.dispatcher.begin("file-1", StrategyTraditional)
	assert.ErrorIs(t, err, ErrDispatchInFlight)

	// A different strategy on the same file is an independent invocation site.
	release2, err := f.dispatcher.begin("file-1", StrategyAdvancedML)
	require.NoError(t, err)
	release2()
}

func TestDispatcher_ProcessingLimit(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	f.cfg.Analysis.MaxConcurrent = 2

	r1, err := f.dispatcher.begin("file-1", StrategyTraditional)
	require.NoError(t, err)
	r2, err := f.dispatcher.begin("file-2", StrategyTraditional)
	require.NoError(t, err)

	_, err = f.dispatcher.begin("file-3", StrategyTraditional)
	assert.ErrorIs(t, err, ErrProcessingLimit)

	r1()
	r3, err := f.dispatcher.begin("file-3", StrategyTraditional)
	require.NoError(t, err, "releasing a slot frees capacity")
	r3()
	r2()
}

func TestDispatcher_RerunSupersedesPendingOnly(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()
	logFile := f.uploadFile(t, suspiciousLog)

	first, err := f.dispatcher.RunTraditional(ctx, logFile.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first.Anomalies)

	// Analyst confirms one finding before the rerun.
	confirmed := first.Anomalies[0].ID
	status := core.StatusConfirmed
	_, err = f.store.UpdateAnomaly(ctx, confirmed, core.AnomalyUpdate{Status: &status})
	require.NoError(t, err)

	_, err = f.dispatcher.RunTraditional(ctx, logFile.ID)
	require.NoError(t, err)

	kept, err := f.store.GetAnomaly(ctx, confirmed)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConfirmed, kept.Status, "reviewed rows survive reruns")

	pending, err := f.store.ListAnomalies(ctx, storage.AnomalyFilter{
		LogFileID: logFile.ID,
		Status:    core.StatusPending,
	})
	require.NoError(t, err)
	assert.Len(t, pending, first.AnomaliesFound, "rerun emits a fresh pending set")
}

func TestDispatcher_DispatchAI_RefusedWithoutKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	f := newDispatcherFixture(t, server.URL)
	logFile := f.uploadFile(t, suspiciousLog)

	_, err := f.dispatcher.DispatchAI(context.Background(), logFile.ID, AIConfig{Provider: "openai"})
	require.ErrorIs(t, err, ErrProviderNotConfigured)
	assert.Zero(t, calls.Load(), "refused dispatch must make no provider call")
}

func TestDispatcher_DispatchAI_Async(t *testing.T) {
	findings := `[{"anomalyType":"credential_stuffing","description":"Scripted login burst","riskScore":8.8,"lineNumber":1}]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": findings}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	f := newDispatcherFixture(t, server.URL)
	ctx := context.Background()
	logFile := f.uploadFile(t, suspiciousLog)

	_, err := f.store.SetAPIKey(ctx, "openai", "sk-test")
	require.NoError(t, err)

	ack, err := f.dispatcher.DispatchAI(ctx, logFile.ID, AIConfig{Provider: "openai", Tier: "premium"})
	require.NoError(t, err)
	assert.Equal(t, "started", ack.Status)
	assert.Equal(t, "openai", ack.Provider)
	assert.Equal(t, "premium", ack.Tier)

	require.Eventually(t, func() bool {
		anomalies, err := f.store.ListAnomalies(ctx, storage.AnomalyFilter{
			LogFileID:       logFile.ID,
			DetectionMethod: core.ProviderOpenAI,
		})
		return err == nil && len(anomalies) == 1
	}, 5*time.Second, 20*time.Millisecond, "async worker must persist AI findings")

	require.Eventually(t, func() bool {
		lf, err := f.store.GetLogFile(ctx, logFile.ID)
		return err == nil && lf.Status == core.FileStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDispatcher_DispatchAI_GeminiAlias(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	logFile := f.uploadFile(t, suspiciousLog)

	// gcp_gemini normalizes to gemini; without a key it is refused, not
	// rejected as unknown.
	_, err := f.dispatcher.DispatchAI(context.Background(), logFile.ID, AIConfig{Provider: "gcp_gemini"})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestDispatcher_RerunKeepsReviewedRows(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()
	logFile := f.uploadFile(t, suspiciousLog)

	confirmed := core.Anomaly{
		ID:              uuid.NewString(),
		LogFileID:       logFile.ID,
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		AnomalyType:     "suspicious_access",
		Description:     "Failed root login burst",
		RiskScore:       8.0,
		DetectionMethod: "openai",
		Status:          core.StatusConfirmed,
		LogLineNumber:   3,
	}
	pending := core.Anomaly{
		ID:              uuid.NewString(),
		LogFileID:       logFile.ID,
		Timestamp:       time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC),
		AnomalyType:     "beaconing",
		Description:     "Periodic outbound callbacks",
		RiskScore:       5.0,
		DetectionMethod: "openai",
		Status:          core.StatusPending,
		LogLineNumber:   9,
	}
	require.NoError(t, f.store.SaveAnomalies(ctx, []core.Anomaly{confirmed, pending}))

	rerun := []core.Anomaly{
		{
			ID:              uuid.NewString(),
			LogFileID:       logFile.ID,
			Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			AnomalyType:     "suspicious_access",
			Description:     "Failed root login burst",
			RiskScore:       8.5,
			DetectionMethod: "openai",
			Status:          core.StatusPending,
			LogLineNumber:   3,
			AIAnalysis:      map[string]interface{}{"summary": "Likely credential stuffing"},
		},
		{
			ID:              uuid.NewString(),
			LogFileID:       logFile.ID,
			Timestamp:       time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC),
			AnomalyType:     "data_exfiltration",
			Description:     "Large outbound transfer",
			RiskScore:       6.0,
			DetectionMethod: "openai",
			Status:          core.StatusPending,
			LogLineNumber:   12,
		},
	}
	require.NoError(t, f.dispatcher.replaceAnomalies(ctx, logFile.ID, "openai", rerun))

	rows, err := f.store.ListAnomalies(ctx, storage.AnomalyFilter{LogFileID: logFile.ID})
	require.NoError(t, err)

	byID := make(map[string]core.Anomaly, len(rows))
	matches := 0
	for _, r := range rows {
		byID[r.ID] = r
		if r.LogLineNumber == 3 && r.AnomalyType == "suspicious_access" {
			matches++
		}
	}

	kept := byID[confirmed.ID]
	assert.Equal(t, core.StatusConfirmed, kept.Status, "reviewed rows survive reruns")
	assert.Equal(t, "Likely credential stuffing", kept.AIAnalysis["summary"],
		"rerun refreshes AI context on the analyst's row")
	assert.Equal(t, 1, matches, "re-detected finding inserts no duplicate")

	assert.Equal(t, core.StatusDismissed, byID[pending.ID].Status, "stale pending rows are superseded")
	assert.Contains(t, byID, rerun[1].ID, "genuinely new findings insert")
}

func TestDispatcher_KeyStatusMergesConfigKeys(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()

	status, err := f.dispatcher.KeyStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.OpenAI.Configured)
	assert.False(t, status.OpenAI.Working, "unconfigured providers are never working")

	f.cfg.Providers.OpenAI.APIKey = "sk-from-config"
	status, err = f.dispatcher.KeyStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.OpenAI.Configured, "config-level keys count as configured")
	assert.True(t, status.OpenAI.Working, "closed circuit reports working")
	assert.Empty(t, status.OpenAI.Error)

	_, err = f.store.SetAPIKey(ctx, "gemini", "g-key")
	require.NoError(t, err)
	status, err = f.dispatcher.KeyStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Gemini.Configured)
}

func TestDispatcher_Availability(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:1")

	avail := f.dispatcher.Availability()
	assert.True(t, avail["openai"])
	assert.True(t, avail["gcp_gemini"], "gemini is keyed gcp_gemini on the wire")
}

func TestDispatcher_TracesRuns(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newDispatcherFixture(t, "http://127.0.0.1:1")
	logFile := f.uploadFile(t, suspiciousLog)

	_, err := f.dispatcher.RunTraditional(context.Background(), logFile.ID)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "analyze.traditional")
}
