package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"logguard/analyze"
	"logguard/config"
	"logguard/core"
	"logguard/storage"
)

// testAPI bundles the server under test with its collaborators.
type testAPI struct {
	api   *API
	store storage.Store
	cache core.Cache
	cfg   *config.Config
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.Port = 8080
	cfg.API.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	cfg.DataPaths.UploadsDir = t.TempDir()
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Upload.AllowedExtensions = []string{".log", ".txt"}
	cfg.Analysis.MaxConcurrent = 2
	cfg.Analysis.RegexTimeout = 1000
	cfg.Cache.TTL = 30
	cfg.Providers.OpenAI.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.OpenAI.StandardModel = "gpt-4o-mini"
	cfg.Providers.Gemini.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.Gemini.StandardModel = "gemini-1.5-flash"
	cfg.Providers.RequestTimeout = 5
	return cfg
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	cfg := newTestConfig(t)

	store, err := storage.NewSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache, err := core.NewMemoryCache(64)
	require.NoError(t, err)

	traditional, err := analyze.NewTraditionalAnalyzer("", cfg.GetRegexTimeout(), logger)
	require.NoError(t, err)
	advanced := analyze.NewAdvancedMLAnalyzer(logger)
	ai, err := analyze.NewAIAnalyzer(cfg, logger)
	require.NoError(t, err)

	dispatcher := analyze.NewDispatcher(cfg, store, cache, traditional, advanced, ai, nil, nil, nil, logger)

	a := NewAPI(store, cache, dispatcher, nil, nil, cfg, logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testAPI{api: a, store: store, cache: cache, cfg: cfg}
}

// do runs a request through the router and returns the recorder.
func (ta *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	return rec
}

// upload posts a multipart file and returns the recorder.
func (ta *testAPI) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/log-files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// seedAnomaly inserts an anomaly directly into the store.
func (ta *testAPI) seedAnomaly(t *testing.T, logFileID string, riskScore float64) *core.Anomaly {
	t.Helper()
	a := &core.Anomaly{
		ID:              uuid.NewString(),
		LogFileID:       logFileID,
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		AnomalyType:     "suspicious_access",
		Description:     "Repeated failed logins",
		RiskScore:       riskScore,
		DetectionMethod: core.MethodTraditional,
		Status:          core.StatusPending,
		RawLogEntry:     "Failed password for root",
		LogLineNumber:   7,
	}
	require.NoError(t, ta.store.SaveAnomaly(context.Background(), a))
	return a
}

// seedLogFile inserts a log file record without touching disk.
func (ta *testAPI) seedLogFile(t *testing.T, status string) *core.LogFile {
	t.Helper()
	lf := &core.LogFile{
		ID:           uuid.NewString(),
		Filename:     uuid.NewString() + ".log",
		OriginalName: "auth.log",
		FileSize:     128,
		Status:       status,
	}
	require.NoError(t, ta.store.SaveLogFile(context.Background(), lf))
	return lf
}
