package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logguard/core"
	"logguard/export"
	"logguard/storage"
)

func TestHealthCheck(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUploadLogFile(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.upload(t, "auth.log", "Mar  1 12:00:00 host sshd[1]: Failed password for root")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	lf := decodeBody[core.LogFile](t, rec)
	assert.Equal(t, "auth.log", lf.OriginalName)
	assert.Equal(t, core.FileStatusPending, lf.Status)
	assert.NotEmpty(t, lf.ID)

	// The stored file is on disk under the generated name.
	_, err := os.Stat(filepath.Join(ta.cfg.DataPaths.UploadsDir, lf.Filename))
	assert.NoError(t, err)
}

func TestUploadLogFile_RejectsExtension(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.upload(t, "malware.exe", "MZ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAnomalies(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	ta.seedAnomaly(t, lf.ID, 8.0)
	ta.seedAnomaly(t, lf.ID, 3.0)

	rec := ta.do(t, http.MethodGet, "/api/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	anomalies := decodeBody[[]core.Anomaly](t, rec)
	require.Len(t, anomalies, 2)
	assert.Equal(t, 8.0, anomalies[0].RiskScore, "highest risk first")

	// Second read serves from cache and returns the same rows.
	rec = ta.do(t, http.MethodGet, "/api/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Anomaly](t, rec), 2)
}

func TestListAnomalies_Filtered(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	ta.seedAnomaly(t, lf.ID, 9.0)
	ta.seedAnomaly(t, lf.ID, 2.0)

	rec := ta.do(t, http.MethodGet, "/api/anomalies?minRiskScore=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Anomaly](t, rec), 1)

	rec = ta.do(t, http.MethodGet, "/api/anomalies?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAnomalies_Search(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	seeded := ta.seedAnomaly(t, lf.ID, 7.0)
	ta.seedAnomaly(t, lf.ID, 3.0)

	// Both seeded rows carry "Failed password for root" as the raw entry.
	rec := ta.do(t, http.MethodGet, "/api/anomalies?search=failed+password", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Anomaly](t, rec), 2)

	rec = ta.do(t, http.MethodGet, "/api/anomalies?search=failed+password&minRiskScore=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]core.Anomaly](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, seeded.ID, got[0].ID)

	rec = ta.do(t, http.MethodGet, "/api/anomalies?search=no+such+entry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]core.Anomaly](t, rec))
}

func TestGetAnomaly(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	seeded := ta.seedAnomaly(t, lf.ID, 6.5)

	rec := ta.do(t, http.MethodGet, "/api/anomalies/"+seeded.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[core.Anomaly](t, rec)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, 7, got.LogLineNumber)

	rec = ta.do(t, http.MethodGet, "/api/anomalies/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAnomaly(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	seeded := ta.seedAnomaly(t, lf.ID, 6.5)

	rec := ta.do(t, http.MethodPatch, "/api/anomalies/"+seeded.ID, map[string]interface{}{
		"status":       core.StatusConfirmed,
		"analystNotes": "verified with the auth team",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeBody[core.Anomaly](t, rec)
	assert.Equal(t, core.StatusConfirmed, got.Status)
	assert.Equal(t, "verified with the auth team", got.AnalystNotes)
	assert.NotNil(t, got.ReviewedAt)
}

func TestUpdateAnomaly_Invalid(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	seeded := ta.seedAnomaly(t, lf.ID, 6.5)

	rec := ta.do(t, http.MethodPatch, "/api/anomalies/"+seeded.ID, map[string]interface{}{
		"status": "not-a-status",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/anomalies/"+seeded.ID, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty update is rejected")
}

func TestBulkUpdate(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	a1 := ta.seedAnomaly(t, lf.ID, 5.0)
	a2 := ta.seedAnomaly(t, lf.ID, 6.0)
	a3 := ta.seedAnomaly(t, lf.ID, 7.0)

	rec := ta.do(t, http.MethodPatch, "/api/anomalies/bulk-update", map[string]interface{}{
		"anomalyIds": []string{a1.ID, a2.ID, a3.ID},
		"updates":    map[string]interface{}{"status": core.StatusConfirmed},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, float64(3), body["updated"])

	got, err := ta.store.GetAnomaly(context.Background(), a2.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusConfirmed, got.Status)
	assert.NotNil(t, got.ReviewedAt)
}

func TestBulkUpdate_Validation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPatch, "/api/anomalies/bulk-update", map[string]interface{}{
		"anomalyIds": []string{},
		"updates":    map[string]interface{}{"status": core.StatusDismissed},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/anomalies/bulk-update", map[string]interface{}{
		"anomalyIds": []string{"nope"},
		"updates":    map[string]interface{}{"status": core.StatusDismissed},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown ID aborts the whole batch")
}

func TestExportAnomalies(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusCompleted)
	ta.seedAnomaly(t, lf.ID, 8.2)

	rec := ta.do(t, http.MethodGet, "/api/anomalies/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, export.MIMEType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "anomalies-export-")

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(export.Columns, ","), lines[0])
	assert.Contains(t, lines[1], "suspicious_access")
}

func TestAnalyzeTraditionalEndpoint(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.upload(t, "auth.log",
		"Mar  1 12:00:00 host sshd[1]: Failed password for root from 203.0.113.9\n"+
			"Mar  1 12:00:01 host cron[2]: job done")
	require.Equal(t, http.StatusCreated, rec.Code)
	lf := decodeBody[core.LogFile](t, rec)

	rec = ta.do(t, http.MethodPost, "/api/analyze-traditional/"+lf.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, core.MethodTraditional, result["method"])
	assert.Equal(t, float64(2), result["logEntriesAnalyzed"])

	rec = ta.do(t, http.MethodPost, "/api/analyze-traditional/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessLogsRequiresConfiguredProvider(t *testing.T) {
	ta := newTestAPI(t)
	lf := ta.seedLogFile(t, core.FileStatusPending)

	rec := ta.do(t, http.MethodPost, "/api/process-logs/"+lf.ID, map[string]interface{}{
		"aiConfig": map[string]interface{}{"provider": "openai"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/process-logs/"+lf.ID, map[string]interface{}{
		"aiConfig": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "provider is required")
}

func TestAIProvidersAndKeyStatus(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/ai-providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]map[string]bool](t, rec)
	assert.True(t, body["availability"]["openai"])
	assert.True(t, body["availability"]["gcp_gemini"])

	rec = ta.do(t, http.MethodGet, "/api/user-api-keys/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// The wire shape is nested per-provider objects, not flat booleans.
	raw := decodeBody[map[string]map[string]interface{}](t, rec)
	require.Contains(t, raw, "openai")
	assert.Equal(t, false, raw["openai"]["configured"])
	assert.Equal(t, false, raw["openai"]["working"])

	rec = ta.do(t, http.MethodPost, "/api/user-api-keys", map[string]interface{}{
		"provider": "gcp_gemini",
		"apiKey":   "g-key-123456",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "g-key-123456", "key material never leaves the server")

	rec = ta.do(t, http.MethodGet, "/api/user-api-keys/status", nil)
	status := decodeBody[core.KeyStatus](t, rec)
	assert.True(t, status.Gemini.Configured, "gcp_gemini normalizes to gemini")
	assert.True(t, status.Gemini.Working)
}

func TestWebhookCRUD(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/webhooks", map[string]interface{}{
		"url":          "https://hooks.example.com/logguard",
		"secret":       "s3cret",
		"events":       []string{core.EventAnomalyDetected},
		"minRiskScore": 7.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[core.Webhook](t, rec)
	assert.True(t, created.Enabled)
	assert.NotContains(t, rec.Body.String(), "s3cret")

	rec = ta.do(t, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Webhook](t, rec), 1)

	rec = ta.do(t, http.MethodPut, "/api/webhooks/"+created.ID, map[string]interface{}{
		"url":     "https://hooks.example.com/logguard",
		"events":  []string{core.EventAnalysisDone},
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[core.Webhook](t, rec)
	assert.False(t, updated.Enabled)
	assert.Equal(t, []string{core.EventAnalysisDone}, updated.Events)

	rec = ta.do(t, http.MethodDelete, "/api/webhooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/webhooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookValidation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/webhooks", map[string]interface{}{
		"url":    "ftp://not-http.example.com",
		"events": []string{core.EventAnomalyDetected},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/webhooks", map[string]interface{}{
		"url":    "https://hooks.example.com",
		"events": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteLogFileCascades(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.upload(t, "auth.log", "Mar  1 12:00:00 host cron[2]: job done")
	require.Equal(t, http.StatusCreated, rec.Code)
	lf := decodeBody[core.LogFile](t, rec)
	ta.seedAnomaly(t, lf.ID, 4.0)

	rec = ta.do(t, http.MethodDelete, "/api/log-files/"+lf.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := ta.store.GetLogFile(context.Background(), lf.ID)
	assert.ErrorIs(t, err, storage.ErrLogFileNotFound)

	anomalies, err := ta.store.ListAnomalies(context.Background(), storage.AnomalyFilter{LogFileID: lf.ID})
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	_, statErr := os.Stat(filepath.Join(ta.cfg.DataPaths.UploadsDir, lf.Filename))
	assert.True(t, os.IsNotExist(statErr), "stored upload is removed")
}

func TestRetryLogFile(t *testing.T) {
	ta := newTestAPI(t)

	completed := ta.seedLogFile(t, core.FileStatusCompleted)
	rec := ta.do(t, http.MethodPost, "/api/log-files/"+completed.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "only failed files can be retried")
}

func TestSanitizeErrorMessage(t *testing.T) {
	out := sanitizeErrorMessage("dial failed: mongodb://user:pass@db:27017 unreachable")
	assert.NotContains(t, out, "mongodb://")

	out = sanitizeErrorMessage("open /var/data/uploads/x.log: permission denied")
	assert.NotContains(t, out, "/var/data")

	out = sanitizeErrorMessage("auth failed: password=hunter2")
	assert.NotContains(t, out, "hunter2")
}
