// Package triage implements the anomaly review workflow against a running
// LogGuard server: selection tracking, batched status updates, CSV export,
// and analysis dispatch with client-side preconditions.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"logguard/analyze"
	"logguard/core"
)

// Client is a thin JSON client for the LogGuard API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// AnomalyQuery carries the list filters supported by the server.
type AnomalyQuery struct {
	LogFileID       string
	Status          string
	DetectionMethod string
	MinRiskScore    float64
	Search          string
	Limit           int
	Offset          int
}

func (q AnomalyQuery) encode() string {
	v := url.Values{}
	if q.LogFileID != "" {
		v.Set("logFileId", q.LogFileID)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.DetectionMethod != "" {
		v.Set("detectionMethod", q.DetectionMethod)
	}
	if q.MinRiskScore > 0 {
		v.Set("minRiskScore", strconv.FormatFloat(q.MinRiskScore, 'f', -1, 64))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// apiError carries the server's sanitized message with its HTTP status.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return e.Message
}

// StatusOf returns the HTTP status behind a client error, or 0.
func StatusOf(err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := resp.Status
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		message = body.Error
	} else if len(bytes.TrimSpace(data)) > 0 {
		message = string(bytes.TrimSpace(data))
	}
	return &apiError{StatusCode: resp.StatusCode, Message: message}
}

// ListAnomalies fetches the anomaly list with the given filters.
func (c *Client) ListAnomalies(ctx context.Context, q AnomalyQuery) ([]core.Anomaly, error) {
	var anomalies []core.Anomaly
	if err := c.do(ctx, http.MethodGet, "/api/anomalies"+q.encode(), nil, &anomalies); err != nil {
		return nil, err
	}
	return anomalies, nil
}

// GetAnomaly fetches one anomaly by id.
func (c *Client) GetAnomaly(ctx context.Context, id string) (*core.Anomaly, error) {
	var anomaly core.Anomaly
	if err := c.do(ctx, http.MethodGet, "/api/anomalies/"+url.PathEscape(id), nil, &anomaly); err != nil {
		return nil, err
	}
	return &anomaly, nil
}

// UpdateAnomaly applies a partial update to one anomaly.
func (c *Client) UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error) {
	body := map[string]interface{}{}
	if update.Status != nil {
		body["status"] = *update.Status
	}
	if update.Priority != nil {
		body["priority"] = *update.Priority
	}
	if update.AnalystNotes != nil {
		body["analystNotes"] = *update.AnalystNotes
	}
	if update.ReviewedAt != nil {
		body["reviewedAt"] = *update.ReviewedAt
	}
	var anomaly core.Anomaly
	if err := c.do(ctx, http.MethodPatch, "/api/anomalies/"+url.PathEscape(id), body, &anomaly); err != nil {
		return nil, err
	}
	return &anomaly, nil
}

// BulkUpdate issues one batched status update and returns the applied count.
func (c *Client) BulkUpdate(ctx context.Context, ids []string, status string) (int, error) {
	body := map[string]interface{}{
		"anomalyIds": ids,
		"updates": map[string]interface{}{
			"status":     status,
			"reviewedAt": time.Now().UTC(),
		},
	}
	var resp struct {
		Updated int `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/anomalies/bulk-update", body, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// ExportCSV downloads the CSV export and returns the suggested filename and
// raw bytes.
func (c *Client) ExportCSV(ctx context.Context, q AnomalyQuery) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/anomalies/export"+q.encode(), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, c.decodeError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return "", nil, err
	}
	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	return filename, data, nil
}

func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// ListLogFiles fetches the upload history.
func (c *Client) ListLogFiles(ctx context.Context) ([]core.LogFile, error) {
	var files []core.LogFile
	if err := c.do(ctx, http.MethodGet, "/api/log-files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// AnalyzeTraditional runs the rule-based strategy on a file.
func (c *Client) AnalyzeTraditional(ctx context.Context, logFileID string) (*analyze.TraditionalResult, error) {
	var result analyze.TraditionalResult
	if err := c.do(ctx, http.MethodPost, "/api/analyze-traditional/"+url.PathEscape(logFileID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeAdvancedML runs the statistical ensemble on a file.
func (c *Client) AnalyzeAdvancedML(ctx context.Context, logFileID string) (*analyze.AdvancedMLResult, error) {
	var result analyze.AdvancedMLResult
	if err := c.do(ctx, http.MethodPost, "/api/analyze-advanced-ml/"+url.PathEscape(logFileID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProcessLogsAI starts the asynchronous AI strategy.
func (c *Client) ProcessLogsAI(ctx context.Context, logFileID string, aiCfg analyze.AIConfig) (*analyze.AIDispatchAck, error) {
	body := map[string]interface{}{"aiConfig": aiCfg}
	var ack analyze.AIDispatchAck
	if err := c.do(ctx, http.MethodPost, "/api/process-logs/"+url.PathEscape(logFileID), body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// KeyStatus reports which providers have a configured key.
func (c *Client) KeyStatus(ctx context.Context) (core.KeyStatus, error) {
	var status core.KeyStatus
	if err := c.do(ctx, http.MethodGet, "/api/user-api-keys/status", nil, &status); err != nil {
		return core.KeyStatus{}, err
	}
	return status, nil
}

// Providers reports per-provider availability, keyed as the wire does
// ("openai", "gcp_gemini").
func (c *Client) Providers(ctx context.Context) (map[string]bool, error) {
	var resp struct {
		Availability map[string]bool `json:"availability"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/ai-providers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Availability, nil
}

// SetAPIKey stores a provider key on the server.
func (c *Client) SetAPIKey(ctx context.Context, provider, apiKey string) error {
	body := map[string]string{"provider": provider, "apiKey": apiKey}
	return c.do(ctx, http.MethodPost, "/api/user-api-keys", body, nil)
}
