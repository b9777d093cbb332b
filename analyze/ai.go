package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"logguard/config"
	"logguard/core"
	"logguard/ingest"
)

// maxPromptEntries caps how many log lines go into one provider request.
const maxPromptEntries = 200

// findingsSchema validates the JSON the model returns before any of it is
// trusted as anomaly data.
const findingsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["anomalyType", "description", "riskScore"],
		"properties": {
			"anomalyType": {"type": "string", "minLength": 1},
			"description": {"type": "string", "minLength": 1},
			"riskScore": {"type": "number"},
			"lineNumber": {"type": "integer"},
			"recommendation": {"type": "string"}
		}
	}
}`

type aiFinding struct {
	AnomalyType    string  `json:"anomalyType"`
	Description    string  `json:"description"`
	RiskScore      float64 `json:"riskScore"`
	LineNumber     int     `json:"lineNumber"`
	Recommendation string  `json:"recommendation"`
}

// ProviderClient is one LLM backend.
type ProviderClient interface {
	Name() string
	// Complete sends the analysis prompt and returns the raw model text.
	Complete(ctx context.Context, apiKey, model string, temperature float64, prompt string) (string, error)
}

// AIAnalyzer drives the LLM-backed strategy: build prompt, call provider
// through a circuit breaker, validate the response against the findings
// schema, convert to anomalies.
type AIAnalyzer struct {
	cfg      *config.Config
	clients  map[string]ProviderClient
	breakers map[string]*core.CircuitBreaker
	schema   *gojsonschema.Schema
	logger   *zap.SugaredLogger
}

// NewAIAnalyzer wires the OpenAI and Gemini clients with per-provider circuit
// breakers.
func NewAIAnalyzer(cfg *config.Config, logger *zap.SugaredLogger) (*AIAnalyzer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(findingsSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile findings schema: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.GetProviderTimeout()}
	clients := map[string]ProviderClient{
		core.ProviderOpenAI: &OpenAIClient{baseURL: cfg.Providers.OpenAI.BaseURL, http: httpClient},
		core.ProviderGemini: &GeminiClient{baseURL: cfg.Providers.Gemini.BaseURL, http: httpClient},
	}

	breakers := make(map[string]*core.CircuitBreaker, len(clients))
	for name := range clients {
		breakers[name] = core.MustNewCircuitBreaker(core.DefaultCircuitBreakerConfig())
	}

	return &AIAnalyzer{
		cfg:      cfg,
		clients:  clients,
		breakers: breakers,
		schema:   schema,
		logger:   logger,
	}, nil
}

// Available reports whether the provider's circuit is not currently open.
func (ai *AIAnalyzer) Available(provider string) bool {
	cb, ok := ai.breakers[core.NormalizeProvider(provider)]
	if !ok {
		return false
	}
	return cb.State() != core.CircuitBreakerStateOpen
}

// Analyze runs one synchronous provider round trip. The dispatcher calls this
// from its async worker; callers of the HTTP API only ever see the ack.
func (ai *AIAnalyzer) Analyze(ctx context.Context, logFileID string, aiCfg AIConfig, apiKey string, entries []ingest.ParsedEntry) ([]core.Anomaly, error) {
	provider := core.NormalizeProvider(aiCfg.Provider)
	client, ok := ai.clients[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", aiCfg.Provider)
	}
	cb := ai.breakers[provider]
	if err := cb.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	var providerCfg config.ProviderConfig
	switch provider {
	case core.ProviderOpenAI:
		providerCfg = ai.cfg.Providers.OpenAI
	case core.ProviderGemini:
		providerCfg = ai.cfg.Providers.Gemini
	}
	model := providerCfg.ModelForTier(aiCfg.Tier)

	prompt := buildPrompt(entries)
	raw, err := client.Complete(ctx, apiKey, model, aiCfg.Temperature, prompt)
	if err != nil {
		cb.RecordFailure()
		return nil, fmt.Errorf("provider %s request failed: %w", provider, err)
	}
	cb.RecordSuccess()

	findings, err := ai.parseFindings(raw)
	if err != nil {
		return nil, fmt.Errorf("provider %s returned invalid findings: %w", provider, err)
	}

	return ai.toAnomalies(logFileID, provider, model, findings, entries), nil
}

func buildPrompt(entries []ingest.ParsedEntry) string {
	var b strings.Builder
	b.WriteString("You are a security analyst. Review the following log entries and report anomalies.\n")
	b.WriteString("Respond with ONLY a JSON array. Each element: {\"anomalyType\": string, \"description\": string, \"riskScore\": number 0-10, \"lineNumber\": integer, \"recommendation\": string}.\n")
	b.WriteString("Report an empty array if nothing is suspicious.\n\nLog entries:\n")

	limit := len(entries)
	if limit > maxPromptEntries {
		limit = maxPromptEntries
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "[line %d] %s\n", entries[i].LineNumber, entries[i].Raw)
	}
	return b.String()
}

// parseFindings extracts and schema-validates the JSON array from the model
// output, tolerating surrounding prose or markdown fences.
func (ai *AIAnalyzer) parseFindings(raw string) ([]aiFinding, error) {
	jsonText := extractJSONArray(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	result, err := ai.schema.Validate(gojsonschema.NewStringLoader(jsonText))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("findings failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var findings []aiFinding
	if err := json.Unmarshal([]byte(jsonText), &findings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal findings: %w", err)
	}
	return findings, nil
}

// extractJSONArray pulls the outermost [...] span out of possibly-fenced text.
func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func (ai *AIAnalyzer) toAnomalies(logFileID, provider, model string, findings []aiFinding, entries []ingest.ParsedEntry) []core.Anomaly {
	byLine := make(map[int]*ingest.ParsedEntry, len(entries))
	for i := range entries {
		byLine[entries[i].LineNumber] = &entries[i]
	}

	anomalies := make([]core.Anomaly, 0, len(findings))
	for _, f := range findings {
		a := core.Anomaly{
			ID:              uuid.NewString(),
			LogFileID:       logFileID,
			Timestamp:       time.Now().UTC(),
			AnomalyType:     f.AnomalyType,
			Description:     f.Description,
			RiskScore:       core.ClampRiskScore(f.RiskScore),
			DetectionMethod: provider,
			Status:          core.StatusPending,
			AIAnalysis: map[string]interface{}{
				"provider":       provider,
				"model":          model,
				"recommendation": f.Recommendation,
			},
			CreatedAt: time.Now().UTC(),
		}
		if entry, ok := byLine[f.LineNumber]; ok {
			a.Timestamp = entry.Timestamp
			if a.Timestamp.IsZero() {
				a.Timestamp = time.Now().UTC()
			}
			a.RawLogEntry = entry.Raw
			a.LogLineNumber = entry.LineNumber
			a.SourceData = map[string]interface{}{
				"sourceIP": entry.Field("source_ip", entry.Field("src", "")),
				"user":     entry.Field("user", ""),
				"action":   entry.Field("action", ""),
				"url":      entry.Field("url", ""),
			}
		}
		anomalies = append(anomalies, a)
	}
	return anomalies
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	baseURL string
	http    *http.Client
}

func (c *OpenAIClient) Name() string { return core.ProviderOpenAI }

func (c *OpenAIClient) Complete(ctx context.Context, apiKey, model string, temperature float64, prompt string) (string, error) {
	body := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// GeminiClient talks to the Gemini generateContent API.
type GeminiClient struct {
	baseURL string
	http    *http.Client
}

func (c *GeminiClient) Name() string { return core.ProviderGemini }

func (c *GeminiClient) Complete(ctx context.Context, apiKey, model string, temperature float64, prompt string) (string, error) {
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature": temperature,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response has no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
