package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logguard/analyze"
	"logguard/core"
)

// stubDispatchClient records which endpoints were hit so precondition tests
// can prove no dispatch call went out.
type stubDispatchClient struct {
	keyStatus    core.KeyStatus
	availability map[string]bool

	traditionalCalls int
	advancedCalls    int
	aiCalls          int

	traditionalErr error
	aiErr          error
	block          chan struct{}
}

func (s *stubDispatchClient) AnalyzeTraditional(ctx context.Context, logFileID string) (*analyze.TraditionalResult, error) {
	s.traditionalCalls++
	if s.block != nil {
		<-s.block
	}
	if s.traditionalErr != nil {
		return nil, s.traditionalErr
	}
	return &analyze.TraditionalResult{Method: core.MethodTraditional, AnomaliesFound: 2, LogEntriesAnalyzed: 10}, nil
}

func (s *stubDispatchClient) AnalyzeAdvancedML(ctx context.Context, logFileID string) (*analyze.AdvancedMLResult, error) {
	s.advancedCalls++
	return &analyze.AdvancedMLResult{Method: core.MethodAdvancedML, AnomaliesFound: 1, LogEntriesAnalyzed: 10, ModelsUsed: []string{"isolation_forest"}}, nil
}

func (s *stubDispatchClient) ProcessLogsAI(ctx context.Context, logFileID string, aiCfg analyze.AIConfig) (*analyze.AIDispatchAck, error) {
	s.aiCalls++
	if s.aiErr != nil {
		return nil, s.aiErr
	}
	return &analyze.AIDispatchAck{Status: "started", Message: "processing", LogFileID: logFileID, Provider: aiCfg.Provider}, nil
}

func (s *stubDispatchClient) KeyStatus(ctx context.Context) (core.KeyStatus, error) {
	return s.keyStatus, nil
}

func (s *stubDispatchClient) Providers(ctx context.Context) (map[string]bool, error) {
	return s.availability, nil
}

func TestGatewayRunTraditional(t *testing.T) {
	client := &stubDispatchClient{}
	cache, err := core.NewMemoryCache(8)
	require.NoError(t, err)
	require.NoError(t, cache.Set(context.Background(), core.CacheKeyAnomalies, []string{"stale"}, 0))

	gw := NewGateway(client, cache)
	summary, err := gw.RunTraditional(context.Background(), "file-1")

	require.NoError(t, err)
	assert.Equal(t, analyze.StrategyTraditional, summary.Strategy)
	assert.Equal(t, 2, summary.AnomaliesFound)
	assert.False(t, gw.Running(analyze.StrategyTraditional))

	var dest []string
	found, err := cache.Get(context.Background(), core.CacheKeyAnomalies, &dest)
	require.NoError(t, err)
	assert.False(t, found, "stale anomaly list dropped after a run")
}

func TestGatewayRejectsReentry(t *testing.T) {
	client := &stubDispatchClient{block: make(chan struct{})}
	gw := NewGateway(client, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gw.RunTraditional(context.Background(), "file-1")
	}()

	require.Eventually(t, func() bool {
		return gw.Running(analyze.StrategyTraditional)
	}, time.Second, 5*time.Millisecond)

	_, err := gw.RunTraditional(context.Background(), "file-1")
	assert.ErrorIs(t, err, ErrDispatchRunning)

	// A different strategy site stays idle and dispatchable.
	summary, err := gw.RunAdvancedML(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, analyze.StrategyAdvancedML, summary.Strategy)

	close(client.block)
	<-done
}

func TestGatewayAIRefusedWithoutKey(t *testing.T) {
	client := &stubDispatchClient{
		keyStatus:    core.KeyStatus{},
		availability: map[string]bool{"openai": true, "gcp_gemini": true},
	}
	gw := NewGateway(client, nil)

	_, err := gw.RunAI(context.Background(), "file-1", analyze.AIConfig{Provider: "openai"})

	assert.ErrorIs(t, err, ErrNoProviderKey)
	assert.Equal(t, 0, client.aiCalls, "no dispatch call without a configured key")
}

func TestGatewayAIRefusedWhenProviderDown(t *testing.T) {
	client := &stubDispatchClient{
		keyStatus:    core.KeyStatus{Gemini: core.ProviderKeyStatus{Configured: true}},
		availability: map[string]bool{"openai": true, "gcp_gemini": false},
	}
	gw := NewGateway(client, nil)

	_, err := gw.RunAI(context.Background(), "file-1", analyze.AIConfig{Provider: "gemini"})

	assert.ErrorIs(t, err, ErrProviderDown)
	assert.Equal(t, 0, client.aiCalls, "no dispatch call while the provider is down")
}

func TestGatewayAIDispatches(t *testing.T) {
	client := &stubDispatchClient{
		keyStatus:    core.KeyStatus{OpenAI: core.ProviderKeyStatus{Configured: true}},
		availability: map[string]bool{"openai": true, "gcp_gemini": false},
	}
	gw := NewGateway(client, nil)

	summary, err := gw.RunAI(context.Background(), "file-1", analyze.AIConfig{Provider: "openai", Tier: "premium"})

	require.NoError(t, err)
	assert.Equal(t, 1, client.aiCalls)
	assert.True(t, summary.Async)
	assert.Equal(t, analyze.StrategyAI, summary.Strategy)
}

func TestGatewayRewritesProcessingLimit(t *testing.T) {
	client := &stubDispatchClient{traditionalErr: errors.New("Processing limit reached")}
	gw := NewGateway(client, nil)

	_, err := gw.RunTraditional(context.Background(), "file-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum number of concurrent analyses")
	assert.NotEqual(t, "Processing limit reached", err.Error())
}

func TestGatewayPassesOtherErrorsThrough(t *testing.T) {
	wantErr := errors.New("log file not found")
	client := &stubDispatchClient{traditionalErr: wantErr}
	gw := NewGateway(client, nil)

	_, err := gw.RunTraditional(context.Background(), "file-1")

	assert.ErrorIs(t, err, wantErr)
}
