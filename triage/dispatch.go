package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"logguard/analyze"
	"logguard/core"
)

// Client-side dispatch errors.
var (
	// ErrDispatchRunning rejects re-entry while this invocation site is busy.
	ErrDispatchRunning = errors.New("an analysis request is already running")

	// ErrNoProviderKey refuses AI dispatch before any network call when the
	// chosen provider has no configured key.
	ErrNoProviderKey = errors.New("no API key is configured for this provider")

	// ErrProviderDown refuses AI dispatch when the server reports the
	// provider unavailable.
	ErrProviderDown = errors.New("the provider is currently unavailable")
)

// processingLimitMessage is the exact capacity error the server returns.
const processingLimitMessage = "Processing limit reached"

// capacityExplanation replaces the terse server message with something an
// analyst can act on.
const capacityExplanation = "The server is already running its maximum number of concurrent analyses. Wait for one to finish and try again."

// DispatchClient is the slice of the API client the gateway needs.
type DispatchClient interface {
	AnalyzeTraditional(ctx context.Context, logFileID string) (*analyze.TraditionalResult, error)
	AnalyzeAdvancedML(ctx context.Context, logFileID string) (*analyze.AdvancedMLResult, error)
	ProcessLogsAI(ctx context.Context, logFileID string, aiCfg analyze.AIConfig) (*analyze.AIDispatchAck, error)
	KeyStatus(ctx context.Context) (core.KeyStatus, error)
	Providers(ctx context.Context) (map[string]bool, error)
}

// Gateway guards analysis dispatch with an explicit Idle/Running state per
// strategy, and checks the AI preconditions before any dispatch call.
type Gateway struct {
	client DispatchClient
	cache  core.Cache

	mu      sync.Mutex
	running map[string]bool
}

// NewGateway wires the client-side dispatch gateway. cache may be nil.
func NewGateway(client DispatchClient, cache core.Cache) *Gateway {
	return &Gateway{client: client, cache: cache, running: make(map[string]bool)}
}

// Running reports whether the named strategy is currently dispatching.
func (g *Gateway) Running(strategy string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[strategy]
}

// begin transitions a strategy site from Idle to Running.
func (g *Gateway) begin(strategy string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[strategy] {
		return nil, ErrDispatchRunning
	}
	g.running[strategy] = true
	return func() {
		g.mu.Lock()
		delete(g.running, strategy)
		g.mu.Unlock()
	}, nil
}

// rewrite maps raw backend failures to analyst-facing messages. The capacity
// error keeps its identity through an explanatory wrapper.
func rewrite(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == processingLimitMessage {
		return fmt.Errorf("%s (%w)", capacityExplanation, err)
	}
	return err
}

func (g *Gateway) invalidate(ctx context.Context) {
	if g.cache == nil {
		return
	}
	_ = g.cache.Invalidate(ctx, core.CacheKeyAnomalies)
	_ = g.cache.Invalidate(ctx, core.CacheKeyLogFiles)
}

// RunTraditional dispatches the rule-based strategy and returns the
// normalized summary.
func (g *Gateway) RunTraditional(ctx context.Context, logFileID string) (analyze.Summary, error) {
	release, err := g.begin(analyze.StrategyTraditional)
	if err != nil {
		return analyze.Summary{}, err
	}
	defer release()

	result, err := g.client.AnalyzeTraditional(ctx, logFileID)
	if err != nil {
		return analyze.Summary{}, rewrite(err)
	}
	g.invalidate(ctx)
	return result.Normalize(), nil
}

// RunAdvancedML dispatches the statistical ensemble.
func (g *Gateway) RunAdvancedML(ctx context.Context, logFileID string) (analyze.Summary, error) {
	release, err := g.begin(analyze.StrategyAdvancedML)
	if err != nil {
		return analyze.Summary{}, err
	}
	defer release()

	result, err := g.client.AnalyzeAdvancedML(ctx, logFileID)
	if err != nil {
		return analyze.Summary{}, rewrite(err)
	}
	g.invalidate(ctx)
	return result.Normalize(), nil
}

// wireProviderKey maps a canonical provider to its availability-map key.
func wireProviderKey(provider string) string {
	if core.NormalizeProvider(provider) == core.ProviderGemini {
		return "gcp_gemini"
	}
	return core.ProviderOpenAI
}

// RunAI dispatches the asynchronous AI strategy. Both precondition lookups
// must pass before any dispatch call goes out: the provider needs a
// configured key and must be reported available.
func (g *Gateway) RunAI(ctx context.Context, logFileID string, aiCfg analyze.AIConfig) (analyze.Summary, error) {
	release, err := g.begin(analyze.StrategyAI)
	if err != nil {
		return analyze.Summary{}, err
	}
	defer release()

	status, err := g.client.KeyStatus(ctx)
	if err != nil {
		return analyze.Summary{}, err
	}
	if !status.Configured(aiCfg.Provider) {
		return analyze.Summary{}, fmt.Errorf("%w: %s", ErrNoProviderKey, aiCfg.Provider)
	}

	availability, err := g.client.Providers(ctx)
	if err != nil {
		return analyze.Summary{}, err
	}
	if !availability[wireProviderKey(aiCfg.Provider)] {
		return analyze.Summary{}, fmt.Errorf("%w: %s", ErrProviderDown, aiCfg.Provider)
	}

	ack, err := g.client.ProcessLogsAI(ctx, logFileID, aiCfg)
	if err != nil {
		return analyze.Summary{}, rewrite(err)
	}
	g.invalidate(ctx)
	return ack.Normalize(), nil
}
