package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"logguard/config"
	"logguard/core"
	"logguard/ingest"
	"logguard/metrics"
	"logguard/storage"
	"logguard/util/goroutine"
)

// Notifier fans analysis lifecycle events out to registered webhooks.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// Feed pushes invalidation hints to connected dashboard clients.
type Feed interface {
	Broadcast(event string, payload interface{})
}

// Dispatcher runs analysis strategies against uploaded log files. It enforces
// the two concurrency rules of the gateway: per-(file, strategy) single
// flight, and a global cap on concurrent runs across all strategies.
type Dispatcher struct {
	cfg         *config.Config
	store       storage.Store
	cache       core.Cache
	traditional *TraditionalAnalyzer
	advanced    *AdvancedMLAnalyzer
	ai          *AIAnalyzer
	notifier    Notifier
	feed        Feed
	archiveCh   chan<- *storage.ArchiveEntry
	parser      *ingest.Parser
	logger      *zap.SugaredLogger
	tracer      trace.Tracer

	slots chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewDispatcher wires the three strategies. notifier, feed, and archiveCh may
// be nil when those subsystems are disabled.
func NewDispatcher(cfg *config.Config, store storage.Store, cache core.Cache, traditional *TraditionalAnalyzer, advanced *AdvancedMLAnalyzer, ai *AIAnalyzer, notifier Notifier, feed Feed, archiveCh chan<- *storage.ArchiveEntry, logger *zap.SugaredLogger) *Dispatcher {
	maxConcurrent := cfg.Analysis.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Dispatcher{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		traditional: traditional,
		advanced:    advanced,
		ai:          ai,
		notifier:    notifier,
		feed:        feed,
		archiveCh:   archiveCh,
		parser:      ingest.NewParser(cfg.Analysis.MaxLineLength),
		logger:      logger,
		tracer:      otel.Tracer("logguard/analyze"),
		slots:       make(chan struct{}, maxConcurrent),
		inFlight:    make(map[string]bool),
	}
}

func flightKey(logFileID, strategy string) string {
	return logFileID + "/" + strategy
}

// begin claims the single-flight slot and a global slot; it releases anything
// it claimed on failure.
func (d *Dispatcher) begin(logFileID, strategy string) (func(), error) {
	key := flightKey(logFileID, strategy)

	d.mu.Lock()
	if d.inFlight[key] {
		d.mu.Unlock()
		metrics.AnalysesRejected.WithLabelValues(strategy, "in_flight").Inc()
		return nil, ErrDispatchInFlight
	}
	d.inFlight[key] = true
	d.mu.Unlock()

	select {
	case d.slots <- struct{}{}:
	default:
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
		metrics.AnalysesRejected.WithLabelValues(strategy, "processing_limit").Inc()
		return nil, ErrProcessingLimit
	}

	return func() {
		<-d.slots
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
	}, nil
}

// loadEntries reads and parses the stored upload for a log file record.
func (d *Dispatcher) loadEntries(logFile *core.LogFile) ([]ingest.ParsedEntry, error) {
	path := filepath.Join(d.cfg.DataPaths.UploadsDir, filepath.Base(logFile.Filename))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()

	entries, err := d.parser.Parse(f)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// archiveEntries streams parsed entries to the ClickHouse archive when it is
// enabled. Non-blocking: archiving never delays an analysis response.
func (d *Dispatcher) archiveEntries(logFileID string, entries []ingest.ParsedEntry) {
	if d.archiveCh == nil {
		return
	}
	for i := range entries {
		select {
		case d.archiveCh <- &storage.ArchiveEntry{LogFileID: logFileID, Entry: entries[i]}:
		default:
			d.logger.Warnw("Entry archive channel full, dropping entry",
				"log_file_id", logFileID, "line", entries[i].LineNumber)
			return
		}
	}
}

// markProcessing moves a pending or failed file into processing. Files that
// already completed are being re-analyzed and keep their status.
func (d *Dispatcher) markProcessing(ctx context.Context, logFile *core.LogFile) bool {
	if logFile.Status != core.FileStatusPending && logFile.Status != core.FileStatusFailed {
		return false
	}
	if err := d.store.UpdateLogFileStatus(ctx, logFile.ID, core.FileStatusProcessing, 0, ""); err != nil {
		d.logger.Warnw("Failed to mark log file processing", "log_file_id", logFile.ID, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) finish(ctx context.Context, logFileID string, transitioned bool, totalEntries int, runErr error) {
	if !transitioned {
		return
	}
	status := core.FileStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = core.FileStatusFailed
		errMsg = runErr.Error()
	}
	if err := d.store.UpdateLogFileStatus(ctx, logFileID, status, totalEntries, errMsg); err != nil {
		d.logger.Errorw("Failed to finalize log file status",
			"log_file_id", logFileID, "status", status, "error", err)
	}
}

// invalidate drops the cached list views so the next read sees fresh rows.
// Keyed by logical resource, never by request.
func (d *Dispatcher) invalidate(ctx context.Context) {
	if d.cache == nil {
		return
	}
	for _, key := range []string{core.CacheKeyAnomalies, core.CacheKeyLogFiles} {
		if err := d.cache.Invalidate(ctx, key); err != nil {
			d.logger.Warnw("Cache invalidation failed", "key", key, "error", err)
			continue
		}
		if d.feed != nil {
			d.feed.Broadcast(core.EventCacheInvalidated, map[string]interface{}{"resource": key})
		}
	}
}

func (d *Dispatcher) announce(ctx context.Context, event string, payload interface{}) {
	if d.notifier != nil {
		d.notifier.Notify(ctx, event, payload)
	}
	if d.feed != nil {
		d.feed.Broadcast(event, payload)
	}
}

// RunTraditional executes the rule-based strategy synchronously.
func (d *Dispatcher) RunTraditional(ctx context.Context, logFileID string) (*TraditionalResult, error) {
	ctx, span := d.tracer.Start(ctx, "analyze.traditional",
		trace.WithAttributes(attribute.String("log_file_id", logFileID)))
	defer span.End()

	release, err := d.begin(logFileID, StrategyTraditional)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	start := time.Now()
	metrics.AnalysesDispatched.WithLabelValues(StrategyTraditional).Inc()

	logFile, err := d.store.GetLogFile(ctx, logFileID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	transitioned := d.markProcessing(ctx, logFile)

	entries, err := d.loadEntries(logFile)
	if err != nil {
		span.RecordError(err)
		d.finish(ctx, logFileID, transitioned, 0, err)
		return nil, err
	}
	d.archiveEntries(logFileID, entries)

	result := d.traditional.Analyze(logFileID, entries)
	if err := d.replaceAnomalies(ctx, logFileID, core.MethodTraditional, result.Anomalies); err != nil {
		span.RecordError(err)
		d.finish(ctx, logFileID, transitioned, len(entries), err)
		return nil, err
	}
	d.finish(ctx, logFileID, transitioned, len(entries), nil)

	metrics.AnalysisDuration.WithLabelValues(StrategyTraditional).Observe(time.Since(start).Seconds())
	metrics.AnomaliesDetected.WithLabelValues(core.MethodTraditional).Add(float64(result.AnomaliesFound))
	span.SetAttributes(attribute.Int("anomalies_found", result.AnomaliesFound))

	d.invalidate(ctx)
	d.announceDetections(ctx, StrategyTraditional, logFileID, result.Anomalies)

	return result, nil
}

// RunAdvancedML executes the statistical ensemble synchronously.
func (d *Dispatcher) RunAdvancedML(ctx context.Context, logFileID string) (*AdvancedMLResult, error) {
	ctx, span := d.tracer.Start(ctx, "analyze.advanced_ml",
		trace.WithAttributes(attribute.String("log_file_id", logFileID)))
	defer span.End()

	release, err := d.begin(logFileID, StrategyAdvancedML)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	start := time.Now()
	metrics.AnalysesDispatched.WithLabelValues(StrategyAdvancedML).Inc()

	logFile, err := d.store.GetLogFile(ctx, logFileID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	transitioned := d.markProcessing(ctx, logFile)

	entries, err := d.loadEntries(logFile)
	if err != nil {
		span.RecordError(err)
		d.finish(ctx, logFileID, transitioned, 0, err)
		return nil, err
	}
	d.archiveEntries(logFileID, entries)

	result := d.advanced.Analyze(logFileID, entries)
	if err := d.replaceAnomalies(ctx, logFileID, core.MethodAdvancedML, result.Anomalies); err != nil {
		span.RecordError(err)
		d.finish(ctx, logFileID, transitioned, len(entries), err)
		return nil, err
	}
	d.finish(ctx, logFileID, transitioned, len(entries), nil)

	metrics.AnalysisDuration.WithLabelValues(StrategyAdvancedML).Observe(time.Since(start).Seconds())
	metrics.AnomaliesDetected.WithLabelValues(core.MethodAdvancedML).Add(float64(result.AnomaliesFound))
	span.SetAttributes(attribute.Int("anomalies_found", result.AnomaliesFound))

	d.invalidate(ctx)
	d.announceDetections(ctx, StrategyAdvancedML, logFileID, result.Anomalies)

	return result, nil
}

// DispatchAI validates the AI preconditions, acknowledges immediately, and
// runs the provider round trip in the background. Results appear in the
// anomaly list when the worker finishes.
func (d *Dispatcher) DispatchAI(ctx context.Context, logFileID string, aiCfg AIConfig) (*AIDispatchAck, error) {
	ctx, span := d.tracer.Start(ctx, "analyze.ai_dispatch",
		trace.WithAttributes(
			attribute.String("log_file_id", logFileID),
			attribute.String("provider", aiCfg.Provider),
			attribute.String("tier", aiCfg.Tier),
		))
	defer span.End()

	provider := core.NormalizeProvider(aiCfg.Provider)
	if !core.ValidProvider(provider) {
		return nil, fmt.Errorf("unknown provider: %s", aiCfg.Provider)
	}
	if aiCfg.Tier == "" {
		aiCfg.Tier = "standard"
	}

	// Both precondition lookups must pass: a configured key AND a provider
	// that is currently reported available.
	apiKey, err := d.resolveKey(ctx, provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.AnalysesRejected.WithLabelValues(StrategyAI, "not_configured").Inc()
		return nil, err
	}
	if !d.ai.Available(provider) {
		span.SetStatus(codes.Error, "provider unavailable")
		metrics.AnalysesRejected.WithLabelValues(StrategyAI, "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	release, err := d.begin(logFileID, StrategyAI)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logFile, err := d.store.GetLogFile(ctx, logFileID)
	if err != nil {
		release()
		span.RecordError(err)
		return nil, err
	}
	transitioned := d.markProcessing(ctx, logFile)
	metrics.AnalysesDispatched.WithLabelValues(StrategyAI).Inc()

	go func() {
		defer release()
		defer goroutine.Recover("ai-analysis-worker", d.logger)
		d.runAI(logFileID, logFile, aiCfg, apiKey, transitioned)
	}()

	// The file list shows the processing transition right away.
	d.invalidate(ctx)
	if d.feed != nil {
		d.feed.Broadcast(core.EventAnalysisStarted, map[string]interface{}{
			"logFileId": logFileID,
			"strategy":  StrategyAI,
			"provider":  provider,
		})
	}

	return &AIDispatchAck{
		Status:    "started",
		Message:   fmt.Sprintf("AI analysis started with %s (%s tier)", provider, aiCfg.Tier),
		LogFileID: logFileID,
		Provider:  provider,
		Tier:      aiCfg.Tier,
	}, nil
}

// runAI is the background half of DispatchAI.
func (d *Dispatcher) runAI(logFileID string, logFile *core.LogFile, aiCfg AIConfig, apiKey string, transitioned bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.GetProviderTimeout()+time.Minute)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "analyze.ai_run",
		trace.WithAttributes(attribute.String("log_file_id", logFileID)))
	defer span.End()

	start := time.Now()

	entries, err := d.loadEntries(logFile)
	if err == nil {
		d.archiveEntries(logFileID, entries)
		var anomalies []core.Anomaly
		anomalies, err = d.ai.Analyze(ctx, logFileID, aiCfg, apiKey, entries)
		if err == nil {
			err = d.replaceAnomalies(ctx, logFileID, core.NormalizeProvider(aiCfg.Provider), anomalies)
		}
		if err == nil {
			metrics.AnalysisDuration.WithLabelValues(StrategyAI).Observe(time.Since(start).Seconds())
			metrics.AnomaliesDetected.WithLabelValues(core.NormalizeProvider(aiCfg.Provider)).Add(float64(len(anomalies)))
			d.finish(ctx, logFileID, transitioned, len(entries), nil)
			d.invalidate(ctx)
			d.announceDetections(ctx, StrategyAI, logFileID, anomalies)
			return
		}
	}

	span.RecordError(err)
	d.logger.Errorw("AI analysis failed",
		"log_file_id", logFileID, "provider", aiCfg.Provider, "error", err)
	d.finish(ctx, logFileID, transitioned, 0, err)
	d.invalidate(ctx)
	d.announce(ctx, core.EventAnalysisFailed, map[string]interface{}{
		"logFileId": logFileID,
		"strategy":  StrategyAI,
		"error":     err.Error(),
	})
}

// resolveKey prefers a user-stored key, falling back to the config/secret
// backend key for the provider.
func (d *Dispatcher) resolveKey(ctx context.Context, provider string) (string, error) {
	if record, err := d.store.GetAPIKey(ctx, provider); err == nil && record.Key != "" {
		return record.Key, nil
	}
	var fromConfig string
	switch provider {
	case core.ProviderOpenAI:
		fromConfig = d.cfg.Providers.OpenAI.APIKey
	case core.ProviderGemini:
		fromConfig = d.cfg.Providers.Gemini.APIKey
	}
	if fromConfig != "" {
		return fromConfig, nil
	}
	return "", fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
}

// replaceAnomalies supersedes this method's previous detections for the file
// and inserts the new batch, so re-analysis never duplicates rows.
func (d *Dispatcher) replaceAnomalies(ctx context.Context, logFileID, method string, anomalies []core.Anomaly) error {
	existing, err := d.store.ListAnomalies(ctx, storage.AnomalyFilter{
		LogFileID:       logFileID,
		DetectionMethod: method,
	})
	if err != nil {
		return err
	}
	// Only unreviewed rows are superseded; analyst decisions survive reruns.
	var stale []string
	reviewed := make(map[string]core.Anomaly)
	for _, a := range existing {
		if a.Status == core.StatusPending {
			stale = append(stale, a.ID)
		} else {
			reviewed[detectionKey(&a)] = a
		}
	}
	for len(stale) > 0 {
		batch := stale
		if len(batch) > storage.MaxBulkIDs {
			batch = batch[:storage.MaxBulkIDs]
		}
		if _, err := d.store.BulkUpdateStatus(ctx, batch, core.StatusDismissed, time.Now().UTC()); err != nil {
			return err
		}
		stale = stale[len(batch):]
	}

	// A rerun that re-detects a reviewed finding keeps the analyst's row.
	// Fresh AI context still lands on it; everything else inserts as new.
	insert := make([]core.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		prior, seen := reviewed[detectionKey(&a)]
		if !seen {
			insert = append(insert, a)
			continue
		}
		if len(a.AIAnalysis) > 0 {
			if err := d.store.SetAIAnalysis(ctx, prior.ID, a.AIAnalysis); err != nil {
				return err
			}
		}
	}
	if len(insert) == 0 {
		return nil
	}
	return d.store.SaveAnomalies(ctx, insert)
}

// detectionKey identifies a finding within one file and method: the line it
// fired on plus the anomaly type.
func detectionKey(a *core.Anomaly) string {
	return strconv.Itoa(a.LogLineNumber) + "/" + a.AnomalyType
}

func (d *Dispatcher) announceDetections(ctx context.Context, strategy, logFileID string, anomalies []core.Anomaly) {
	d.announce(ctx, core.EventAnalysisDone, map[string]interface{}{
		"logFileId":      logFileID,
		"strategy":       strategy,
		"anomaliesFound": len(anomalies),
	})
	if len(anomalies) > 0 {
		d.announce(ctx, core.EventAnomalyDetected, map[string]interface{}{
			"logFileId": logFileID,
			"anomalies": anomalies,
		})
	}
}

// KeyStatus reports which providers would pass the configured-key check,
// merging stored keys with config-level keys. The working flag mirrors the
// provider's circuit state.
func (d *Dispatcher) KeyStatus(ctx context.Context) (core.KeyStatus, error) {
	status, err := d.store.KeyStatus(ctx)
	if err != nil {
		return core.KeyStatus{}, err
	}
	if d.cfg.Providers.OpenAI.APIKey != "" {
		status.OpenAI.Configured = true
	}
	if d.cfg.Providers.Gemini.APIKey != "" {
		status.Gemini.Configured = true
	}
	status.OpenAI = d.providerHealth(status.OpenAI, core.ProviderOpenAI)
	status.Gemini = d.providerHealth(status.Gemini, core.ProviderGemini)
	return status, nil
}

func (d *Dispatcher) providerHealth(s core.ProviderKeyStatus, provider string) core.ProviderKeyStatus {
	if !s.Configured {
		return s
	}
	if d.ai.Available(provider) {
		s.Working = true
	} else {
		s.Error = "circuit open after repeated provider failures"
	}
	return s
}

// Availability reports the per-provider circuit state for the providers
// endpoint. Gemini is keyed as gcp_gemini on the wire.
func (d *Dispatcher) Availability() map[string]bool {
	return map[string]bool{
		"openai":     d.ai.Available(core.ProviderOpenAI),
		"gcp_gemini": d.ai.Available(core.ProviderGemini),
	}
}
