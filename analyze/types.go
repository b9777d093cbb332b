// Package analyze implements the three anomaly-detection strategies and the
// dispatch gateway that runs them against uploaded log files.
package analyze

import (
	"errors"

	"logguard/core"
)

// Strategy names, matching the dispatch endpoints.
const (
	StrategyTraditional = "traditional"
	StrategyAdvancedML  = "advanced_ml"
	StrategyAI          = "ai"
)

// Dispatch errors surfaced with distinct HTTP statuses by the API layer.
var (
	// ErrDispatchInFlight: this (file, strategy) pair is already running.
	ErrDispatchInFlight = errors.New("analysis already in progress for this file and strategy")

	// ErrProcessingLimit: the global concurrent-analysis cap is saturated.
	ErrProcessingLimit = errors.New("Processing limit reached")

	// ErrProviderNotConfigured: the AI strategy was asked for a provider with
	// no stored key.
	ErrProviderNotConfigured = errors.New("ai provider is not configured")

	// ErrProviderUnavailable: the provider has a key but is currently failing
	// its availability probe.
	ErrProviderUnavailable = errors.New("ai provider is not available")
)

// TraditionalResult is the response shape of the rule-based strategy.
type TraditionalResult struct {
	Method             string         `json:"method"`
	AnomaliesFound     int            `json:"anomaliesFound"`
	LogEntriesAnalyzed int            `json:"logEntriesAnalyzed"`
	Anomalies          []core.Anomaly `json:"anomalies"`
}

// AdvancedMLResult extends the traditional shape with the model ensemble and
// per-anomaly confidence (carried inside each anomaly's sourceData under
// "confidence").
type AdvancedMLResult struct {
	Method             string         `json:"method"`
	AnomaliesFound     int            `json:"anomaliesFound"`
	LogEntriesAnalyzed int            `json:"logEntriesAnalyzed"`
	ModelsUsed         []string       `json:"modelsUsed"`
	Anomalies          []core.Anomaly `json:"anomalies"`
}

// AIConfig selects the provider and request tier for the AI strategy.
type AIConfig struct {
	Provider    string  `json:"provider" validate:"required"`
	Tier        string  `json:"tier" validate:"omitempty,oneof=standard premium"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
}

// AIDispatchAck is returned immediately by the AI strategy; detection happens
// asynchronously and lands in the anomaly list later.
type AIDispatchAck struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	LogFileID string `json:"logFileId"`
	Provider  string `json:"provider"`
	Tier      string `json:"tier"`
}

// Summary is the strategy-independent display model the three response shapes
// normalize into.
type Summary struct {
	Strategy           string   `json:"strategy"`
	Method             string   `json:"method"`
	AnomaliesFound     int      `json:"anomaliesFound"`
	LogEntriesAnalyzed int      `json:"logEntriesAnalyzed"`
	ModelsUsed         []string `json:"modelsUsed,omitempty"`
	Async              bool     `json:"async"`
	Message            string   `json:"message,omitempty"`
}

// Normalize folds a TraditionalResult into the shared display model.
func (r *TraditionalResult) Normalize() Summary {
	return Summary{
		Strategy:           StrategyTraditional,
		Method:             r.Method,
		AnomaliesFound:     r.AnomaliesFound,
		LogEntriesAnalyzed: r.LogEntriesAnalyzed,
	}
}

// Normalize folds an AdvancedMLResult into the shared display model.
func (r *AdvancedMLResult) Normalize() Summary {
	return Summary{
		Strategy:           StrategyAdvancedML,
		Method:             r.Method,
		AnomaliesFound:     r.AnomaliesFound,
		LogEntriesAnalyzed: r.LogEntriesAnalyzed,
		ModelsUsed:         r.ModelsUsed,
	}
}

// Normalize folds an AIDispatchAck into the shared display model.
func (a *AIDispatchAck) Normalize() Summary {
	return Summary{
		Strategy: StrategyAI,
		Method:   a.Provider,
		Async:    true,
		Message:  a.Message,
	}
}
