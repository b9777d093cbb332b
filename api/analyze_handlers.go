package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"logguard/analyze"
)

func (a *API) analyzeTraditional(w http.ResponseWriter, r *http.Request) {
	logFileID := mux.Vars(r)["logFileId"]

	// Lifecycle events come from the dispatcher, which sees async completions
	// the handler does not.
	result, err := a.dispatcher.RunTraditional(r.Context(), logFileID)
	if err != nil {
		a.handleDomainError(w, err, "Traditional analysis failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *API) analyzeAdvancedML(w http.ResponseWriter, r *http.Request) {
	logFileID := mux.Vars(r)["logFileId"]

	result, err := a.dispatcher.RunAdvancedML(r.Context(), logFileID)
	if err != nil {
		a.handleDomainError(w, err, "Advanced ML analysis failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type processLogsRequest struct {
	AIConfig analyze.AIConfig `json:"aiConfig"`
}

// processLogsAI dispatches the asynchronous AI strategy. The response is an
// acknowledgment; findings land in the anomaly list when the worker finishes.
func (a *API) processLogsAI(w http.ResponseWriter, r *http.Request) {
	logFileID := mux.Vars(r)["logFileId"]

	var req processLogsRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}
	if err := a.validate.Struct(&req.AIConfig); err != nil {
		writeError(w, http.StatusBadRequest, "aiConfig.provider is required", err, a.logger)
		return
	}

	ack, err := a.dispatcher.DispatchAI(r.Context(), logFileID, req.AIConfig)
	if err != nil {
		a.handleDomainError(w, err, "AI analysis dispatch failed")
		return
	}
	respondJSON(w, http.StatusAccepted, ack)
}

// getAIProviders reports per-provider availability for the strategy picker.
func (a *API) getAIProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"availability": a.dispatcher.Availability(),
	})
}

type setAPIKeyRequest struct {
	Provider string `json:"provider" validate:"required"`
	APIKey   string `json:"apiKey" validate:"required,min=8"`
}

func (a *API) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var req setAPIKeyRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "provider and apiKey are required", err, a.logger)
		return
	}

	record, err := a.store.SetAPIKey(r.Context(), req.Provider, req.APIKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	// The record marshals without the key material.
	respondJSON(w, http.StatusOK, record)
}

func (a *API) getAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.dispatcher.KeyStatus(r.Context())
	if err != nil {
		a.handleDomainError(w, err, "Failed to read key status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (a *API) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if err := a.store.DeleteAPIKey(r.Context(), provider); err != nil {
		a.handleDomainError(w, err, "Failed to delete API key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
