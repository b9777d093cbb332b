package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"logguard/core"
)

type webhookRequest struct {
	URL          string   `json:"url" validate:"required,url"`
	Secret       string   `json:"secret"`
	Events       []string `json:"events" validate:"required,min=1"`
	Enabled      *bool    `json:"enabled"`
	MinRiskScore float64  `json:"minRiskScore" validate:"gte=0,lte=10"`
}

func (a *API) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "url and at least one event are required", err, a.logger)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	webhook := &core.Webhook{
		ID:           uuid.NewString(),
		URL:          req.URL,
		Secret:       req.Secret,
		Events:       req.Events,
		Enabled:      enabled,
		MinRiskScore: req.MinRiskScore,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveWebhook(r.Context(), webhook); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, webhook)
}

func (a *API) listWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := a.store.ListWebhooks(r.Context())
	if err != nil {
		a.handleDomainError(w, err, "Failed to list webhooks")
		return
	}
	if webhooks == nil {
		webhooks = []core.Webhook{}
	}
	respondJSON(w, http.StatusOK, webhooks)
}

func (a *API) getWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := a.store.GetWebhook(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch webhook")
		return
	}
	respondJSON(w, http.StatusOK, webhook)
}

func (a *API) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := a.store.GetWebhook(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch webhook")
		return
	}

	var req webhookRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "url and at least one event are required", err, a.logger)
		return
	}

	existing.URL = req.URL
	existing.Events = req.Events
	existing.MinRiskScore = req.MinRiskScore
	if req.Secret != "" {
		existing.Secret = req.Secret
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := a.store.UpdateWebhook(r.Context(), existing); err != nil {
		a.handleDomainError(w, err, "Failed to update webhook")
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

func (a *API) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteWebhook(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.handleDomainError(w, err, "Failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
