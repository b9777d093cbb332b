package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"logguard/core"
	"logguard/export"
	"logguard/metrics"
	"logguard/storage"
)

const maxJSONBodySize = 1 << 20 // 1MB

// anomalyFilterFromQuery builds the store filter from the request query.
func anomalyFilterFromQuery(r *http.Request) (storage.AnomalyFilter, error) {
	q := r.URL.Query()
	filter := storage.AnomalyFilter{
		LogFileID:       q.Get("logFileId"),
		Status:          q.Get("status"),
		DetectionMethod: q.Get("detectionMethod"),
		Search:          strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("minRiskScore"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid minRiskScore: %s", v)
		}
		filter.MinRiskScore = score
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit: %s", v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: %s", v)
		}
		filter.Offset = offset
	}
	if filter.Status != "" && !core.ValidStatus(filter.Status) {
		return filter, fmt.Errorf("invalid status: %s", filter.Status)
	}
	return filter, nil
}

func (a *API) listAnomalies(w http.ResponseWriter, r *http.Request) {
	filter, err := anomalyFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	// Only the unfiltered list is cached; filtered views go to the store.
	cacheable := a.cache != nil && filter == (storage.AnomalyFilter{})
	if cacheable {
		var cached []core.Anomaly
		found, err := a.cache.Get(r.Context(), core.CacheKeyAnomalies, &cached)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("api", "get").Inc()
		} else if found {
			metrics.CacheHits.WithLabelValues("api").Inc()
			respondJSON(w, http.StatusOK, cached)
			return
		} else {
			metrics.CacheMisses.WithLabelValues("api").Inc()
		}
	}

	anomalies, err := a.store.ListAnomalies(r.Context(), filter)
	if err != nil {
		a.handleDomainError(w, err, "Failed to list anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []core.Anomaly{}
	}

	if cacheable {
		if err := a.cache.Set(r.Context(), core.CacheKeyAnomalies, anomalies, a.config.GetCacheTTL()); err != nil {
			metrics.CacheErrors.WithLabelValues("api", "set").Inc()
		}
	}
	respondJSON(w, http.StatusOK, anomalies)
}

func (a *API) getAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if a.cache != nil {
		var cached core.Anomaly
		found, err := a.cache.Get(r.Context(), core.AnomalyCacheKey(id), &cached)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("api", "get").Inc()
		} else if found {
			metrics.CacheHits.WithLabelValues("api").Inc()
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	anomaly, err := a.store.GetAnomaly(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch anomaly")
		return
	}

	if a.cache != nil {
		if err := a.cache.Set(r.Context(), core.AnomalyCacheKey(id), anomaly, a.config.GetCacheTTL()); err != nil {
			metrics.CacheErrors.WithLabelValues("api", "set").Inc()
		}
	}
	respondJSON(w, http.StatusOK, anomaly)
}

type anomalyUpdateRequest struct {
	Status       *string    `json:"status"`
	Priority     *string    `json:"priority"`
	AnalystNotes *string    `json:"analystNotes"`
	ReviewedAt   *time.Time `json:"reviewedAt"`
}

func (a *API) updateAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req anomalyUpdateRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}

	update := core.AnomalyUpdate{
		Status:       req.Status,
		Priority:     req.Priority,
		AnalystNotes: req.AnalystNotes,
		ReviewedAt:   req.ReviewedAt,
	}
	if update.Empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", nil, a.logger)
		return
	}
	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	anomaly, err := a.store.UpdateAnomaly(r.Context(), id, update)
	if err != nil {
		a.handleDomainError(w, err, "Failed to update anomaly")
		return
	}

	a.invalidateAnomalyCaches(r, id)
	respondJSON(w, http.StatusOK, anomaly)
}

type bulkUpdateRequest struct {
	AnomalyIDs []string `json:"anomalyIds" validate:"required,min=1"`
	Updates    struct {
		Status     string     `json:"status" validate:"required"`
		ReviewedAt *time.Time `json:"reviewedAt"`
	} `json:"updates"`
}

func (a *API) bulkUpdateAnomalies(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := a.decodeJSONBody(w, r, &req, maxJSONBodySize); err != nil {
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "anomalyIds and updates.status are required", err, a.logger)
		return
	}
	if !core.ValidStatus(req.Updates.Status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", req.Updates.Status), nil, a.logger)
		return
	}

	reviewedAt := time.Now().UTC()
	if req.Updates.ReviewedAt != nil {
		reviewedAt = *req.Updates.ReviewedAt
	}
	updated, err := a.store.BulkUpdateStatus(r.Context(), req.AnomalyIDs, req.Updates.Status, reviewedAt)
	if err != nil {
		a.handleDomainError(w, err, "Failed to apply bulk update")
		return
	}
	metrics.BulkUpdatesApplied.Add(float64(updated))

	for _, id := range req.AnomalyIDs {
		a.invalidateAnomalyCaches(r, id)
	}
	payload := map[string]interface{}{
		"anomalyIds": req.AnomalyIDs,
		"status":     req.Updates.Status,
	}
	if a.hub != nil {
		a.hub.Broadcast(core.EventBulkReviewed, payload)
	}
	if a.notifier != nil {
		a.notifier.Notify(r.Context(), core.EventBulkReviewed, payload)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
		"status":  req.Updates.Status,
	})
}

func (a *API) exportAnomalies(w http.ResponseWriter, r *http.Request) {
	filter, err := anomalyFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	anomalies, err := a.store.ListAnomalies(r.Context(), filter)
	if err != nil {
		a.handleDomainError(w, err, "Failed to export anomalies")
		return
	}

	filename := export.Filename(time.Now())
	w.Header().Set("Content-Type", export.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(export.EncodeCSV(anomalies)))
}

func (a *API) invalidateAnomalyCaches(r *http.Request, id string) {
	if a.cache == nil {
		return
	}
	for _, key := range []string{core.CacheKeyAnomalies, core.AnomalyCacheKey(id)} {
		if err := a.cache.Invalidate(r.Context(), key); err != nil {
			metrics.CacheErrors.WithLabelValues("api", "invalidate").Inc()
		}
	}
}
