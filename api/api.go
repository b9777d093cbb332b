// Package api exposes the LogGuard dashboard REST surface.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"logguard/analyze"
	"logguard/config"
	"logguard/core"
	"logguard/storage"
)

// rateLimiterEntry holds a per-IP rate limiter with last seen time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server and its collaborators.
type API struct {
	router     *mux.Router
	server     *http.Server
	store      storage.Store
	cache      core.Cache
	dispatcher *analyze.Dispatcher
	hub        *Hub
	notifier   analyze.Notifier
	config     *config.Config
	logger     *zap.SugaredLogger
	validate   *validator.Validate

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server. hub and notifier may be nil when those
// subsystems are disabled.
func NewAPI(store storage.Store, cache core.Cache, dispatcher *analyze.Dispatcher, hub *Hub, notifier analyze.Notifier, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		store:        store,
		cache:        cache,
		dispatcher:   dispatcher,
		hub:          hub,
		notifier:     notifier,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.tracingMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	// Fixed paths register before {id} so mux never swallows them.
	a.router.HandleFunc("/api/anomalies", a.listAnomalies).Methods("GET")
	a.router.HandleFunc("/api/anomalies/export", a.exportAnomalies).Methods("GET")
	a.router.HandleFunc("/api/anomalies/bulk-update", a.bulkUpdateAnomalies).Methods("PATCH")
	a.router.HandleFunc("/api/anomalies/{id}", a.getAnomaly).Methods("GET")
	a.router.HandleFunc("/api/anomalies/{id}", a.updateAnomaly).Methods("PATCH")

	a.router.HandleFunc("/api/log-files", a.listLogFiles).Methods("GET")
	a.router.HandleFunc("/api/log-files", a.uploadLogFile).Methods("POST")
	a.router.HandleFunc("/api/log-files/{id}", a.getLogFile).Methods("GET")
	a.router.HandleFunc("/api/log-files/{id}", a.deleteLogFile).Methods("DELETE")
	a.router.HandleFunc("/api/log-files/{id}/retry", a.retryLogFile).Methods("POST")

	a.router.HandleFunc("/api/analyze-traditional/{logFileId}", a.analyzeTraditional).Methods("POST")
	a.router.HandleFunc("/api/analyze-advanced-ml/{logFileId}", a.analyzeAdvancedML).Methods("POST")
	a.router.HandleFunc("/api/process-logs/{logFileId}", a.processLogsAI).Methods("POST")

	a.router.HandleFunc("/api/ai-providers", a.getAIProviders).Methods("GET")
	a.router.HandleFunc("/api/user-api-keys/status", a.getAPIKeyStatus).Methods("GET")
	a.router.HandleFunc("/api/user-api-keys", a.setAPIKey).Methods("POST")
	a.router.HandleFunc("/api/user-api-keys/{provider}", a.deleteAPIKey).Methods("DELETE")

	a.router.HandleFunc("/api/webhooks", a.listWebhooks).Methods("GET")
	a.router.HandleFunc("/api/webhooks", a.createWebhook).Methods("POST")
	a.router.HandleFunc("/api/webhooks/{id}", a.getWebhook).Methods("GET")
	a.router.HandleFunc("/api/webhooks/{id}", a.updateWebhook).Methods("PUT")
	a.router.HandleFunc("/api/webhooks/{id}", a.deleteWebhook).Methods("DELETE")

	a.router.HandleFunc("/api/ws", a.serveWebSocket).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if a.config.API.TLS {
		return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Stop shuts the server down, letting in-flight requests drain.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
