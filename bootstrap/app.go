package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"logguard/analyze"
	"logguard/api"
	"logguard/config"
	"logguard/core"
	"logguard/notify"
	"logguard/storage"
)

// App represents the LogGuard application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store   storage.Store
	Cache   core.Cache
	Archive *ArchiveComponents

	Dispatcher *analyze.Dispatcher
	Notifier   *notify.Notifier
	Hub        *api.Hub
	APIServer  *api.API

	cacheClose func()
	serviceWg  *sync.WaitGroup
	hubCancel  context.CancelFunc
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{serviceWg: &sync.WaitGroup{}}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("LogGuard starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	sugar.Info("Running pre-flight checks...")
	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	store, err := InitStore(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Store = store

	cache, cacheClose, err := InitCache(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Cache = cache
	app.cacheClose = cacheClose

	archive, err := InitArchive(ctx, cfg, sugar)
	if err != nil {
		sugar.Errorw("Entry archive unavailable, continuing without it", "error", err)
	}
	app.Archive = archive

	traditional, err := analyze.NewTraditionalAnalyzer(cfg.Analysis.RulesFile, cfg.GetRegexTimeout(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to load detection rules: %w", err)
	}
	advanced := analyze.NewAdvancedMLAnalyzer(sugar)
	ai, err := analyze.NewAIAnalyzer(cfg, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI analyzer: %w", err)
	}

	app.Notifier = notify.NewNotifier(cfg, store, sugar)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	app.hubCancel = hubCancel
	app.Hub = api.NewHub(hubCtx, sugar)

	var archiveCh chan *storage.ArchiveEntry
	if archive != nil {
		archiveCh = archive.EntryCh
	}
	app.Dispatcher = analyze.NewDispatcher(cfg, store, cache, traditional, advanced, ai, app.Notifier, app.Hub, archiveCh, sugar)

	app.APIServer = api.NewAPI(store, cache, app.Dispatcher, app.Hub, app.Notifier, cfg, sugar)

	return app, nil
}

// Start starts all application services.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Start()

	if a.Archive != nil {
		a.Archive.Archive.Start(a.Config.ClickHouse.MaxPoolSize)
		a.Sugar.Info("Entry archive workers started")
	}

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		addr := fmt.Sprintf(":%d", a.Config.API.Port)
		a.Sugar.Infof("API server started on %s", addr)

		if err := a.APIServer.Start(addr); err != nil && err.Error() != "http: Server closed" {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. Order matters: the API
// server stops accepting work first, then in-flight webhook deliveries and
// archive batches drain, then connections close.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	a.Sugar.Info("Phase 2: Stopping live feed...")
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.hubCancel != nil {
		a.hubCancel()
	}

	a.Sugar.Info("Phase 3: Draining webhook deliveries...")
	if a.Notifier != nil {
		a.Notifier.Wait()
	}

	a.Sugar.Info("Phase 4: Stopping entry archive...")
	if a.Archive != nil {
		close(a.Archive.EntryCh)
		a.Archive.Archive.Stop()
		if err := a.Archive.ClickHouse.Close(); err != nil {
			a.Sugar.Errorw("Failed to close ClickHouse connection", "error", err)
		}
	}

	a.Sugar.Info("Phase 5: Waiting for service goroutines...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 6: Closing store and cache...")
	if a.cacheClose != nil {
		a.cacheClose()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Failed to close store", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
