package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/handlers"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/services/events"
	"github.com/chainwright/forge/internal/services/forge"
	"github.com/chainwright/forge/internal/services/rpcproxy"
	"github.com/chainwright/forge/internal/services/scheduler"
	"github.com/chainwright/forge/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	EventService     interfaces.EventService
	Runner           interfaces.SandboxRunner
	ForgeService     *forge.Service
	Sweeper          *forge.Sweeper
	RPCProxyService  *rpcproxy.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	RPCHandler *handlers.RPCHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Crash recovery runs inside scheduler start, before the sweep loop.
	if err := app.SchedulerService.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("sandbox", app.Runner.Name()).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the engine services together
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Runner = forge.NewRunner(&a.Config.Sandbox, a.Logger)

	jobStorage := a.StorageManager.JobStorage()
	a.ForgeService = forge.NewService(a.Config, jobStorage, a.Runner, a.EventService, a.Logger)
	a.Sweeper = forge.NewSweeper(&a.Config.Forge, jobStorage, a.EventService, a.Logger)
	a.RPCProxyService = rpcproxy.NewService(&a.Config.RPCProxy, &a.Config.Chains, a.Logger)
	a.SchedulerService = scheduler.NewService(&a.Config.Scheduler, a.Sweeper, a.Logger)

	return nil
}

// initHandlers creates the HTTP handler layer
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.JobHandler = handlers.NewJobHandler(a.ForgeService, a.StorageManager.JobStorage(), a.Logger)
	a.RPCHandler = handlers.NewRPCHandler(a.RPCProxyService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.ForgeService, &a.Config.WebSocket, a.Logger)

	if err := a.WSHandler.SubscribeToJobEvents(a.EventService); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe websocket handler to job events")
	}
}

// Shutdown stops background work and closes the storage layer
func (a *App) Shutdown() {
	a.SchedulerService.Stop()

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
}
