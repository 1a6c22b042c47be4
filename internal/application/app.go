// Package application assembles the gateway from configuration and manages
// its lifecycle.
package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/application/usecase"
	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/domain/tool"
	"github.com/relaygate/relaygate/internal/infrastructure/config"
	"github.com/relaygate/relaygate/internal/infrastructure/embedding"
	"github.com/relaygate/relaygate/internal/infrastructure/llm"
	_ "github.com/relaygate/relaygate/internal/infrastructure/llm/anthropic" // register provider factory
	_ "github.com/relaygate/relaygate/internal/infrastructure/llm/bedrock"   // register provider factory
	_ "github.com/relaygate/relaygate/internal/infrastructure/llm/ollama"    // register provider factory
	_ "github.com/relaygate/relaygate/internal/infrastructure/llm/openai"    // register provider factory
	_ "github.com/relaygate/relaygate/internal/infrastructure/llm/tinyfish"  // register provider factory
	"github.com/relaygate/relaygate/internal/infrastructure/memory"
	"github.com/relaygate/relaygate/internal/infrastructure/metrics"
	httpserver "github.com/relaygate/relaygate/internal/interfaces/http"
	"github.com/relaygate/relaygate/pkg/safego"
)

// App owns every long-lived component: the client pool, the memory store,
// the metrics collector, the gateway pipeline, and the HTTP server.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *llm.ClientPool
	store     *memory.Store
	collector *metrics.Collector
	decisions *routing.DecisionLog
	gateway   *usecase.Gateway
	server    *httpserver.Server
	watcher   *config.Watcher

	cancelMaintenance context.CancelFunc
}

// New assembles the application. The configuration has already been
// validated by config.Load.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
		pool: llm.NewClientPool(llm.PoolConfig{
			MaxSockets:     cfg.Pool.MaxSockets,
			IdleKeepAlive:  cfg.Pool.IdleKeepAlive,
			RequestTimeout: cfg.Pool.RequestTimeout,
		}),
		collector: metrics.NewCollector(metrics.Config{
			CloudRatePerMTok: cfg.Metrics.CloudRatePerMTok,
		}),
		decisions: routing.NewDecisionLog(cfg.Routing.DecisionLogSize),
	}

	if cfg.Memory.Enabled {
		if err := os.MkdirAll(cfg.Memory.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := memory.Open(cfg.Memory.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open memory database: %w", err)
		}
		app.store = memory.NewStore(db, memory.Config{
			SurpriseThreshold:   cfg.Memory.SurpriseThreshold,
			DedupLookback:       cfg.Memory.DedupLookback,
			HalfLifeDays:        cfg.Memory.HalfLifeDays,
			MaxAgeDays:          cfg.Memory.MaxAgeDays,
			MaxCount:            cfg.Memory.MaxCount,
			MaintenanceInterval: cfg.Memory.MaintenanceInterval,
		}, logger)
	}

	pipeline, err := app.buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	app.gateway = usecase.NewGateway(pipeline, app.store, logger)

	app.server = httpserver.NewServer(httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Mode: "release",
	}, app.gateway, app.collector, app.decisions, cfg.Routing.Provider, logger)

	watcher, err := config.NewWatcher(logger, app.reload)
	if err != nil {
		logger.Warn("Config hot-reload unavailable", zap.Error(err))
	} else {
		app.watcher = watcher
	}

	return app, nil
}

// buildPipeline derives the reloadable components from configuration. The
// decision log and metrics collector persist across reloads; circuit
// breaker state resets with the new dispatcher.
func (a *App) buildPipeline(cfg *config.Config) (usecase.Pipeline, error) {
	var embedder routing.Embedder
	if cfg.Embedding.Enabled {
		embedder = embedding.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, a.logger)
	}
	analyzer := routing.NewAnalyzer(routing.Mode(cfg.Routing.Mode), embedder)

	tiers, err := parseTiers(cfg.Routing)
	if err != nil {
		return usecase.Pipeline{}, err
	}
	router := routing.NewRouter(routing.RouterConfig{
		StaticProvider:   cfg.Routing.Provider,
		LocalProvider:    cfg.Routing.LocalProvider,
		Tiers:            tiers,
		FallbackEnabled:  cfg.Routing.FallbackEnabled,
		FallbackProvider: cfg.Routing.FallbackProvider,
		IsLocal:          llm.IsLocal,
	}, a.decisions)

	descriptors := make(map[string]llm.Descriptor, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		family, _ := llm.FamilyOf(id)
		descriptors[id] = llm.Descriptor{
			Identifier: id,
			Family:     family,
			BaseURL:    pc.Endpoint,
			APIKey:     pc.APIKey,
			Model:      pc.Model,
			APIVersion: pc.APIVersion,
			Timeout:    pc.Timeout,
		}
	}

	dispatcher := llm.NewDispatcher(llm.DispatcherConfig{
		Retry: llm.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Jitter:       cfg.Retry.Jitter,
		},
		Breaker: llm.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		},
		FallbackEnabled:  cfg.Routing.FallbackEnabled,
		FallbackProvider: cfg.Routing.FallbackProvider,
		InjectLocalTools: cfg.Tools.InjectLocal,
		Selection: tool.SelectionConfig{
			Mode:        tool.Mode(cfg.Routing.Mode),
			TokenBudget: cfg.Tools.TokenBudget,
		},
	}, descriptors, a.pool, a.collector, a.logger)

	return usecase.Pipeline{Analyzer: analyzer, Router: router, Dispatcher: dispatcher}, nil
}

// parseTiers converts the four tier settings into routing targets. An empty
// set disables tier mode.
func parseTiers(rc config.RoutingConfig) (map[routing.Tier]routing.Target, error) {
	raw := map[routing.Tier]string{
		routing.TierSimple:    rc.TierSimple,
		routing.TierMedium:    rc.TierMedium,
		routing.TierComplex:   rc.TierComplex,
		routing.TierReasoning: rc.TierReasoning,
	}

	tiers := make(map[routing.Tier]routing.Target)
	for tier, spec := range raw {
		if spec == "" {
			continue
		}
		target, err := routing.ParseTarget(spec)
		if err != nil {
			return nil, fmt.Errorf("routing tier %s: %w", tier, err)
		}
		tiers[tier] = target
	}
	return tiers, nil
}

// reload swaps in a pipeline built from the new configuration.
func (a *App) reload(cfg *config.Config) {
	pipeline, err := a.buildPipeline(cfg)
	if err != nil {
		a.logger.Warn("Config reload rejected", zap.Error(err))
		return
	}
	a.gateway.Swap(pipeline)
	a.logger.Info("Pipeline rebuilt from new configuration")
}

// Start launches the HTTP server, memory maintenance, and the config
// watcher.
func (a *App) Start(ctx context.Context) error {
	if a.store != nil {
		maintCtx, cancel := context.WithCancel(context.Background())
		a.cancelMaintenance = cancel
		a.store.StartMaintenance(maintCtx)
	}
	if a.watcher != nil {
		safego.Go(a.logger, "config-watcher", func() { a.watcher.Run(ctx) })
	}
	return a.server.Start(ctx)
}

// Stop shuts down gracefully: drain HTTP, stop maintenance, close pools.
func (a *App) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := a.server.Stop(shutdownCtx)
	if a.cancelMaintenance != nil {
		a.cancelMaintenance()
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Warn("Memory store close failed", zap.Error(cerr))
		}
	}
	a.pool.Close()
	return err
}
