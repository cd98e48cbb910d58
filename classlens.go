// Package classlens is the public API for embedding the Classlens opinion-map server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := classlens.New(
//	    classlens.WithVersion(version),
//	    classlens.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: classlens (root) imports
// internal/*, but internal/* never imports classlens (root).
package classlens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/classlens/classlens/internal/aggregate"
	"github.com/classlens/classlens/internal/auth"
	"github.com/classlens/classlens/internal/cache"
	"github.com/classlens/classlens/internal/config"
	"github.com/classlens/classlens/internal/embed"
	"github.com/classlens/classlens/internal/mcp"
	"github.com/classlens/classlens/internal/server"
	"github.com/classlens/classlens/internal/storage"
	"github.com/classlens/classlens/internal/telemetry"
	"github.com/classlens/classlens/internal/worker"
	"github.com/classlens/classlens/migrations"
)

// App is the Classlens server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	statsCache   *cache.StatsCache
	broker       *server.Broker
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Classlens server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("classlens starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations, then any extra migration filesystems.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Optional Redis stats cache.
	statsCache, err := cache.New(context.Background(), cfg.RedisURL, cfg.StatsCacheTTL, logger)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("cache: %w", err)
	}
	if statsCache == nil {
		logger.Info("stats cache: disabled (no REDIS_URL)")
	}

	// Embedding job runner and aggregation facade.
	runner := worker.NewRunner(logger)
	params := embed.DefaultParams()
	params.NNeighbors = cfg.EmbedNeighbors
	params.NEpochs = cfg.EmbedEpochs
	params.MinDist = cfg.EmbedMinDist
	params.Seed = cfg.EmbedSeed
	aggSvc := aggregate.NewService(db, runner, statsCache, params, cfg.ClusterCount, logger)

	// SSE broker.
	broker := server.NewBroker(db, aggSvc, cfg.StatsTickInterval, logger)
	if !db.HasNotifyConn() {
		logger.Info("live push: tick-only (no notify connection)")
	}

	// MCP server.
	mcpSrv := mcp.New(aggSvc, logger)

	handlers := server.NewHandlers(server.HandlersDeps{
		Store:               db,
		JWTMgr:              jwtMgr,
		AggSvc:              aggSvc,
		Broker:              broker,
		Runner:              runner,
		TeacherKey:          cfg.TeacherKey,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	srv := server.New(server.Config{
		Handlers:     handlers,
		JWTMgr:       jwtMgr,
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		statsCache:   statsCache,
		broker:       broker,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the SSE broker and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.broker.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs graceful shutdown: stop accepting HTTP requests and drain
// in-flight handlers, then close the cache, database pool, and OTEL providers.
// Pending embedding jobs are cancelled through their request contexts when the
// HTTP drain completes.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("classlens shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	_ = a.statsCache.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("classlens stopped")
	return nil
}
