package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/sevendev/crosspost/internal/config"
	httpcontroller "github.com/sevendev/crosspost/internal/controller/http"
	accountdao "github.com/sevendev/crosspost/internal/domain/account/dao"
	accountservice "github.com/sevendev/crosspost/internal/domain/account/service"
	"github.com/sevendev/crosspost/internal/domain/publish/coordinator"
	pubdao "github.com/sevendev/crosspost/internal/domain/publish/dao"
	pubpolicy "github.com/sevendev/crosspost/internal/domain/publish/policy"
	"github.com/sevendev/crosspost/internal/domain/ratelimit"
	whdao "github.com/sevendev/crosspost/internal/domain/webhook/dao"
	whservice "github.com/sevendev/crosspost/internal/domain/webhook/service"
	"github.com/sevendev/crosspost/internal/database"
	"github.com/sevendev/crosspost/internal/httpx/upstream/instagram"
	"github.com/sevendev/crosspost/internal/httpx/upstream/reddit"
	"github.com/sevendev/crosspost/internal/httpx/upstream/tiktok"
	"github.com/sevendev/crosspost/internal/httpx/upstream/x"
	"github.com/sevendev/crosspost/internal/publisher"
	"github.com/sevendev/crosspost/internal/storage"
	"github.com/sevendev/crosspost/internal/telemetry"
	"github.com/sevendev/crosspost/internal/workflow"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	pg      *pgxpool.Pool
	rdb     *redis.Client
	metrics *telemetry.Metrics

	runner      *workflow.Runner
	coord       *coordinator.Coordinator
	correlator  *whservice.Correlator
	checkpoints pubdao.CheckpointStore

	cron *cron.Cron
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:     cfg,
		router:  r,
		logger:  logger,
		metrics: telemetry.New(),
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	app.initDomains()
	app.initJobs()
	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure initializes infrastructure components (DB, Redis)
func (a *App) initInfrastructure(ctx context.Context) error {
	pg, err := database.NewPostgresPool(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pg = pg

	rdb, err := database.NewRedisClient(ctx, a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	a.rdb = rdb

	return nil
}

// initDomains initializes domain layers (DAO, services, coordinator)
func (a *App) initDomains() {
	accounts := accountservice.New(accountdao.NewAccountPostgres(a.pg), time.Minute)
	media := storage.NewMediaStore(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
	})
	validator := pubpolicy.New(pubpolicy.DefaultLimits(), media, accounts)

	ledger := ratelimit.NewLedger(a.rdb, ratelimit.DefaultPolicy(), a.logger)

	registry := publisher.NewRegistry()
	registry.Register(instagram.NewPublisher(instagram.New(
		instagram.WithBaseURL(a.cfg.Platforms.Instagram.BaseURL),
		instagram.WithAPIVersion(a.cfg.Platforms.Instagram.APIVersion),
	)))
	registry.Register(tiktok.NewPublisher(tiktok.New(
		tiktok.WithBaseURL(a.cfg.Platforms.TikTok.BaseURL),
	)))
	registry.Register(x.NewPublisher(x.New(
		x.WithBaseURL(a.cfg.Platforms.X.BaseURL),
	)))
	registry.Register(reddit.NewPublisher(reddit.New(
		reddit.WithBaseURL(a.cfg.Platforms.Reddit.BaseURL),
		reddit.WithUserAgent(a.cfg.Platforms.RedditUserAgent),
	), a.cfg.Platforms.RedditSubreddit))

	statuses := pubdao.NewStatusPostgres(a.pg)
	attempts := pubdao.NewAttemptPostgres(a.pg)
	remotes := pubdao.NewRemotePostPostgres(a.pg)
	checkpoints := pubdao.NewCheckpointPostgres(a.pg)
	a.checkpoints = checkpoints

	a.runner = workflow.NewRunner(a.logger)
	a.coord = coordinator.New(
		a.runner,
		validator,
		ledger,
		registry,
		accounts,
		media,
		statuses,
		attempts,
		remotes,
		checkpoints,
		a.metrics,
		a.logger,
		coordinator.Config{
			MaxPublishRetries: a.cfg.Coordinator.MaxPublishRetries,
			RetryBackoffBase:  a.cfg.Coordinator.RetryBackoffBase,
			PolicyTimeout:     a.cfg.Coordinator.PolicyTimeout,
			ReserveTimeout:    a.cfg.Coordinator.ReserveTimeout,
			PublishTimeout:    a.cfg.Coordinator.PublishTimeout,
			AckWindow:         a.cfg.Coordinator.AckWindow,
			AckPollInterval:   a.cfg.Coordinator.AckPollInterval,
		},
	)

	a.correlator = whservice.NewCorrelator(
		whdao.NewEventPostgres(a.pg),
		remotes,
		a.coord,
		statuses,
		a.metrics,
		whservice.Config{
			MaxAttempts: a.cfg.Webhook.MaxAttempts,
			BaseBackoff: a.cfg.Webhook.BaseBackoff,
			DueBatch:    a.cfg.Webhook.DueBatch,
		},
		a.logger,
	)
}

// initJobs registers the periodic ticks: webhook retry scanner, stale run
// sweeper and finished-run eviction
func (a *App) initJobs() {
	a.cron = cron.New(cron.WithSeconds())

	a.cron.AddFunc("*/10 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.correlator.ProcessDue(ctx); err != nil {
			a.logger.Error("webhook retry tick failed", "error", err)
		}
	})

	if a.cfg.Sweeper.Enabled {
		a.cron.AddFunc("0 */10 * * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			a.sweepStale(ctx)
		})
	}

	a.cron.AddFunc("0 0 * * * *", func() {
		evicted := a.coord.Evict(a.cfg.Coordinator.RunRetention)
		if evicted > 0 {
			a.logger.Info("evicted finished runs", "count", evicted)
		}
	})
}

// sweepStale marks checkpoint rows stuck in a non-terminal step with no
// in-flight run as failed, so crashed workflows surface instead of hanging
// forever
func (a *App) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-a.cfg.Sweeper.StaleAfter)
	stale, err := a.checkpoints.ListStale(ctx, cutoff)
	if err != nil {
		a.logger.Error("listing stale workflows", "error", err)
		return
	}
	for _, st := range stale {
		if run, ok := a.runner.Get(st.Key); ok && !run.State().Step.Terminal() {
			// Still executing in this process, a long scheduled wait is
			// not stale.
			continue
		}
		if err := a.checkpoints.MarkFailed(ctx, st.Key, "workflow abandoned after process restart"); err != nil {
			a.logger.Error("marking stale workflow failed", "key", st.Key, "error", err)
			continue
		}
		a.logger.Warn("stale workflow marked failed", "key", st.Key, "step", st.Step)
	}
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)
	a.router.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	swaggerHandler := httpcontroller.NewSwaggerHandler("Crosspost Publish API", OpenAPISpec)
	swaggerHandler.RegisterRoutes(a.router)

	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewPublishHandler(a.coord).RegisterRoutes(r)
		httpcontroller.NewWebhookHandler(a.correlator).RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.pg.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"postgres unreachable"}`))
		return
	}
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"redis unreachable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// In-flight runs checkpoint their state; the sweeper or a resubmit
	// picks them up after restart.
	if err := a.runner.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("runner shutdown incomplete", "error", err)
	}

	a.rdb.Close()
	a.pg.Close()

	a.logger.Info("shutdown complete")
	return nil
}
