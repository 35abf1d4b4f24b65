package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobby854854854/LexiSense/analysis"
	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/handler"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/pkg/ratelimit"
	"github.com/bobby854854854/LexiSense/service"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "lexisense",
		Short:         "Contract ingestion and analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	root.AddCommand(serveCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the analysis workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recover contracts stuck in processing once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sweep(ctx)
		},
	}
}

// app holds the wired components shared by both commands.
type app struct {
	cfg       *config.Config
	contracts service.ContractStore
	blobs     service.BlobStore
	pool      *analysis.Pool
	ingestor  *service.Ingestor
	sweeper   *analysis.Sweeper
	closers   []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded", "path", configPath, "store", cfg.Store.Driver, "storage", cfg.Storage.Backend, "ai_provider", cfg.AI.Provider)

	a := &app{cfg: cfg}

	a.contracts, err = service.NewContractStore(ctx, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("contract store: %w", err)
	}
	a.closers = append(a.closers, a.contracts.Close)

	a.blobs, err = service.NewBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	if mem, ok := a.contracts.(*service.MemoryContractStore); ok {
		mem.OnEvict(service.DeleteEvictedBlobs(a.blobs))
	}

	completer, err := analysis.NewCompleter(ctx, &cfg.AI)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("completion backend: %w", err)
	}
	if c, ok := completer.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	extractor, err := analysis.NewTextExtractor(cfg, a.blobs)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("text extractor: %w", err)
	}

	analyzer := analysis.NewAnalyzer(completer, a.contracts, &cfg.AI)
	a.pool = analysis.NewPool(analyzer, extractor, a.blobs, &cfg.AI)
	a.ingestor = service.NewIngestor(a.blobs, a.contracts, a.pool, cfg.Upload.MaxBytes)
	a.sweeper = analysis.NewSweeper(a.contracts, a.pool, cfg.Sweep)

	return a, nil
}

func newLimiter(cfg *config.RateLimitConfig) (*ratelimit.Limiter, func() error, error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("rate limiter initialized", "store", "redis", "addr", cfg.Redis.Addr)
		return ratelimit.New(ratelimit.NewRedisStore(client, cfg.Redis.Prefix)), client.Close, nil
	default:
		store, err := ratelimit.NewMemoryStore(cfg.MaxKeys)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("rate limiter initialized", "store", "memory", "max_keys", cfg.MaxKeys)
		return ratelimit.New(store), func() error { return nil }, nil
	}
}

func serve(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	limiter, closeLimiter, err := newLimiter(&cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	defer closeLimiter()

	// workers outlive the HTTP server so in-flight uploads still get queued
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	poolDone := make(chan error, 1)
	go func() { poolDone <- a.pool.Run(workerCtx) }()

	if cfg.Sweep.Enabled {
		go func() {
			if err := a.sweeper.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("sweeper stopped", "error", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.Deps{
		Config:    cfg,
		Limiter:   limiter,
		Ingestor:  a.ingestor,
		Contracts: a.contracts,
		Blobs:     a.blobs,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// interrupted analyses stay processing and are picked up by the sweeper
	stopWorkers()
	if err := <-poolDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("analysis workers stopped", "error", err)
	}
	slog.Info("server exited gracefully", "pending_jobs", a.pool.Pending())
	return nil
}

func sweep(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.sweeper.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	slog.Info("sweep finished", "requeued", result.Requeued, "abandoned", result.Abandoned, "skipped", result.Skipped)

	// drain what was requeued before exiting
	a.pool.Close()
	if err := a.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("analysis workers: %w", err)
	}
	return nil
}
