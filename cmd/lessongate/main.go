package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lessongate/internal/config"
	"lessongate/internal/handlers"
	"lessongate/internal/httpserver"
	"lessongate/internal/metrics"
	"lessongate/pkg/logging/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "lessongate",
		Short:         "Generate educational animations, narration, lessons and articles for a topic",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(serveCmd(), cacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lessongate:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// setup loads config and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Bool("llm_enabled", cfg.LLMEnabled()),
		zap.Bool("sandbox_enabled", cfg.SandboxEnabled()),
		zap.Bool("tts_enabled", cfg.TTSEnabled()),
	)

	store, closeStore, err := openStore(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	app, err := build(cfg, store, logger)
	if err != nil {
		return err
	}
	defer app.close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	app.topics.StartSweeper(sweepCtx, cfg.Cache.CleanupInterval)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Content: handlers.NewContentHandler(app.service),
		Cache:   handlers.NewCacheHandler(app.topics),
		Media:   handlers.NewMediaHandler(store),
		Health:  handlers.NewHealthHandler(store),
	}, httpserver.Options{
		RequestTimeout:  cfg.Server.RequestTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitPerIP:  cfg.Server.RateLimitPerIP,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	logger.Info("starting lessongate", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete", zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Round(time.Second)))
	return nil
}
