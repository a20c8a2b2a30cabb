// Package main wires together the docsift service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/analyzer"
	"github.com/docsift/docsift/internal/api"
	"github.com/docsift/docsift/internal/app"
	"github.com/docsift/docsift/internal/cleaner"
	"github.com/docsift/docsift/internal/clock/system"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/fetcher"
	"github.com/docsift/docsift/internal/logging"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()
	clk := system.New()

	newStore := func(path string) *store.Store {
		locker := store.NewFlockLocker(path+".lock", cfg.LockTimeout())
		return store.New(path, locker, clk, logger)
	}
	rawStore := newStore(cfg.RawPath())
	cleanStore := newStore(cfg.CleanPath())
	scoredStore := newStore(cfg.ScoredPath())

	fetch, err := fetcher.New(fetcher.Config{
		BaseURL:        cfg.Scrape.BaseURL,
		UserAgent:      cfg.Scrape.UserAgent,
		RequestTimeout: cfg.RequestTimeout(),
		MaxRetries:     cfg.Scrape.MaxRetries,
		RequestDelay:   cfg.RequestDelay(),
		RespectRobots:  cfg.Scrape.RespectRobots,
	}, clk, logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	clean := cleaner.New(cleaner.Config{
		MinWords: cfg.Cleaner.MinWords,
		MaxChars: cfg.Cleaner.MaxChars,
	}, logger.Named("cleaner"))

	backend, err := analyzer.NewOpenAIBackend(cfg.Analyzer.APIKey, cfg.Analyzer.Model, cfg.Analyzer.Temperature)
	if err != nil {
		return fmt.Errorf("init evaluation backend: %w", err)
	}
	score := analyzer.New(backend, analyzer.Config{
		MaxRetries:  cfg.Analyzer.MaxRetries,
		BackoffBase: cfg.Analyzer.BackoffBase,
		Concurrency: cfg.Analyzer.Concurrency,
	}, logger.Named("analyzer"))

	pipeline := app.New(
		cfg.Scrape.BaseURL,
		fetch, clean, score,
		rawStore, cleanStore, scoredStore,
		clk, logger.Named("pipeline"),
	)

	server := api.NewServer(pipeline, clk, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
