// Command admin serves the operator endpoints: on-demand reference refresh,
// title ingestion and enrichment jobs, job status, store summary and title
// queries, plus health and Prometheus metrics.
//
// Usage:
//
//	go run ./cmd/admin [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/admin"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/app"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting admin service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backfill writes title records, so they go to the change feed too.
	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, app.Options{ChangeFeed: true, QueryCache: true})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TitleEvents)
	defer producer.Close()
	a.Health().Register("kafka", health.OptionalCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	jobs := admin.NewRegistry(cfg.Server.JobTimeout, a.Metrics())
	deps := admin.Deps{
		Ingestor:  a.IngestionRunner(producer),
		Enricher:  a.Enricher(),
		Refresher: a.Refresher(),
		Query:     a.Query(),
		Store:     a.Store(),
		Jobs:      jobs,
	}
	if cache := a.QueryCache(); cache != nil {
		deps.Cache = cache
	}
	h := admin.NewHandler(deps)

	limiter := middleware.NewRateLimiter(cfg.Server.TriggersPerMinute, cfg.Server.TriggerBurst)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      admin.NewRouter(h, a.Health(), a.Metrics(), limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("admin service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	jobs.Wait()
	slog.Info("admin service stopped")
}
