// Command enricher consumes the change feed of canonical title records and
// fills in poster, plot and rating for titles that do not have them yet.
//
// Usage:
//
//	go run ./cmd/enricher [-config configs/development.yaml] [-backfill]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/app"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	backfill := flag.Bool("backfill", false, "enrich every stored title once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting enricher service", "concurrency", cfg.Enricher.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, app.Options{ChangeFeed: true})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	enr := a.Enricher()
	if *backfill {
		summary, err := enr.Backfill(ctx)
		if err != nil {
			slog.Error("backfill failed", "error", err)
			os.Exit(1)
		}
		slog.Info("backfill finished",
			"scanned", summary.Scanned,
			"enriched", summary.Enriched,
			"skipped", summary.Skipped,
		)
		return
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "enricher")
		defer shutdown(context.Background())
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.TitleChanges, cfg.Kafka.ConsumerGroups.Enricher, enr.HandleChanges).WithMetrics(a.Metrics())
	defer consumer.Close()

	slog.Info("enricher service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.TitleChanges,
		"group", cfg.Kafka.ConsumerGroups.Enricher,
	)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("enricher service stopped")
}
