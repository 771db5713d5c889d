// Command ingestion runs the scheduled title ingestion.
//
// Each run aggregates stored user preferences into (source, genre) work
// items, fetches the matching titles from the catalog provider and
// publishes one title event per discovery to the title events topic.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml] [-once]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/app"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single ingestion and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service",
		"interval", cfg.Ingestion.Interval,
		"pairing", cfg.Ingestion.Pairing,
		"concurrency", cfg.Ingestion.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, app.Options{})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TitleEvents)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", producer.Topic())

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "ingestion")
		defer shutdown(context.Background())
	}

	runner := a.IngestionRunner(producer)
	run := func(ctx context.Context, _ time.Time) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Ingestion.RunTimeout)
		defer cancel()
		summary, err := runner.Run(ctx, ingestion.CauseScheduled)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info("ingestion summary",
			"work_items", summary.WorkItems,
			"titles", summary.TitlesDiscovered,
			"published", summary.EventsPublished,
			"skipped", summary.Skipped(),
		)
		return nil
	}

	if *once {
		if err := run(logger.WithJobID(ctx, "once"), time.Now()); err != nil {
			slog.Error("ingestion failed", "error", err)
			os.Exit(1)
		}
		return
	}

	scheduler.New("title-ingestion", cfg.Ingestion.Interval, true).Run(ctx, run)
	slog.Info("ingestion service stopped")
}
