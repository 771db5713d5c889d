// Command indexer consumes the title events topic and maintains the
// canonical title records and the (source, genre) inverted index.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-replay batch.json]
//
// With -replay the indexer processes one captured stream batch
// ({"records":[{"data":..., "partitionKey":...}]}) and exits.
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
	replayPath := flag.String("replay", "", "process a captured stream batch file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "lanes", cfg.Kafka.Lanes, "backend", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Title record writes go to the change feed so the enricher sees them.
	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, app.Options{ChangeFeed: true, QueryCache: true})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "indexer")
		defer shutdown(context.Background())
	}

	builder := a.IndexBuilder()
	if *replayPath != "" {
		if err := replay(ctx, *replayPath, builder.HandleBatch); err != nil {
			slog.Error("replay failed", "path", *replayPath, "error", err)
			os.Exit(1)
		}
		return
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.TitleEvents, cfg.Kafka.ConsumerGroups.Indexer, builder.HandleBatch).WithMetrics(a.Metrics())
	defer consumer.Close()

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.TitleEvents,
		"group", cfg.Kafka.ConsumerGroups.Indexer,
	)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func replay(ctx context.Context, path string, handle kafka.BatchHandler) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading batch: %w", err)
	}
	records, err := kafka.DecodeBatch(data)
	if err != nil {
		return err
	}
	slog.Info("replaying batch", "records", len(records))
	return handle(ctx, records)
}
