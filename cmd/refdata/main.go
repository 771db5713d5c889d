// Command refdata keeps the stored source and genre catalogs in step with
// the catalog provider, refreshing them on a fixed interval.
//
// Usage:
//
//	go run ./cmd/refdata [-config configs/development.yaml] [-once]
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
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	once := flag.Bool("once", false, "refresh once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting reference data refresher", "interval", cfg.RefData.Interval, "regions", cfg.RefData.Regions)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, app.Options{})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Metrics.Enabled && !*once {
		shutdown := metrics.StartServer(cfg.Metrics.Port, "refdata")
		defer shutdown(context.Background())
	}

	refresher := a.Refresher()
	run := func(ctx context.Context, _ time.Time) error {
		summary, err := refresher.Refresh(ctx)
		logger.FromContext(ctx).Info("reference data summary",
			"sources_written", summary.SourcesWritten,
			"sources_deleted", summary.SourcesDeleted,
			"genres_written", summary.GenresWritten,
			"genres_deleted", summary.GenresDeleted,
		)
		return err
	}

	if *once {
		if err := run(ctx, time.Now()); err != nil {
			slog.Error("refresh failed", "error", err)
			os.Exit(1)
		}
		return
	}

	scheduler.New("reference-refresh", cfg.RefData.Interval, true).Run(ctx, run)
	slog.Info("reference data refresher stopped")
}
