// Package app wires the pipeline components from configuration. Every
// process under cmd/ builds an App, asks it for the components it runs and
// closes it on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/enricher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/aggregator"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/fetcher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/runner"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/provider/watchmode"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/query"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/refdata"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

// Options select the optional parts of an App.
type Options struct {
	// ChangeFeed publishes every title record write to the change topic.
	// Processes that write title records need it so the enricher sees
	// their writes.
	ChangeFeed bool
	// QueryCache connects to Redis when it is enabled in the config.
	QueryCache bool
}

// App holds the shared infrastructure of one process.
type App struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	health   *health.Checker
	store    kvstore.Store
	provider *watchmode.Client
	cache    *query.RedisCache
	closers  []io.Closer
	logger   *slog.Logger
}

// New connects the store (and, per opts, the change feed and query cache).
// Metrics are registered on reg.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, opts Options) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: metrics.New(reg),
		health:  health.NewChecker(),
		logger:  logger.WithComponent("app"),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	if opts.ChangeFeed {
		changes := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TitleChanges)
		a.closers = append(a.closers, changes)
		a.store = kvstore.NewNotifying(store, ChangeSink(changes), catalog.IsTitleRecord)
		a.logger.Info("change feed enabled", "topic", changes.Topic())
	}

	if opts.QueryCache && cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, "title-catalog")
		if err != nil {
			// The cache is an optimisation; run without it.
			a.logger.Warn("query cache unavailable, continuing without it", "error", err)
		} else {
			a.closers = append(a.closers, client)
			a.cache = query.NewRedisCache(client, cfg.Redis.CacheTTL, a.metrics)
			a.health.Register("redis", health.OptionalCheck(client.Ping))
		}
	}

	a.provider = watchmode.New(cfg.Catalog, a.metrics)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (kvstore.Store, error) {
	cfg := a.cfg
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store := kvstore.NewPostgresStore(db, cfg.Store.TableName)
		a.closers = append(a.closers, store)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating store: %w", err)
		}
		a.health.Register("store", health.PingCheck(db.Ping))
		a.logger.Info("using postgres store", "table", cfg.Store.TableName)
		return store, nil
	case config.BackendDynamoDB:
		client, err := kvstore.NewDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("creating dynamodb client: %w", err)
		}
		store := kvstore.NewDynamoDBStore(client, cfg.Store.TableName)
		a.health.Register("store", health.PingCheck(func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}))
		a.logger.Info("using dynamodb store", "table", cfg.Store.TableName, "region", cfg.DynamoDB.Region)
		return store, nil
	default:
		a.logger.Warn("using in-memory store, data is lost on exit")
		return kvstore.NewMemoryStore(), nil
	}
}

// ChangeSink publishes store change events keyed by partition key, so all
// changes to one title stay in order.
func ChangeSink(p *kafka.Producer) kvstore.ChangeSink {
	return kvstore.ChangeSinkFunc(func(ctx context.Context, ev kvstore.ChangeEvent) error {
		return p.Publish(ctx, kafka.Event{Key: ev.Keys.PK, Value: ev})
	})
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
func (a *App) Health() *health.Checker { return a.health }
func (a *App) Store() kvstore.Store { return a.store }
func (a *App) Provider() *watchmode.Client { return a.provider }

// QueryCache is nil unless the Redis pair cache was opened.
func (a *App) QueryCache() *query.RedisCache { return a.cache }

// IngestionRunner builds the scheduled title ingestion pipeline publishing
// to events.
func (a *App) IngestionRunner(events publisher.EventWriter) *runner.Runner {
	return NewIngestionRunner(a.cfg, a.store, a.provider, events, a.metrics)
}

// IndexBuilder builds the title-event handler, invalidating the query cache
// when one is connected.
func (a *App) IndexBuilder() *consumer.IndexBuilder {
	b := consumer.New(a.store, a.metrics)
	if a.cache != nil {
		b = b.WithCache(a.cache)
	}
	return b
}

func (a *App) Enricher() *enricher.Enricher {
	return NewEnricher(a.cfg, a.store, a.provider, a.metrics)
}

func (a *App) Refresher() *refdata.Refresher {
	return refdata.New(a.store, a.provider, a.cfg.RefData.Regions, a.metrics)
}

func (a *App) Query() *query.Service {
	svc := query.New(catalog.NewRepository(a.store))
	if a.cache != nil {
		svc = svc.WithCache(a.cache)
	}
	return svc
}

// NewIngestionRunner assembles aggregator, fetcher and publisher.
func NewIngestionRunner(cfg *config.Config, store kvstore.Store, provider fetcher.Provider, events publisher.EventWriter, m *metrics.Metrics) *runner.Runner {
	return runner.New(
		aggregator.New(catalog.NewRepository(store), cfg.Ingestion.Pairing),
		fetcher.New(provider),
		publisher.New(events, resilience.FromConfig(cfg.Ingestion.PublishRetry), m),
		cfg.Ingestion.Concurrency,
		m,
	)
}

// NewEnricher builds an enricher fetching details through provider.
func NewEnricher(cfg *config.Config, store kvstore.Store, provider fetcher.Provider, m *metrics.Metrics) *enricher.Enricher {
	return enricher.New(store, fetcher.New(provider), cfg.Enricher.Concurrency, m)
}

// Close releases every connection in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
