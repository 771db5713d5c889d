// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Store, Postgres, DynamoDB, Kafka, Redis, Catalog,
// Ingestion, Enricher, RefData, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Pairing rules used by the preference aggregator.
const (
	PairingPerUser = "per_user"
	PairingGlobal  = "global"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Enricher  EnricherConfig  `yaml:"enricher"`
	RefData   RefDataConfig   `yaml:"refData"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	JobTimeout        time.Duration `yaml:"jobTimeout"`
	TriggersPerMinute int           `yaml:"triggersPerMinute"` // per client address
	TriggerBurst      int           `yaml:"triggerBurst"`
}

// StoreConfig selects the key-value store backend.
type StoreConfig struct {
	Backend      string        `yaml:"backend"`
	TableName    string        `yaml:"tableName"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// DynamoDBConfig holds AWS DynamoDB settings. Endpoint is only set for
// local emulators.
type DynamoDBConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// KafkaConfig holds Kafka broker, topic and batch consumption settings.
type KafkaConfig struct {
	Brokers        []string            `yaml:"brokers"`
	ConsumerGroups KafkaConsumerGroups `yaml:"consumerGroups"`
	Topics         KafkaTopics         `yaml:"topics"`
	BatchSize      int                 `yaml:"batchSize"`
	BatchWait      time.Duration       `yaml:"batchWait"`
	BatchRetry     RetryConfig         `yaml:"batchRetry"`
	Lanes          int                 `yaml:"lanes"`
}

// KafkaConsumerGroups names the group of each consuming process. Every
// process needs its own group so that each one sees every record.
type KafkaConsumerGroups struct {
	Indexer  string `yaml:"indexer"`
	Enricher string `yaml:"enricher"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	TitleEvents  string `yaml:"titleEvents"`
	TitleChanges string `yaml:"titleChanges"`
}

// RedisConfig holds Redis connection and query caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RetryConfig is the YAML form of a bounded exponential backoff policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// CatalogConfig describes the external catalog provider.
type CatalogConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	APIKey            string        `yaml:"apiKey"`
	Region            string        `yaml:"region"`
	PageLimit         int           `yaml:"pageLimit"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	Retry             RetryConfig   `yaml:"retry"`
	RateLimitBackoff  time.Duration `yaml:"rateLimitBackoff"`
	BreakerThreshold  int           `yaml:"breakerThreshold"`
	BreakerReset      time.Duration `yaml:"breakerReset"`
}

// IngestionConfig controls the scheduled title ingestion run.
type IngestionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Pairing      string        `yaml:"pairing"`
	Concurrency  int           `yaml:"concurrency"`
	PublishRetry RetryConfig   `yaml:"publishRetry"`
	RunTimeout   time.Duration `yaml:"runTimeout"`
}

// EnricherConfig controls the change-triggered enricher.
type EnricherConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RefDataConfig controls the reference data refresher.
type RefDataConfig struct {
	Interval time.Duration `yaml:"interval"`
	Regions  string        `yaml:"regions"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendDynamoDB:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Ingestion.Pairing {
	case PairingPerUser, PairingGlobal:
	default:
		return fmt.Errorf("unknown pairing rule %q", c.Ingestion.Pairing)
	}
	if c.Store.TableName == "" {
		return fmt.Errorf("store.tableName is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	groups := c.Kafka.ConsumerGroups
	if groups.Indexer == "" || groups.Enricher == "" {
		return fmt.Errorf("kafka.consumerGroups.indexer and kafka.consumerGroups.enricher are required")
	}
	if groups.Indexer == groups.Enricher {
		return fmt.Errorf("kafka.consumerGroups must differ, both are %q", groups.Indexer)
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.baseUrl is required")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			JobTimeout:        15 * time.Minute,
			TriggersPerMinute: 6,
			TriggerBurst:      3,
		},
		Store: StoreConfig{
			Backend:      BackendPostgres,
			TableName:    "catalog_items",
			BatchTimeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "titlecatalog",
			User:            "titlecatalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		DynamoDB: DynamoDBConfig{
			Region: "eu-west-2",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			ConsumerGroups: KafkaConsumerGroups{
				Indexer:  "title-catalog-indexer",
				Enricher: "title-catalog-enricher",
			},
			Topics: KafkaTopics{
				TitleEvents:  "title-events",
				TitleChanges: "title-changes",
			},
			BatchSize: 100,
			BatchWait: time.Second,
			BatchRetry: RetryConfig{
				MaxAttempts:  5,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     30 * time.Second,
			},
			Lanes: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Catalog: CatalogConfig{
			BaseURL:           "https://api.watchmode.com",
			Region:            "GB",
			PageLimit:         20,
			RequestTimeout:    20 * time.Second,
			RequestsPerSecond: 5,
			Burst:             1,
			Retry: RetryConfig{
				MaxAttempts:  4,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
			RateLimitBackoff: 5 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Ingestion: IngestionConfig{
			Interval:    24 * time.Hour,
			Pairing:     PairingPerUser,
			Concurrency: 4,
			PublishRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
			RunTimeout: 30 * time.Minute,
		},
		Enricher: EnricherConfig{
			Concurrency: 4,
		},
		RefData: RefDataConfig{
			Interval: 7 * 24 * time.Hour,
			Regions:  "GB",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads TC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TC_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("TC_STORE_TABLE"); v != "" {
		cfg.Store.TableName = v
	}
	if v := os.Getenv("TC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TC_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("TC_DYNAMODB_REGION"); v != "" {
		cfg.DynamoDB.Region = v
	}
	if v := os.Getenv("TC_DYNAMODB_ENDPOINT"); v != "" {
		cfg.DynamoDB.Endpoint = v
	}
	if v := os.Getenv("TC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TC_KAFKA_INDEXER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroups.Indexer = v
	}
	if v := os.Getenv("TC_KAFKA_ENRICHER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroups.Enricher = v
	}
	if v := os.Getenv("TC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TC_CATALOG_BASE_URL"); v != "" {
		cfg.Catalog.BaseURL = v
	}
	if v := os.Getenv("TC_CATALOG_API_KEY"); v != "" {
		cfg.Catalog.APIKey = v
	}
	if v := os.Getenv("TC_CATALOG_REGION"); v != "" {
		cfg.Catalog.Region = v
	}
	if v := os.Getenv("TC_INGESTION_PAIRING"); v != "" {
		cfg.Ingestion.Pairing = v
	}
	if v := os.Getenv("TC_INGESTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingestion.Interval = d
		}
	}
	if v := os.Getenv("TC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
