package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, BackendPostgres)
	}
	if cfg.Ingestion.Pairing != PairingPerUser {
		t.Errorf("Ingestion.Pairing = %q, want %q", cfg.Ingestion.Pairing, PairingPerUser)
	}
	if cfg.Kafka.Topics.TitleEvents != "title-events" {
		t.Errorf("TitleEvents = %q", cfg.Kafka.Topics.TitleEvents)
	}
	if g := cfg.Kafka.ConsumerGroups; g.Indexer == g.Enricher {
		t.Errorf("ConsumerGroups = %+v, want one group per process", g)
	}
	if cfg.Catalog.Retry.MaxAttempts != 4 {
		t.Errorf("Catalog.Retry.MaxAttempts = %d, want 4", cfg.Catalog.Retry.MaxAttempts)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeYAML(t, `
store:
  backend: dynamodb
  tableName: UKTVProgrammes
kafka:
  brokers: ["k1:9092"]
  batchSize: 50
ingestion:
  pairing: global
  interval: 6h
catalog:
  baseUrl: http://catalog.local
  retry:
    maxAttempts: 2
`)
	t.Setenv("TC_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("TC_CATALOG_API_KEY", "secret")
	t.Setenv("TC_KAFKA_ENRICHER_GROUP", "enricher-blue")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != BackendDynamoDB || cfg.Store.TableName != "UKTVProgrammes" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Ingestion.Interval != 6*time.Hour {
		t.Errorf("Ingestion.Interval = %v, want 6h", cfg.Ingestion.Interval)
	}
	if cfg.Ingestion.Pairing != PairingGlobal {
		t.Errorf("Ingestion.Pairing = %q", cfg.Ingestion.Pairing)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.BatchSize != 50 {
		t.Errorf("Kafka.BatchSize = %d, want 50", cfg.Kafka.BatchSize)
	}
	if g := cfg.Kafka.ConsumerGroups; g.Indexer != "title-catalog-indexer" || g.Enricher != "enricher-blue" {
		t.Errorf("Kafka.ConsumerGroups = %+v", g)
	}
	if cfg.Catalog.APIKey != "secret" {
		t.Errorf("Catalog.APIKey = %q", cfg.Catalog.APIKey)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Catalog.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("Catalog.Retry.InitialDelay = %v", cfg.Catalog.Retry.InitialDelay)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"backend", "store:\n  backend: cassandra\n"},
		{"pairing", "ingestion:\n  pairing: random\n"},
		{"shared consumer group", "kafka:\n  consumerGroups:\n    indexer: shared\n    enricher: shared\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeYAML(t, tt.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
