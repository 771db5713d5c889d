// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON keyed for
// per-key ordering; the consumer hands batches of records to a BatchHandler
// and commits offsets only after the handler succeeds.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

// Record is one stream record as handlers see it. Data holds the raw JSON
// payload and serialises as base64, matching the batch wire format.
type Record struct {
	Data         []byte `json:"data"`
	PartitionKey string `json:"partitionKey"`
	Partition    int    `json:"-"`
	Offset       int64  `json:"-"`
}

// BatchHandler processes one batch. Records of a partition arrive in order.
// A returned error fails the whole batch and the lane delivers it again.
type BatchHandler func(ctx context.Context, records []Record) error

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic through one reader per lane. Readers share the
// consumer group, so Kafka spreads partitions across lanes and each
// partition is read by exactly one lane.
type Consumer struct {
	readers   []MessageReader
	handler   BatchHandler
	topic     string
	batchSize int
	batchWait time.Duration
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewConsumer creates a Consumer reading topic as member of group. Each
// consuming process passes its own group.
func NewConsumer(cfg config.KafkaConfig, topic, group string, handler BatchHandler) *Consumer {
	lanes := cfg.Lanes
	if lanes < 1 {
		lanes = 1
	}
	readers := make([]MessageReader, 0, lanes)
	for i := 0; i < lanes; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     group,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}))
	}
	c := NewConsumerWithReaders(readers, handler, cfg.BatchSize, cfg.BatchWait, resilience.FromConfig(cfg.BatchRetry))
	c.topic = topic
	c.logger = c.logger.With("topic", topic, "group", group)
	return c
}

// WithMetrics counts batches the lanes had to deliver again.
func (c *Consumer) WithMetrics(m *metrics.Metrics) *Consumer {
	c.metrics = m
	return c
}

// NewConsumerWithReaders builds a Consumer over existing readers.
func NewConsumerWithReaders(readers []MessageReader, handler BatchHandler, batchSize int, batchWait time.Duration, retry resilience.RetryConfig) *Consumer {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchWait <= 0 {
		batchWait = time.Second
	}
	return &Consumer{
		readers:   readers,
		handler:   handler,
		batchSize: batchSize,
		batchWait: batchWait,
		retry:     retry,
		logger:    slog.Default().With("component", "kafka-consumer"),
	}
}

// Start runs every lane until ctx is cancelled. A lane never skips a batch:
// when the handler keeps failing past its retries the lane waits and hands
// the same uncommitted batch over again.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "lanes", len(c.readers), "batch_size", c.batchSize)
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range c.readers {
		lane, reader := i, r
		g.Go(func() error {
			return c.runLane(gctx, lane, reader)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		c.logger.Error("consumer stopped", "error", err)
		return err
	}
	c.logger.Info("consumer stopping", "reason", ctx.Err())
	return nil
}

func (c *Consumer) runLane(ctx context.Context, lane int, reader MessageReader) error {
	logger := c.logger.With("lane", lane)
	for {
		msgs, err := c.fetchBatch(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to fetch messages", "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		records := make([]Record, len(msgs))
		for i, m := range msgs {
			records[i] = Record{Data: m.Value, PartitionKey: string(m.Key), Partition: m.Partition, Offset: m.Offset}
		}

		if !c.process(ctx, logger, msgs, records) {
			return nil
		}
		if err := reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to commit messages", "count", len(msgs), "error", err)
		}
	}
}

// process hands records to the handler until it succeeds. It reports false
// only when ctx ends first, leaving the batch uncommitted.
func (c *Consumer) process(ctx context.Context, logger *slog.Logger, msgs []kafka.Message, records []Record) bool {
	for {
		err := resilience.Retry(ctx, "process-batch", c.retry, func() error {
			return c.handler(ctx, records)
		})
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("batch failed, delivering it again",
			"records", len(records),
			"first_partition", msgs[0].Partition,
			"first_offset", msgs[0].Offset,
			"backoff", c.redeliveryBackoff(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.BatchRedeliveries.WithLabelValues(c.topic).Inc()
		}
		select {
		case <-time.After(c.redeliveryBackoff()):
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Consumer) redeliveryBackoff() time.Duration {
	if c.retry.MaxDelay > 0 {
		return c.retry.MaxDelay
	}
	return time.Second
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or batchWait has passed since the first one arrived.
func (c *Consumer) fetchBatch(ctx context.Context, reader MessageReader) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()
	for len(msgs) < c.batchSize {
		m, err := reader.FetchMessage(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
				break
			}
			return msgs, nil
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close closes every reader.
func (c *Consumer) Close() error {
	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}

// Batch is the wire form of a record batch:
//
//	{"records": [{"data": "<base64 JSON>", "partitionKey": "..."}]}
type Batch struct {
	Records []Record `json:"records"`
}

// DecodeBatch parses a wire batch, for replaying captured batches through a
// BatchHandler outside Kafka.
func DecodeBatch(data []byte) ([]Record, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding record batch: %w", err)
	}
	return b.Records, nil
}
