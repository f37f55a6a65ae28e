package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shiporacle/blockchain/types"
	"shiporacle/config"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventHandler receives each ledger event read from the stream.
type EventHandler func(ctx context.Context, ev types.Event)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaEventConsumer reads ledger events published by the engine.
type KafkaEventConsumer struct {
	reader     messageReader
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewKafkaEventConsumer joins the event stream's consumer group, starting at
// the newest offset.
func NewKafkaEventConsumer(cfg config.EventStreamConfig, logger *zap.Logger) (*KafkaEventConsumer, error) {
	if !cfg.Enabled() || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete event stream configuration: brokers, topic, group_id are all required")
	}
	logger = logger.Named("event-consumer")
	rc := readerConfig(cfg.Brokers, cfg.Topic, cfg.GroupID, "", "", "latest", zap.NewNop())
	logger.Info("Ledger event consumer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return &KafkaEventConsumer{reader: kafka.NewReader(rc), logger: logger, retryDelay: time.Second}, nil
}

// Run dispatches events to handle until ctx is cancelled.
func (c *KafkaEventConsumer) Run(ctx context.Context, handle EventHandler) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to read ledger event", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.logger.Error("Discarding malformed ledger event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		handle(ctx, ev)
	}
}

// Close closes the reader.
func (c *KafkaEventConsumer) Close() error {
	return c.reader.Close()
}
