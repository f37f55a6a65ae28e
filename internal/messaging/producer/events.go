package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shiporacle/blockchain/types"
	"shiporacle/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventKindHeader carries the event kind on every ledger event message.
const EventKindHeader = "event-kind"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher forwards committed ledger events to a Kafka topic.
// It implements types.EventSink.
type KafkaEventPublisher struct {
	writer     messageWriter
	logger     *zap.Logger
	maxRetries uint64
	interval   time.Duration
}

// NewKafkaEventPublisher creates a publisher for the configured event topic.
func NewKafkaEventPublisher(cfg config.EventStreamConfig, logger *zap.Logger) (*KafkaEventPublisher, error) {
	if !cfg.Enabled() || cfg.Topic == "" {
		return nil, errors.New("event stream configuration incomplete: brokers and topic are required")
	}
	logger = logger.Named("event-publisher")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	logger.Info("Ledger event publisher created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newEventPublisher(w, logger), nil
}

func newEventPublisher(w messageWriter, logger *zap.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: w, logger: logger, maxRetries: 2, interval: 100 * time.Millisecond}
}

// PublishEvent implements types.EventSink.
func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, ev types.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode ledger event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(ev.ShipmentID),
		Value:   value,
		Headers: []kafka.Header{{Key: EventKindHeader, Value: []byte(ev.Kind)}},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)

	err = backoff.Retry(func() error { return p.writer.WriteMessages(ctx, msg) }, policy)
	if err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", ev.Kind, ev.ShipmentID, err)
	}
	p.logger.Debug("Ledger event published",
		zap.String("event", string(ev.Kind)), zap.String("shipment_id", ev.ShipmentID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}

var _ types.EventSink = (*KafkaEventPublisher)(nil)
