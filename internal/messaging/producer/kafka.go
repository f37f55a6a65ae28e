package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shiporacle/config"
	"shiporacle/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaProducer implements the Producer interface
type KafkaProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
	topic  string
}

// NewKafkaProducer creates a new KafkaProducer
func NewKafkaProducer(cfg config.KafkaProducerConfig, logger *zap.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka producer configuration incomplete: both brokers and topic are required")
	}
	logger = logger.Named("kafka-producer")

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 50 * time.Millisecond
	}
	batchBytes := cfg.BatchBytes
	if batchBytes == 0 {
		batchBytes = 5 * 1024 * 1024
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // requests for one shipment stay ordered

		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		BatchBytes:   int64(batchBytes),

		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		Async:        cfg.Async,

		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf("Kafka writer error: "+msg, args...)
		}),
	}

	logger.Info("Kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))

	return &KafkaProducer{writer: w, logger: logger, topic: cfg.Topic}, nil
}

func requiredAcks(s string) kafka.RequiredAcks {
	switch s {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

// messageKey partitions by shipment when known, by request otherwise.
func messageKey(msg *models.AttestationMessage) []byte {
	if msg.ShipmentID != "" {
		return []byte(msg.ShipmentID)
	}
	return []byte(msg.RequestID)
}

// Publish sends a message
func (p *KafkaProducer) Publish(ctx context.Context, msg *models.AttestationMessage) error {
	return p.PublishBatch(ctx, []*models.AttestationMessage{msg})
}

// PublishBatch sends attestation requests in batch to the configured topic
func (p *KafkaProducer) PublishBatch(ctx context.Context, msgs []*models.AttestationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		msgBytes, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize attestation message (RequestID: %s): %w", msg.RequestID, err)
		}
		kafkaMsgs[i] = kafka.Message{Key: messageKey(msg), Value: msgBytes}
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.logger.Error("Failed to send Kafka messages", zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("failed to batch write to Kafka: %w", err)
	}

	p.logger.Debug("Kafka messages queued", zap.Int("count", len(msgs)), zap.String("topic", p.topic))
	return nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	p.logger.Info("Closing Kafka producer (and flushing buffer)")
	return p.writer.Close()
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check
