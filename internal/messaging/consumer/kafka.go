package consumer

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

// KafkaConsumer implements the Consumer interface to consume attestation requests from Kafka
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// readerConfig builds the shared reader settings for a consumer group.
func readerConfig(brokers []string, topic, groupID, sessionTimeout, heartbeat, offsetReset string, logger *zap.Logger) kafka.ReaderConfig {
	session, err := time.ParseDuration(sessionTimeout)
	if err != nil {
		logger.Warn("Invalid session_timeout, using default 30s", zap.String("value", sessionTimeout))
		session = 30 * time.Second
	}
	hb, err := time.ParseDuration(heartbeat)
	if err != nil {
		logger.Warn("Invalid heartbeat_interval, using default 3s", zap.String("value", heartbeat))
		hb = 3 * time.Second
	}

	rc := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6, // 10MB
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    session,
		HeartbeatInterval: hb,
		StartOffset:       kafka.FirstOffset,
	}
	switch offsetReset {
	case "latest":
		rc.StartOffset = kafka.LastOffset
	case "", "earliest":
	default:
		logger.Warn("Unknown auto_offset_reset, using earliest", zap.String("value", offsetReset))
	}
	return rc
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}
	logger = logger.Named("kafka-consumer")

	rc := readerConfig(cfg.Brokers, cfg.Topic, cfg.GroupID, cfg.SessionTimeout, cfg.HeartbeatInterval, cfg.AutoOffsetReset, logger)
	rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
		logger.Sugar().Errorf("Kafka reader error: "+msg, args...)
	})
	r := kafka.NewReader(rc)

	logger.Info("Kafka consumer created",
		zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic), zap.String("group_id", cfg.GroupID))

	return &KafkaConsumer{reader: r, logger: logger}, nil
}

// Consume implements the Consumer interface by reading messages from Kafka
func (k *KafkaConsumer) Consume(ctx context.Context) (*models.AttestationMessage, func(success bool), error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	var msg models.AttestationMessage
	if err := json.Unmarshal(kafkaMsg.Value, &msg); err != nil {
		k.logger.Error("Failed to deserialize message, discarding",
			zap.Int64("offset", kafkaMsg.Offset), zap.Int("partition", kafkaMsg.Partition), zap.Error(err))
		_ = k.reader.CommitMessages(context.Background(), kafkaMsg) // a poison message must not block the partition
		return nil, nil, fmt.Errorf("message deserialization failed: %w", err)
	}

	ack := func(success bool) {
		if !success {
			k.logger.Warn("NACK received, offset will not be committed",
				zap.Int64("offset", kafkaMsg.Offset), zap.String("request_id", msg.RequestID))
			return
		}
		if err := k.reader.CommitMessages(context.Background(), kafkaMsg); err != nil {
			k.logger.Error("Failed to commit offset", zap.Int64("offset", kafkaMsg.Offset), zap.Error(err))
		}
	}
	return &msg, ack, nil
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Info("Closing Kafka consumer")
	return k.reader.Close()
}

var _ Consumer = (*KafkaConsumer)(nil)
