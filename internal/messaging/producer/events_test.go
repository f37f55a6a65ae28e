package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"shiporacle/blockchain/types"
	"shiporacle/config"
	"shiporacle/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyWriter struct {
	failures int
	calls    int
	written  []kafka.Message
}

func (w *flakyWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *flakyWriter) Close() error { return nil }

func newTestPublisher(w messageWriter) *KafkaEventPublisher {
	p := newEventPublisher(w, zap.NewNop())
	p.interval = time.Millisecond
	return p
}

func TestPublishEventRetries(t *testing.T) {
	w := &flakyWriter{failures: 1}
	p := newTestPublisher(w)

	score := 90
	ev := types.Event{Kind: types.EventUpdated, ShipmentID: "SHIP-1", Timestamp: 5, ConfidenceScore: &score, SignerAddress: "0xabc"}
	require.NoError(t, p.PublishEvent(context.Background(), ev))

	assert.Equal(t, 2, w.calls)
	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, []byte("SHIP-1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventKindHeader, msg.Headers[0].Key)
	assert.Equal(t, "Updated", string(msg.Headers[0].Value))

	var decoded types.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestPublishEventGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 10}
	p := newTestPublisher(w)

	err := p.PublishEvent(context.Background(), types.Event{Kind: types.EventCreated, ShipmentID: "SHIP-1"})
	require.Error(t, err)
	assert.Equal(t, 3, w.calls)
}

func TestNewKafkaEventPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaEventPublisher(config.EventStreamConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewKafkaProducerValidation(t *testing.T) {
	_, err := NewKafkaProducer(config.KafkaProducerConfig{Topic: "t"}, zap.NewNop())
	assert.Error(t, err)

	p, err := NewKafkaProducer(config.KafkaProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestMessageKey(t *testing.T) {
	assert.Equal(t, []byte("SHIP-1"), messageKey(&models.AttestationMessage{RequestID: "r", ShipmentID: "SHIP-1"}))
	assert.Equal(t, []byte("r"), messageKey(&models.AttestationMessage{RequestID: "r"}))
}
