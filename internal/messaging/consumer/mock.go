package consumer

import (
	"context"
	"errors"
	"sync"

	"shiporacle/internal/models"

	"go.uber.org/zap"
)

// ErrClosed is returned by Consume after Close.
var ErrClosed = errors.New("message channel closed")

// MockConsumer serves in-memory messages. A nack puts the message back.
type MockConsumer struct {
	logger   *zap.Logger
	messages chan *models.AttestationMessage

	mu     sync.Mutex
	closed bool
	acked  []string
	nacked []string
}

// NewMockConsumer creates a MockConsumer preloaded with msgs.
func NewMockConsumer(logger *zap.Logger, msgs ...*models.AttestationMessage) *MockConsumer {
	mc := &MockConsumer{
		logger:   logger.Named("mock-consumer"),
		messages: make(chan *models.AttestationMessage, len(msgs)+64),
	}
	for _, msg := range msgs {
		mc.messages <- msg
	}
	mc.logger.Debug("Mock consumer loaded", zap.Int("count", len(msgs)))
	return mc
}

// Push enqueues another message.
func (m *MockConsumer) Push(msg *models.AttestationMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.messages <- msg
	}
}

// Consume reads the next queued message.
func (m *MockConsumer) Consume(ctx context.Context) (*models.AttestationMessage, func(success bool), error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case msg, ok := <-m.messages:
		if !ok {
			return nil, nil, ErrClosed
		}
		ack := func(success bool) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if success {
				m.acked = append(m.acked, msg.RequestID)
				return
			}
			m.nacked = append(m.nacked, msg.RequestID)
			if m.closed {
				return
			}
			select {
			case m.messages <- msg:
			default:
				m.logger.Warn("Failed to re-queue message", zap.String("request_id", msg.RequestID))
			}
		}
		return msg, ack, nil
	}
}

// Acked returns the request ids acknowledged so far.
func (m *MockConsumer) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// Nacked returns the request ids negatively acknowledged so far.
func (m *MockConsumer) Nacked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nacked...)
}

// Close closes the message channel.
func (m *MockConsumer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.messages)
	}
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
