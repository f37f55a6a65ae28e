package consumer

import (
	"context"

	"shiporacle/internal/models"
)

// Consumer defines the interface for message queue consumers.
type Consumer interface {
	// Consume blocks until a message is received or the context is cancelled.
	// It returns the message, an acknowledgement callback, and any error that occurred.
	// The ack callback: ack(true) for successful processing (offset is committed);
	// ack(false) for temporary failure (message is left for redelivery).
	Consume(ctx context.Context) (msg *models.AttestationMessage, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}
