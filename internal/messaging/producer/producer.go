package producer

import (
	"context"

	"shiporacle/internal/models"
)

// Producer defines the interface for message queue producer
type Producer interface {
	// Publish sends a single attestation request to the configured topic
	Publish(ctx context.Context, msg *models.AttestationMessage) error

	// PublishBatch sends attestation requests in batch to the configured topic
	PublishBatch(ctx context.Context, msgs []*models.AttestationMessage) error

	// Close closes the producer connection
	Close() error
}
