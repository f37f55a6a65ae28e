package blockchain

import (
	"context"

	"shiporacle/blockchain/types"
)

// LedgerClient defines the ledger-agnostic operations the oracle needs.
// Implementations wrap failures with types.ErrTransient or types.ErrRejected
// so callers can decide whether a retry may help.
type LedgerClient interface {
	// RecordOrUpdate submits a signed record; the ledger creates, updates or
	// deduplicates it.
	RecordOrUpdate(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error)

	// Update overwrites an existing record owned by this client's identity.
	Update(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error)

	// GetShipment reads the current view of a record; types.ErrNotFound when absent.
	GetShipment(ctx context.Context, shipmentID string) (*types.ShipmentRecord, error)

	// GetRegistry reads the registry anchor.
	GetRegistry(ctx context.Context) (*types.Registry, error)

	// Subscribe forwards every ledger event observed by this client to sink.
	Subscribe(sink types.EventSink)

	// Close releases the client's resources
	Close() error

	// Config returns the chain-specific configuration of the client
	Config() any
}
