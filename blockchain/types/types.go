package types

import (
	"context"
	"errors"
)

// SignedRecord is what the oracle submits: the attested fields plus the
// signature over their canonical encoding. Ledger clients must pass it
// through unchanged.
type SignedRecord struct {
	ShipmentID      string `json:"shipment_id"`
	Summary         string `json:"summary"`
	ConfidenceScore int    `json:"confidence_score"`
	Signature       []byte `json:"signature"`
}

// ShipmentRecord is the persisted on-ledger view of a shipment.
type ShipmentRecord struct {
	ShipmentID      string `json:"shipment_id"`
	Summary         string `json:"summary"`
	ConfidenceScore int    `json:"confidence_score"`
	Timestamp       int64  `json:"timestamp"` // ledger clock, ms since epoch
	Signature       []byte `json:"signature"`
	SignerAddress   string `json:"signer_address"`
	Owner           string `json:"owner"`
	Version         uint64 `json:"version"` // 1 on creation, +1 per update
	TransactionID   string `json:"tx_id"`   // last transition
}

// Registry is the system-wide anchor created once at genesis.
type Registry struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	Creator   string `json:"creator"`
}

// ProcessingStatus is the contract's verdict on one submission.
type ProcessingStatus string

const (
	StatusCreated           ProcessingStatus = "Created"
	StatusUpdated           ProcessingStatus = "Updated"
	StatusSkippedDuplicate  ProcessingStatus = "SkippedDuplicate"
	StatusErrorValidation   ProcessingStatus = "ErrorValidation"
	StatusErrorUnauthorized ProcessingStatus = "ErrorUnauthorized"
	StatusErrorNotFound     ProcessingStatus = "ErrorNotFound"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventCreated EventKind = "Created"
	EventUpdated EventKind = "Updated"
)

// Event is a ledger notification. Created carries shipment id and timestamp;
// Updated additionally carries the new score and the signer address.
type Event struct {
	Kind            EventKind `json:"kind"`
	ShipmentID      string    `json:"shipment_id"`
	Timestamp       int64     `json:"timestamp"`
	ConfidenceScore *int      `json:"confidence_score,omitempty"`
	SignerAddress   string    `json:"signer_address,omitempty"`
	TransactionID   string    `json:"tx_id,omitempty"`
	Sequence        uint64    `json:"sequence"`
}

// EventSink receives committed ledger events.
type EventSink interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Receipt is returned after the ledger accepted a submission.
type Receipt struct {
	TransactionID string           `json:"tx_id"`
	BlockHeight   uint64           `json:"block_height"`
	ShipmentID    string           `json:"shipment_id"`
	Status        ProcessingStatus `json:"status"`
	Timestamp     int64            `json:"timestamp"`
	SignerAddress string           `json:"signer_address"`
	Events        []Event          `json:"events,omitempty"`
}

var (
	// ErrTransient marks failures worth retrying (timeouts, unavailable nodes).
	ErrTransient = errors.New("ledger temporarily unavailable")
	// ErrRejected marks submissions the ledger refused; retrying cannot help.
	ErrRejected = errors.New("ledger rejected submission")
	// ErrNotFound is returned by reads for unknown shipment ids.
	ErrNotFound = errors.New("shipment not found")
)
