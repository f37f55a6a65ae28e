package store

import (
	"context"
	"errors"
	"time"
)

// Status is the processing state of a queued attestation request.
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ErrNotFound is returned for unknown request ids.
var ErrNotFound = errors.New("attestation request not found")

// maxRetriesMessage is stored when a request runs out of redeliveries.
const maxRetriesMessage = "maximum retries exceeded"

// AttestationStatus is one row of the request status table.
type AttestationStatus struct {
	RequestID         string     `json:"request_id"`
	ShipmentID        string     `json:"shipment_id,omitempty"`
	Status            Status     `json:"status"`
	Stage             string     `json:"stage,omitempty"`
	RetryCount        int        `json:"retry_count"`
	ConfidenceScore   *int       `json:"confidence_score,omitempty"`
	Degraded          bool       `json:"degraded"`
	TxID              string     `json:"tx_id,omitempty"`
	BlockHeight       uint64     `json:"block_height,omitempty"`
	LedgerTimestamp   int64      `json:"ledger_timestamp,omitempty"`
	LedgerStatus      string     `json:"ledger_status,omitempty"`
	SignerAddress     string     `json:"signer_address,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ReceivedTimestamp time.Time  `json:"received_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// CompletionRecord carries the ledger outcome of a confirmed request.
type CompletionRecord struct {
	RequestID       string
	ShipmentID      string
	ConfidenceScore int
	Degraded        bool
	TxID            string
	BlockHeight     uint64
	LedgerTimestamp int64
	LedgerStatus    string
	SignerAddress   string
}

// FailureRecord carries the tagged error of a request that will not be retried.
type FailureRecord struct {
	RequestID    string
	ShipmentID   string
	Stage        string
	ErrorKind    string
	ErrorMessage string
}

// Store persists request status for the asynchronous path.
type Store interface {
	// InsertStatusBatch records newly accepted requests; existing ids are kept.
	InsertStatusBatch(ctx context.Context, statuses []*AttestationStatus) error

	// GetAndMarkBatchAsProcessing claims the given requests. Requests that
	// reached maxRetries are marked FAILED instead. Completed, failed and
	// unknown ids are absent from the result.
	GetAndMarkBatchAsProcessing(ctx context.Context, requestIDs []string, maxRetries int) (map[string]*AttestationStatus, error)

	// UpdateStage records pipeline progress of a claimed request.
	UpdateStage(ctx context.Context, requestID, shipmentID, stage string) error

	// MarkBatchForRetry returns requests to RECEIVED and counts the attempt.
	MarkBatchForRetry(ctx context.Context, requestIDs []string, errorMessage string) error

	MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error
	MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error

	// GetStatus reads one request; ErrNotFound when absent.
	GetStatus(ctx context.Context, requestID string) (*AttestationStatus, error)

	Close()
}
