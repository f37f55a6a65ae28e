package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory, for tests and single-node demos.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*AttestationStatus
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*AttestationStatus), now: time.Now}
}

// InsertStatusBatch implements Store.
func (s *MemoryStore) InsertStatusBatch(_ context.Context, statuses []*AttestationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range statuses {
		if _, exists := s.rows[st.RequestID]; exists {
			continue
		}
		cp := *st
		cp.UpdatedAt = s.now()
		s.rows[st.RequestID] = &cp
	}
	return nil
}

// GetAndMarkBatchAsProcessing implements Store.
func (s *MemoryStore) GetAndMarkBatchAsProcessing(_ context.Context, requestIDs []string, maxRetries int) (map[string]*AttestationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]*AttestationStatus, len(requestIDs))
	for _, id := range requestIDs {
		row, ok := s.rows[id]
		if !ok || (row.Status != StatusReceived && row.Status != StatusProcessing) {
			continue
		}
		if row.RetryCount >= maxRetries {
			row.Status = StatusFailed
			row.ErrorMessage = maxRetriesMessage
		} else {
			row.Status = StatusProcessing
		}
		row.UpdatedAt = s.now()
		cp := *row
		result[id] = &cp
	}
	return result, nil
}

// UpdateStage implements Store.
func (s *MemoryStore) UpdateStage(_ context.Context, requestID, shipmentID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[requestID]; ok {
		row.Stage = stage
		if shipmentID != "" {
			row.ShipmentID = shipmentID
		}
		row.UpdatedAt = s.now()
	}
	return nil
}

// MarkBatchForRetry implements Store.
func (s *MemoryStore) MarkBatchForRetry(_ context.Context, requestIDs []string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range requestIDs {
		if row, ok := s.rows[id]; ok {
			row.Status = StatusReceived
			row.RetryCount++
			row.ErrorMessage = errorMessage
			row.UpdatedAt = s.now()
		}
	}
	return nil
}

// MarkBatchAsCompleted implements Store.
func (s *MemoryStore) MarkBatchAsCompleted(_ context.Context, records []CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, r := range records {
		row, ok := s.rows[r.RequestID]
		if !ok {
			continue
		}
		score := r.ConfidenceScore
		row.Status = StatusCompleted
		row.Stage = "Confirmed"
		row.ShipmentID = r.ShipmentID
		row.ConfidenceScore = &score
		row.Degraded = r.Degraded
		row.TxID = r.TxID
		row.BlockHeight = r.BlockHeight
		row.LedgerTimestamp = r.LedgerTimestamp
		row.LedgerStatus = r.LedgerStatus
		row.SignerAddress = r.SignerAddress
		row.ErrorKind, row.ErrorMessage = "", ""
		row.UpdatedAt = now
		row.CompletedAt = &now
	}
	return nil
}

// MarkBatchAsFailed implements Store.
func (s *MemoryStore) MarkBatchAsFailed(_ context.Context, records []FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, r := range records {
		row, ok := s.rows[r.RequestID]
		if !ok {
			continue
		}
		row.Status = StatusFailed
		row.Stage = r.Stage
		if r.ShipmentID != "" {
			row.ShipmentID = r.ShipmentID
		}
		row.ErrorKind = r.ErrorKind
		row.ErrorMessage = r.ErrorMessage
		row.UpdatedAt = now
		row.CompletedAt = &now
	}
	return nil
}

// GetStatus implements Store.
func (s *MemoryStore) GetStatus(_ context.Context, requestID string) (*AttestationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// Close implements Store.
func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
