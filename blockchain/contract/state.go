package contract

import (
	"context"
	"errors"
	"sync"

	"shiporacle/blockchain/types"

	"github.com/samber/lo"
)

// ErrRegistryExists is returned when genesis runs against state that already has a registry.
var ErrRegistryExists = errors.New("registry already exists")

// StateStore persists ledger state. Commit must store the record and append the
// event as one unit; readers never observe one without the other.
type StateStore interface {
	LoadRegistry(ctx context.Context) (*types.Registry, error)
	SaveRegistry(ctx context.Context, reg *types.Registry) error
	GetRecord(ctx context.Context, shipmentID string) (*types.ShipmentRecord, error)
	Commit(ctx context.Context, rec *types.ShipmentRecord, ev types.Event) error
	// Events returns events in commit order, all of them when shipmentID is empty.
	Events(ctx context.Context, shipmentID string) ([]types.Event, error)
	// Head returns the last committed sequence number and ledger timestamp.
	Head(ctx context.Context) (seq uint64, timestamp int64, err error)
	Close() error
}

// MemoryState keeps ledger state in process memory.
type MemoryState struct {
	mu       sync.RWMutex
	registry *types.Registry
	records  map[string]*types.ShipmentRecord
	events   []types.Event
	lastSeq  uint64
	lastTS   int64
}

// NewMemoryState creates an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{records: make(map[string]*types.ShipmentRecord)}
}

// LoadRegistry implements StateStore.
func (s *MemoryState) LoadRegistry(_ context.Context) (*types.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.registry == nil {
		return nil, types.ErrNotFound
	}
	reg := *s.registry
	return &reg, nil
}

// SaveRegistry implements StateStore.
func (s *MemoryState) SaveRegistry(_ context.Context, reg *types.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry != nil {
		return ErrRegistryExists
	}
	cp := *reg
	s.registry = &cp
	return nil
}

// GetRecord implements StateStore.
func (s *MemoryState) GetRecord(_ context.Context, shipmentID string) (*types.ShipmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[shipmentID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Commit implements StateStore.
func (s *MemoryState) Commit(_ context.Context, rec *types.ShipmentRecord, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(rec, ev)
	return nil
}

func (s *MemoryState) apply(rec *types.ShipmentRecord, ev types.Event) {
	s.records[rec.ShipmentID] = cloneRecord(rec)
	s.events = append(s.events, ev)
	if ev.Sequence > s.lastSeq {
		s.lastSeq = ev.Sequence
	}
	if ev.Timestamp > s.lastTS {
		s.lastTS = ev.Timestamp
	}
}

// Events implements StateStore.
func (s *MemoryState) Events(_ context.Context, shipmentID string) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.events, func(ev types.Event, _ int) bool {
		return shipmentID == "" || ev.ShipmentID == shipmentID
	}), nil
}

// Head implements StateStore.
func (s *MemoryState) Head(_ context.Context) (uint64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq, s.lastTS, nil
}

// Close implements StateStore.
func (s *MemoryState) Close() error { return nil }

func cloneRecord(rec *types.ShipmentRecord) *types.ShipmentRecord {
	cp := *rec
	cp.Signature = append([]byte(nil), rec.Signature...)
	return &cp
}

var _ StateStore = (*MemoryState)(nil)
