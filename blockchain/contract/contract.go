package contract

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"shiporacle/blockchain/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxConfidence is the upper bound of the confidence score range.
const MaxConfidence = 100

var (
	ErrInvalidConfidence = errors.New("confidence score must be within [0,100]")
	ErrInvalidSubmission = errors.New("malformed submission")
	ErrUnauthorized      = errors.New("caller does not own the record")
	ErrNotFound          = types.ErrNotFound
)

// StatusOf maps a contract error to the processing status reported to clients.
func StatusOf(err error) types.ProcessingStatus {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return types.StatusErrorUnauthorized
	case errors.Is(err, ErrNotFound):
		return types.StatusErrorNotFound
	default:
		return types.StatusErrorValidation
	}
}

// EventSink receives every committed event after the state transition.
type EventSink = types.EventSink

// Outcome describes one accepted transition (or deduplicated no-op).
type Outcome struct {
	Status        types.ProcessingStatus
	Record        *types.ShipmentRecord
	Event         *types.Event // nil for SkippedDuplicate
	TransactionID string
	Sequence      uint64
}

// Contract is the ledger-side shipment registry logic.
type Contract struct {
	state    StateStore
	registry types.Registry
	clock    *Clock
	locks    *keyedMutex
	logger   *zap.Logger

	commitMu sync.Mutex
	seq      uint64

	dispatch *dispatcher
}

// Genesis opens the contract over state. The registry is created on the first
// call against empty state and loaded on every later call.
func Genesis(ctx context.Context, state StateStore, creator string, logger *zap.Logger) (*Contract, error) {
	seq, lastTS, err := state.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger head: %w", err)
	}
	clock := NewClock(time.Now)
	clock.Observe(lastTS)

	reg, err := state.LoadRegistry(ctx)
	switch {
	case errors.Is(err, types.ErrNotFound):
		reg = &types.Registry{
			ID:        "registry-" + uuid.NewString(),
			CreatedAt: clock.Next(),
			Creator:   creator,
		}
		if err := state.SaveRegistry(ctx, reg); err != nil {
			return nil, fmt.Errorf("failed to create registry: %w", err)
		}
		logger.Info("Registry created", zap.String("registry_id", reg.ID), zap.String("creator", creator))
	case err != nil:
		return nil, fmt.Errorf("failed to load registry: %w", err)
	default:
		logger.Info("Registry loaded", zap.String("registry_id", reg.ID), zap.Uint64("head", seq))
	}

	return &Contract{
		state:    state,
		registry: *reg,
		clock:    clock,
		locks:    newKeyedMutex(),
		logger:   logger,
		seq:      seq,
		dispatch: newDispatcher(logger),
	}, nil
}

// AddSink registers an event sink. Sinks receive events in commit order on a
// separate goroutine, never under a ledger lock.
func (c *Contract) AddSink(sink EventSink) {
	c.dispatch.add(sink)
}

// Flush blocks until every committed event has reached the sinks.
func (c *Contract) Flush() {
	c.dispatch.flush()
}

// Close delivers queued events and stops sink delivery.
func (c *Contract) Close() {
	c.dispatch.close()
}

// Registry returns the registry anchor.
func (c *Contract) Registry() types.Registry {
	return c.registry
}

// RecordOrUpdate creates the record for a new shipment id. For an existing id
// the owner's identical resubmission is deduplicated and a changed one is
// applied as an authorized update; anyone else is refused.
func (c *Contract) RecordOrUpdate(ctx context.Context, caller string, sub types.SignedRecord) (*Outcome, error) {
	if err := validate(caller, sub); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(sub.ShipmentID)
	defer unlock()

	existing, err := c.state.GetRecord(ctx, sub.ShipmentID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return c.create(ctx, caller, sub)
	case err != nil:
		return nil, err
	}

	if existing.Owner != caller {
		return nil, ErrUnauthorized
	}
	if sameContent(existing, sub) {
		return &Outcome{
			Status:        types.StatusSkippedDuplicate,
			Record:        existing,
			TransactionID: existing.TransactionID,
		}, nil
	}
	return c.update(ctx, caller, existing, sub)
}

// Update replaces the attested fields of a record the caller owns.
func (c *Contract) Update(ctx context.Context, caller string, sub types.SignedRecord) (*Outcome, error) {
	if err := validate(caller, sub); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(sub.ShipmentID)
	defer unlock()

	existing, err := c.state.GetRecord(ctx, sub.ShipmentID)
	if err != nil {
		return nil, err
	}
	if existing.Owner != caller {
		return nil, ErrUnauthorized
	}
	return c.update(ctx, caller, existing, sub)
}

func (c *Contract) create(ctx context.Context, caller string, sub types.SignedRecord) (*Outcome, error) {
	rec := &types.ShipmentRecord{
		ShipmentID:      sub.ShipmentID,
		Summary:         sub.Summary,
		ConfidenceScore: sub.ConfidenceScore,
		Signature:       append([]byte(nil), sub.Signature...),
		SignerAddress:   caller,
		Owner:           caller,
		Version:         1,
	}
	out, err := c.commit(ctx, rec, types.EventCreated)
	if err != nil {
		return nil, err
	}
	out.Status = types.StatusCreated
	return out, nil
}

func (c *Contract) update(ctx context.Context, caller string, existing *types.ShipmentRecord, sub types.SignedRecord) (*Outcome, error) {
	rec := cloneRecord(existing)
	rec.Summary = sub.Summary
	rec.ConfidenceScore = sub.ConfidenceScore
	rec.Signature = append([]byte(nil), sub.Signature...)
	rec.SignerAddress = caller
	rec.Version++

	out, err := c.commit(ctx, rec, types.EventUpdated)
	if err != nil {
		return nil, err
	}
	out.Status = types.StatusUpdated
	return out, nil
}

// commit stamps the record with the ledger clock, persists it together with its
// event, then queues the event for the sinks. Callers hold the record lock.
func (c *Contract) commit(ctx context.Context, rec *types.ShipmentRecord, kind types.EventKind) (*Outcome, error) {
	c.commitMu.Lock()
	seq := c.seq + 1
	rec.Timestamp = c.clock.Next()
	rec.TransactionID = transactionID(seq, rec)

	ev := types.Event{
		Kind:          kind,
		ShipmentID:    rec.ShipmentID,
		Timestamp:     rec.Timestamp,
		TransactionID: rec.TransactionID,
		Sequence:      seq,
	}
	if kind == types.EventUpdated {
		score := rec.ConfidenceScore
		ev.ConfidenceScore = &score
		ev.SignerAddress = rec.SignerAddress
	}

	if err := c.state.Commit(ctx, rec, ev); err != nil {
		c.commitMu.Unlock()
		return nil, fmt.Errorf("failed to commit %s for %s: %w", kind, rec.ShipmentID, err)
	}
	c.seq = seq
	c.dispatch.enqueue(ctx, ev)
	c.commitMu.Unlock()

	c.logger.Debug("Ledger transition committed",
		zap.String("event", string(kind)),
		zap.String("shipment_id", rec.ShipmentID),
		zap.Uint64("sequence", seq),
		zap.Int64("timestamp", rec.Timestamp))

	return &Outcome{Record: cloneRecord(rec), Event: &ev, TransactionID: rec.TransactionID, Sequence: seq}, nil
}

// Get returns the current view of a record.
func (c *Contract) Get(ctx context.Context, shipmentID string) (*types.ShipmentRecord, error) {
	return c.state.GetRecord(ctx, shipmentID)
}

// Exists reports whether a record exists for shipmentID.
func (c *Contract) Exists(ctx context.Context, shipmentID string) (bool, error) {
	_, err := c.state.GetRecord(ctx, shipmentID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Summary returns the record's summary.
func (c *Contract) Summary(ctx context.Context, shipmentID string) (string, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return "", err
	}
	return rec.Summary, nil
}

// ConfidenceScore returns the record's confidence score.
func (c *Contract) ConfidenceScore(ctx context.Context, shipmentID string) (int, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return 0, err
	}
	return rec.ConfidenceScore, nil
}

// Timestamp returns the ledger timestamp of the record's last transition.
func (c *Contract) Timestamp(ctx context.Context, shipmentID string) (int64, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return 0, err
	}
	return rec.Timestamp, nil
}

// Signature returns the stored oracle signature.
func (c *Contract) Signature(ctx context.Context, shipmentID string) ([]byte, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return rec.Signature, nil
}

// SignerAddress returns the identity that submitted the current view.
func (c *Contract) SignerAddress(ctx context.Context, shipmentID string) (string, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return "", err
	}
	return rec.SignerAddress, nil
}

// Owner returns the identity allowed to update the record.
func (c *Contract) Owner(ctx context.Context, shipmentID string) (string, error) {
	rec, err := c.Get(ctx, shipmentID)
	if err != nil {
		return "", err
	}
	return rec.Owner, nil
}

// Events returns the notification history, filtered by shipment id when non-empty.
func (c *Contract) Events(ctx context.Context, shipmentID string) ([]types.Event, error) {
	return c.state.Events(ctx, shipmentID)
}

func validate(caller string, sub types.SignedRecord) error {
	if sub.ConfidenceScore < 0 || sub.ConfidenceScore > MaxConfidence {
		return fmt.Errorf("%w: got %d", ErrInvalidConfidence, sub.ConfidenceScore)
	}
	if sub.ShipmentID == "" {
		return fmt.Errorf("%w: shipment_id is empty", ErrInvalidSubmission)
	}
	if len(sub.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidSubmission, ed25519.SignatureSize, len(sub.Signature))
	}
	if caller == "" {
		return fmt.Errorf("%w: missing submitter identity", ErrUnauthorized)
	}
	return nil
}

func sameContent(rec *types.ShipmentRecord, sub types.SignedRecord) bool {
	return rec.Summary == sub.Summary &&
		rec.ConfidenceScore == sub.ConfidenceScore &&
		bytes.Equal(rec.Signature, sub.Signature)
}

// transactionID derives the digest of one transition.
func transactionID(seq uint64, rec *types.ShipmentRecord) string {
	h := sha256.New()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], seq)
	binary.BigEndian.PutUint64(buf[8:], uint64(rec.Timestamp))
	h.Write(buf[:])
	h.Write([]byte(rec.ShipmentID))
	h.Write(rec.Signature)
	return hex.EncodeToString(h.Sum(nil))
}
