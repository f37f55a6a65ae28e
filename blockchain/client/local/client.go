package local

import (
	"context"
	"errors"
	"fmt"

	"shiporacle/blockchain/contract"
	"shiporacle/blockchain/types"
	"shiporacle/config"

	"go.uber.org/zap"
)

// Client submits to an in-process ledger contract. Every call acts as the
// configured identity, which becomes the record owner.
type Client struct {
	contract *contract.Contract
	state    contract.StateStore
	identity string
	cfg      *config.BlockchainConfig
	logger   *zap.Logger
}

// NewLocalClient opens the ledger state named by cfg (a directory, or memory
// when unset) and runs genesis against it.
func NewLocalClient(ctx context.Context, cfg *config.BlockchainConfig, identity string, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("local-ledger")

	var (
		state contract.StateStore
		err   error
	)
	if cfg.LocalStateDir != "" {
		state, err = contract.OpenFileState(cfg.LocalStateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger state: %w", err)
		}
		logger.Info("Using file-backed local ledger", zap.String("dir", cfg.LocalStateDir))
	} else {
		state = contract.NewMemoryState()
		logger.Warn("Using in-memory local ledger; records are lost on restart")
	}

	c, err := contract.Genesis(ctx, state, identity, logger)
	if err != nil {
		_ = state.Close()
		return nil, err
	}
	return New(c, state, identity, cfg, logger), nil
}

// New wraps an existing contract.
func New(c *contract.Contract, state contract.StateStore, identity string, cfg *config.BlockchainConfig, logger *zap.Logger) *Client {
	return &Client{contract: c, state: state, identity: identity, cfg: cfg, logger: logger}
}

// Contract exposes the underlying contract for read accessors and tooling.
func (c *Client) Contract() *contract.Contract {
	return c.contract
}

// RecordOrUpdate implements blockchain.LedgerClient.
func (c *Client) RecordOrUpdate(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	out, err := c.contract.RecordOrUpdate(ctx, c.identity, rec)
	if err != nil {
		return nil, classify(err)
	}
	return receiptOf(out), nil
}

// Update implements blockchain.LedgerClient.
func (c *Client) Update(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	out, err := c.contract.Update(ctx, c.identity, rec)
	if err != nil {
		return nil, classify(err)
	}
	return receiptOf(out), nil
}

// GetShipment implements blockchain.LedgerClient.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*types.ShipmentRecord, error) {
	return c.contract.Get(ctx, shipmentID)
}

// GetRegistry implements blockchain.LedgerClient.
func (c *Client) GetRegistry(_ context.Context) (*types.Registry, error) {
	reg := c.contract.Registry()
	return &reg, nil
}

// Subscribe implements blockchain.LedgerClient.
func (c *Client) Subscribe(sink types.EventSink) {
	c.contract.AddSink(sink)
}

// Close implements blockchain.LedgerClient.
func (c *Client) Close() error {
	c.logger.Info("Closing local ledger")
	c.contract.Close()
	return c.state.Close()
}

// Config implements blockchain.LedgerClient.
func (c *Client) Config() any {
	return c.cfg
}

// classify marks contract verdicts as rejections and storage failures as
// transient.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, contract.ErrInvalidConfidence),
		errors.Is(err, contract.ErrInvalidSubmission),
		errors.Is(err, contract.ErrUnauthorized),
		errors.Is(err, contract.ErrNotFound):
		return fmt.Errorf("%w (%s): %w", types.ErrRejected, contract.StatusOf(err), err)
	default:
		return fmt.Errorf("%w: %w", types.ErrTransient, err)
	}
}

func receiptOf(out *contract.Outcome) *types.Receipt {
	r := &types.Receipt{
		TransactionID: out.TransactionID,
		BlockHeight:   out.Sequence,
		ShipmentID:    out.Record.ShipmentID,
		Status:        out.Status,
		Timestamp:     out.Record.Timestamp,
		SignerAddress: out.Record.SignerAddress,
	}
	if out.Event != nil {
		r.Events = []types.Event{*out.Event}
	}
	return r
}
