package blockchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"shiporacle/attestation"
	"shiporacle/blockchain/types"
	"shiporacle/config"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsTransient reports whether a ledger failure may succeed when retried.
// Errors the client did not classify count as transient only for timeouts,
// unavailable transports and truncated responses.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, types.ErrRejected):
		return false
	case errors.Is(err, types.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}

// Submitter delivers signed records to a ledger, retrying transient failures
// with exponential backoff. The record is passed through untouched on every
// attempt.
type Submitter struct {
	client      LedgerClient
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	logger      *zap.Logger
}

// NewSubmitter creates a Submitter using the retry settings in cfg.
func NewSubmitter(client LedgerClient, cfg *config.BlockchainConfig, logger *zap.Logger) *Submitter {
	initial, max := cfg.SubmitBackoff()
	return &Submitter{
		client:      client,
		maxAttempts: cfg.SubmitMaxAttempts,
		initial:     initial,
		max:         max,
		logger:      logger.Named("submitter"),
	}
}

// Client returns the wrapped ledger client.
func (s *Submitter) Client() LedgerClient {
	return s.client
}

// Submit sends rec to the ledger. Failures are returned as *attestation.Error
// of kind LedgerRejected (no retry can help) or LedgerUnreachable (attempts
// exhausted or ctx done), stage submission.
func (s *Submitter) Submit(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	var (
		receipt *types.Receipt
		attempt int
	)

	operation := func() error {
		attempt++
		r, err := s.client.RecordOrUpdate(ctx, rec)
		if err == nil {
			receipt = r
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Ledger submission failed, retrying",
			zap.String("shipment_id", rec.ShipmentID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, s.policy(ctx), notify)
	if err == nil {
		s.logger.Info("Ledger submission confirmed",
			zap.String("shipment_id", rec.ShipmentID),
			zap.String("tx_id", receipt.TransactionID),
			zap.String("status", string(receipt.Status)),
			zap.Int("attempts", attempt))
		return receipt, nil
	}

	if ctx.Err() != nil || IsTransient(err) {
		return nil, attestation.WrapError(attestation.KindLedgerUnreachable, attestation.StageSubmission,
			fmt.Sprintf("ledger unreachable after %d attempt(s)", attempt), err)
	}
	return nil, attestation.WrapError(attestation.KindLedgerRejected, attestation.StageSubmission,
		"ledger rejected submission", err)
}

func (s *Submitter) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.max
	b.MaxElapsedTime = 0

	retries := s.maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
