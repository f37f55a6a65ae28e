package coordinator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/canonical"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/client/local"
	"shiporacle/blockchain/types"
	"shiporacle/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type stubGenerator struct {
	rep   *report.Report
	err   error
	calls int
}

func (g *stubGenerator) Model() string { return "stub" }

func (g *stubGenerator) Generate(ctx context.Context, desc string) (*report.Report, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	cp := *g.rep
	return &cp, nil
}

type countingSubmitter struct {
	inner Submitter
	calls int
	last  types.SignedRecord
}

func (s *countingSubmitter) Submit(ctx context.Context, rec types.SignedRecord) (*types.Receipt, error) {
	s.calls++
	s.last = rec
	if s.inner == nil {
		return &types.Receipt{TransactionID: "tx", Status: types.StatusCreated}, nil
	}
	return s.inner.Submit(ctx, rec)
}

// unreachableLedger fails every submission with a transient error.
type unreachableLedger struct {
	blockchain.LedgerClient
	mu    sync.Mutex
	calls int
}

func (l *unreachableLedger) RecordOrUpdate(context.Context, types.SignedRecord) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil, types.ErrTransient
}

type recorder struct {
	mu     sync.Mutex
	stages []Stage
	errs   []error
}

func (r *recorder) OnTransition(_ context.Context, tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, tr.Stage)
	if tr.Err != nil {
		r.errs = append(r.errs, tr.Err)
	}
}

func testSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.FromHex(testSeed)
	require.NoError(t, err)
	return s
}

func coordinatorConfig(mode string) config.CoordinatorConfig {
	cfg := config.CoordinatorConfig{DegradedMode: mode}
	cfg.SetDefaults()
	return cfg
}

func retryConfig(attempts int) *config.BlockchainConfig {
	return &config.BlockchainConfig{
		BlockchainType:       "local",
		SubmitMaxAttempts:    attempts,
		SubmitInitialBackoff: "1ms",
		SubmitMaxBackoff:     "2ms",
	}
}

func TestAttestEndToEndLocalLedger(t *testing.T) {
	ctx := context.Background()
	s := testSigner(t)
	cfg := retryConfig(3)

	ledger, err := local.NewLocalClient(ctx, cfg, s.Address(), zap.NewNop())
	require.NoError(t, err)
	defer ledger.Close()

	rec := &recorder{}
	c := New(report.Fixed{}, s, blockchain.NewSubmitter(ledger, cfg, zap.NewNop()), coordinatorConfig("fail"), time.Second, zap.NewNop(), WithObserver(rec))

	res, err := c.Attest(ctx, Request{EventDescription: "Truck delayed 2h at border", ShipmentID: "SHIP-1"})
	require.NoError(t, err)

	assert.Equal(t, StageConfirmed, res.Stage)
	assert.Equal(t, "SHIP-1", res.ShipmentID)
	assert.Equal(t, report.MockConfidence, res.ConfidenceScore)
	assert.Equal(t, types.StatusCreated, res.LedgerStatus)
	assert.NotEmpty(t, res.TransactionID)
	assert.Positive(t, res.LedgerTimestamp)
	assert.Equal(t, s.Address(), res.SignerAddress)
	assert.Equal(t, []Stage{StageReceived, StageReportGenerated, StageSigned, StageSubmitted, StageConfirmed}, rec.stages)

	stored, err := ledger.GetShipment(ctx, "SHIP-1")
	require.NoError(t, err)
	assert.Equal(t, report.MockConfidence, stored.ConfidenceScore)
	msg := canonical.Encode(stored.ShipmentID, stored.Summary, stored.ConfidenceScore)
	assert.True(t, signer.Verify(msg, stored.Signature, s.PublicKey()), "stored signature verifies against the canonical bytes")

	again, err := c.Attest(ctx, Request{EventDescription: "Truck delayed 2h at border", ShipmentID: "SHIP-1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSkippedDuplicate, again.LedgerStatus)
	assert.Equal(t, res.TransactionID, again.TransactionID)
}

func TestAttestLedgerUnreachable(t *testing.T) {
	s := testSigner(t)
	ledger := &unreachableLedger{}
	rec := &recorder{}
	c := New(report.Fixed{}, s, blockchain.NewSubmitter(ledger, retryConfig(3), zap.NewNop()), coordinatorConfig("fail"), time.Second, zap.NewNop(), WithObserver(rec))

	res, err := c.Attest(context.Background(), Request{EventDescription: "Container damaged", ShipmentID: "SHIP-9"})
	require.Error(t, err)
	assert.True(t, attestation.IsKind(err, attestation.KindLedgerUnreachable))
	assert.Equal(t, attestation.StageSubmission, attestation.StageOf(err))
	assert.Equal(t, 3, ledger.calls)
	assert.Equal(t, StageFailed, res.Stage)
	assert.NotContains(t, rec.stages, StageConfirmed)
	assert.Equal(t, []Stage{StageReceived, StageReportGenerated, StageSigned, StageSubmitted, StageFailed}, rec.stages)
}

func TestAttestEmptyDescription(t *testing.T) {
	gen := &stubGenerator{rep: &report.Report{Summary: "x", ConfidenceScore: 50}}
	sub := &countingSubmitter{}
	c := New(gen, testSigner(t), sub, coordinatorConfig("fail"), 0, zap.NewNop())

	_, err := c.Attest(context.Background(), Request{EventDescription: "   "})
	require.Error(t, err)
	assert.True(t, attestation.IsKind(err, attestation.KindInvalidInput))
	assert.Equal(t, attestation.StageIntake, attestation.StageOf(err))
	assert.Zero(t, gen.calls)
	assert.Zero(t, sub.calls)
}

func TestAttestGenerationFailed(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	sub := &countingSubmitter{}
	c := New(gen, testSigner(t), sub, coordinatorConfig("fail"), time.Second, zap.NewNop())

	res, err := c.Attest(context.Background(), Request{EventDescription: "Port closed"})
	require.Error(t, err)
	assert.True(t, attestation.IsKind(err, attestation.KindGenerationFailed))
	assert.Equal(t, attestation.StageGeneration, attestation.StageOf(err))
	assert.Zero(t, sub.calls)
	assert.Empty(t, res.Signature)
}

func TestAttestDegradedMode(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model not loaded")}
	sub := &countingSubmitter{}
	cfg := coordinatorConfig("degrade")
	c := New(gen, testSigner(t), sub, cfg, time.Second, zap.NewNop())

	res, err := c.Attest(context.Background(), Request{EventDescription: "Port closed", ShipmentID: "SHIP-D"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, cfg.DegradedScore(), res.ConfidenceScore)
	assert.Contains(t, res.Summary, "Port closed")
	assert.NotContains(t, res.Summary, "model not loaded")
	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, res.ConfidenceScore, sub.last.ConfidenceScore)
}

func TestAttestInvalidConfidenceNeverSigned(t *testing.T) {
	for _, score := range []int{150, -5} {
		gen := &stubGenerator{rep: &report.Report{Summary: "bad score", ConfidenceScore: score}}
		sub := &countingSubmitter{}
		rec := &recorder{}
		c := New(gen, testSigner(t), sub, coordinatorConfig("degrade"), 0, zap.NewNop(), WithObserver(rec))

		res, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
		require.Error(t, err)
		assert.True(t, attestation.IsKind(err, attestation.KindInvalidConfidence))
		assert.Equal(t, attestation.StageSigning, attestation.StageOf(err))
		assert.Empty(t, res.Signature)
		assert.Zero(t, sub.calls)
		assert.NotContains(t, rec.stages, StageSigned)
	}
}

type brokenSigner struct {
	*signer.Signer
	err error
}

func (b brokenSigner) Sign(msg []byte) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return make([]byte, ed25519.SignatureSize), nil
}

func TestAttestSigningFailures(t *testing.T) {
	gen := &stubGenerator{rep: &report.Report{Summary: "ok", ConfidenceScore: 40}}

	t.Run("SignError", func(t *testing.T) {
		sub := &countingSubmitter{}
		c := New(gen, brokenSigner{Signer: testSigner(t), err: errors.New("hsm offline")}, sub, coordinatorConfig("fail"), 0, zap.NewNop())
		_, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
		assert.True(t, attestation.IsKind(err, attestation.KindSigningUnavailable))
		assert.Zero(t, sub.calls)
	})

	t.Run("SelfVerifyFails", func(t *testing.T) {
		sub := &countingSubmitter{}
		c := New(gen, brokenSigner{Signer: testSigner(t)}, sub, coordinatorConfig("fail"), 0, zap.NewNop())
		_, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
		assert.True(t, attestation.IsKind(err, attestation.KindSigningUnavailable))
		assert.Equal(t, attestation.StageSigning, attestation.StageOf(err))
		assert.Zero(t, sub.calls)
	})
}

func TestGeneratedShipmentID(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	gen := &stubGenerator{rep: &report.Report{Summary: "ok", ConfidenceScore: 40}}
	c := New(gen, testSigner(t), &countingSubmitter{}, coordinatorConfig("fail"), 0, zap.NewNop(),
		WithClock(func() time.Time { return fixed }))

	a, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
	require.NoError(t, err)
	b, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^SHIP-1700000000-[0-9a-f]{8}$`), a.ShipmentID)
	assert.NotEqual(t, a.ShipmentID, b.ShipmentID)
}

func TestGeneratorTimeout(t *testing.T) {
	slow := &blockingGenerator{}
	sub := &countingSubmitter{}
	c := New(slow, testSigner(t), sub, coordinatorConfig("fail"), 20*time.Millisecond, zap.NewNop())

	_, err := c.Attest(context.Background(), Request{EventDescription: "Event"})
	require.Error(t, err)
	assert.True(t, attestation.IsKind(err, attestation.KindGenerationFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, sub.calls, "nothing reaches the ledger")
}

type blockingGenerator struct{}

func (blockingGenerator) Model() string { return "slow" }

func (blockingGenerator) Generate(ctx context.Context, _ string) (*report.Report, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
