package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/coordinator"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/blockchain/client/local"
	"shiporacle/blockchain/types"
	"shiporacle/config"
	"shiporacle/internal/models"
	"shiporacle/storage/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingProducer struct {
	mu   sync.Mutex
	msgs []*models.AttestationMessage
	err  error
}

func (p *capturingProducer) Publish(ctx context.Context, msg *models.AttestationMessage) error {
	return p.PublishBatch(ctx, []*models.AttestationMessage{msg})
}

func (p *capturingProducer) PublishBatch(_ context.Context, msgs []*models.AttestationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func (p *capturingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fixture struct {
	svc      *Service
	ledger   *local.Client
	store    *store.MemoryStore
	producer *capturingProducer
	signer   *signer.Signer
}

func newFixture(t *testing.T, async bool) *fixture {
	t.Helper()
	ctx := context.Background()
	sgn, err := signer.FromHex("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	require.NoError(t, err)

	bcfg := &config.BlockchainConfig{BlockchainType: "local", SubmitMaxAttempts: 2, SubmitInitialBackoff: "1ms", SubmitMaxBackoff: "2ms"}
	ledger, err := local.NewLocalClient(ctx, bcfg, sgn.Address(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	oracle := config.OracleConfig{Generator: config.GeneratorConfig{LLMType: "mock"}}
	oracle.SetDefaults()
	coord := coordinator.New(report.Fixed{}, sgn, blockchain.NewSubmitter(ledger, bcfg, zap.NewNop()), oracle.Coordinator, time.Second, zap.NewNop())

	f := &fixture{ledger: ledger, signer: sgn, store: store.NewMemoryStore(), producer: &capturingProducer{}}
	deps := Deps{Coordinator: coord, Signer: sgn, Ledger: ledger, LedgerCfg: bcfg, Oracle: oracle}
	if async {
		deps.Store = f.store
		deps.Producer = f.producer
		deps.Batch = config.BatchProcessorConfig{BatchSize: 2, BatchTimeout: 5 * time.Millisecond, MaxBufferSize: 100, FlushChannelBuffer: 4}
	}
	f.svc = NewService(deps, zap.NewNop())
	t.Cleanup(f.svc.Close)
	return f
}

func TestAttestAndQuery(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.svc.Attest(ctx, &AttestInput{EventDescription: "Reefer unit failed en route", ShipmentID: "SHIP-7"})
	require.NoError(t, err)
	assert.Equal(t, coordinator.StageConfirmed, res.Stage)

	view, err := f.svc.GetShipment(ctx, "SHIP-7")
	require.NoError(t, err)
	assert.True(t, view.Verified)
	assert.Equal(t, res.SignatureHex, view.SignatureHex)
	assert.Equal(t, report.MockConfidence, view.ConfidenceScore)

	_, err = f.svc.GetShipment(ctx, "SHIP-missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.Attest(ctx, &AttestInput{EventDescription: "  "})
	assert.Equal(t, attestation.ClassInvalid, attestation.ClassOf(err))
}

func TestInfoAndLLMTest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	info := f.svc.Info(ctx)
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, "local", info.LedgerType)
	assert.True(t, info.MockMode)
	assert.Equal(t, "mock", info.Model)
	assert.Equal(t, f.signer.PublicKeyHex(), info.PublicKey)
	assert.Equal(t, f.signer.Address(), info.SignerAddress)
	assert.NotEmpty(t, info.RegistryID)
	assert.False(t, info.AsyncEnabled)

	llm := f.svc.LLMTest(ctx)
	assert.Empty(t, llm.Error)
	require.NotNil(t, llm.Probe)
	assert.True(t, llm.Probe.OK)
	require.NotNil(t, llm.Report)
	assert.Equal(t, report.MockConfidence, llm.Report.ConfidenceScore)
}

func TestAsyncDisabled(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.SubmitAttestation(context.Background(), &AttestInput{EventDescription: "x"})
	assert.ErrorIs(t, err, ErrAsyncDisabled)
	_, err = f.svc.GetStatus(context.Background(), "id")
	assert.ErrorIs(t, err, ErrAsyncDisabled)
}

func TestSubmitAttestationQueuesRequests(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var ids []string
	for _, desc := range []string{"Truck delayed", "Seal broken", "Arrived early"} {
		res, err := f.svc.SubmitAttestation(ctx, &AttestInput{EventDescription: desc, ShipmentID: "SHIP-" + desc[:4]})
		require.NoError(t, err)
		assert.Equal(t, string(store.StatusReceived), res.Status)
		ids = append(ids, res.RequestID)
	}

	require.Eventually(t, func() bool { return f.producer.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	for _, id := range ids {
		st, err := f.svc.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusReceived, st.Status)
	}

	_, err := f.svc.SubmitAttestation(ctx, &AttestInput{EventDescription: ""})
	assert.True(t, attestation.IsKind(err, attestation.KindInvalidInput))
}

func TestBatchProcessorPublishFailure(t *testing.T) {
	s := store.NewMemoryStore()
	p := &capturingProducer{err: errors.New("brokers down")}
	bp := NewBatchProcessor(config.BatchProcessorConfig{BatchSize: 10, BatchTimeout: time.Hour, MaxBufferSize: 100, FlushChannelBuffer: 1}, s, p, zap.NewNop())

	bp.Submit(&batchEntry{requestID: "r1", description: "d", receivedAt: time.Now()})
	bp.Close() // flushes the partial batch

	st, err := s.GetStatus(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)
	assert.Equal(t, ErrorKindQueueUnavailable, st.ErrorKind)
}
