package worker

import (
	"context"
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
	"shiporacle/internal/messaging/consumer"
	"shiporacle/internal/models"
	"shiporacle/storage/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedAttester struct {
	mu    sync.Mutex
	errs  []error
	calls []coordinator.Request
}

func (a *scriptedAttester) Attest(_ context.Context, req coordinator.Request) (*coordinator.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	res := &coordinator.Result{RequestID: req.RequestID, ShipmentID: req.ShipmentID}
	if res.ShipmentID == "" {
		res.ShipmentID = "SHIP-GEN"
	}
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			res.Stage = coordinator.StageFailed
			return res, err
		}
	}
	res.Stage = coordinator.StageConfirmed
	res.ConfidenceScore = 82
	res.TransactionID = "tx-" + req.RequestID
	res.LedgerStatus = types.StatusCreated
	return res, nil
}

type capturingProducer struct {
	mu   sync.Mutex
	msgs []*models.AttestationMessage
}

func (p *capturingProducer) Publish(_ context.Context, msg *models.AttestationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturingProducer) PublishBatch(ctx context.Context, msgs []*models.AttestationMessage) error {
	for _, m := range msgs {
		_ = p.Publish(ctx, m)
	}
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{Concurrency: 2, ConsumerRetryDelay: "1ms", AttestationTimeout: "5s"}
}

func seed(t *testing.T, s store.Store, ids ...string) []*models.AttestationMessage {
	t.Helper()
	var rows []*store.AttestationStatus
	var msgs []*models.AttestationMessage
	for _, id := range ids {
		rows = append(rows, &store.AttestationStatus{RequestID: id, Status: store.StatusReceived, ReceivedTimestamp: time.Now().UTC()})
		msgs = append(msgs, &models.AttestationMessage{RequestID: id, EventDescription: "Pallet arrived at " + id})
	}
	require.NoError(t, s.InsertStatusBatch(context.Background(), rows))
	return msgs
}

func TestHandleOutcomes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, "ok", "bad", "down")
	a := &scriptedAttester{}
	w := New(workerConfig(), 3, zap.NewNop(), s, consumer.NewMockConsumer(zap.NewNop()), a)

	assert.True(t, w.handle(ctx, &models.AttestationMessage{RequestID: "ok", EventDescription: "d", ShipmentID: "SHIP-1"}))
	st, err := s.GetStatus(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, st.Status)
	assert.Equal(t, "tx-ok", st.TxID)

	a.errs = []error{attestation.NewError(attestation.KindGenerationFailed, attestation.StageGeneration, "model down")}
	assert.True(t, w.handle(ctx, &models.AttestationMessage{RequestID: "bad", EventDescription: "d"}))
	st, err = s.GetStatus(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)
	assert.Equal(t, "GenerationFailed", st.ErrorKind)

	a.errs = []error{attestation.NewError(attestation.KindLedgerUnreachable, attestation.StageSubmission, "no peers")}
	assert.False(t, w.handle(ctx, &models.AttestationMessage{RequestID: "down", EventDescription: "d"}), "without requeue the message is nacked")
	st, err = s.GetStatus(ctx, "down")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, st.Status)
	assert.Equal(t, 1, st.RetryCount)

	assert.True(t, w.handle(ctx, &models.AttestationMessage{RequestID: "ok", EventDescription: "d"}), "settled requests are skipped")
	assert.True(t, w.handle(ctx, &models.AttestationMessage{EventDescription: "no id"}))
	assert.Len(t, a.calls, 3)
}

func TestHandleRequeueKeepsShipmentID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, "r1")
	p := &capturingProducer{}
	a := &scriptedAttester{errs: []error{attestation.NewError(attestation.KindLedgerUnreachable, attestation.StageSubmission, "no peers")}}
	w := New(workerConfig(), 3, zap.NewNop(), s, consumer.NewMockConsumer(zap.NewNop()), a, WithRequeue(p))

	assert.True(t, w.handle(ctx, &models.AttestationMessage{RequestID: "r1", EventDescription: "d"}))
	require.Len(t, p.msgs, 1)
	assert.Equal(t, "SHIP-GEN", p.msgs[0].ShipmentID)

	assert.True(t, w.handle(ctx, p.msgs[0]))
	assert.Equal(t, "SHIP-GEN", a.calls[1].ShipmentID)
}

func TestHandleExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, "r1")
	unreachable := attestation.NewError(attestation.KindLedgerUnreachable, attestation.StageSubmission, "no peers")
	a := &scriptedAttester{errs: []error{unreachable, unreachable}}
	w := New(workerConfig(), 2, zap.NewNop(), s, consumer.NewMockConsumer(zap.NewNop()), a)

	msg := &models.AttestationMessage{RequestID: "r1", EventDescription: "d"}
	assert.False(t, w.handle(ctx, msg))
	assert.False(t, w.handle(ctx, msg))
	assert.True(t, w.handle(ctx, msg))
	assert.Len(t, a.calls, 2)

	st, err := s.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)
}

func TestRunEndToEnd(t *testing.T) {
	sgn, err := signer.FromHex("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	require.NoError(t, err)
	bcfg := &config.BlockchainConfig{BlockchainType: "local", SubmitMaxAttempts: 2, SubmitInitialBackoff: "1ms", SubmitMaxBackoff: "2ms"}
	ledger, err := local.NewLocalClient(context.Background(), bcfg, sgn.Address(), zap.NewNop())
	require.NoError(t, err)
	defer ledger.Close()

	s := store.NewMemoryStore()
	ccfg := config.CoordinatorConfig{}
	ccfg.SetDefaults()
	coord := coordinator.New(report.Fixed{}, sgn, blockchain.NewSubmitter(ledger, bcfg, zap.NewNop()), ccfg, time.Second, zap.NewNop(),
		coordinator.WithObserver(StageRecorder(s, zap.NewNop())))

	msgs := seed(t, s, "a", "b", "c")
	mc := consumer.NewMockConsumer(zap.NewNop(), msgs...)
	w := New(workerConfig(), 3, zap.NewNop(), s, mc, coord)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(mc.Acked()) == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, id := range []string{"a", "b", "c"} {
		st, err := s.GetStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, st.Status, id)
		assert.Equal(t, string(coordinator.StageConfirmed), st.Stage, id)
		require.NotNil(t, st.ConfidenceScore)
		assert.Equal(t, report.MockConfidence, *st.ConfidenceScore)

		rec, err := ledger.GetShipment(context.Background(), st.ShipmentID)
		require.NoError(t, err)
		assert.Equal(t, sgn.Address(), rec.SignerAddress)
	}
}
