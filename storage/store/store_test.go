package store

import (
	"context"
	"os"
	"testing"
	"time"

	"shiporacle/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// exerciseStore runs the lifecycle every Store implementation must honour.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	done, failed, retried, exhausted := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	received := time.Now().UTC().Truncate(time.Millisecond)

	var batch []*AttestationStatus
	for _, id := range []string{done, failed, retried, exhausted} {
		batch = append(batch, &AttestationStatus{RequestID: id, Status: StatusReceived, ReceivedTimestamp: received})
	}
	require.NoError(t, s.InsertStatusBatch(ctx, batch))
	require.NoError(t, s.InsertStatusBatch(ctx, batch[:1]), "re-inserting an id is a no-op")

	claimed, err := s.GetAndMarkBatchAsProcessing(ctx, []string{done, failed, retried, "unknown"}, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
	assert.Equal(t, StatusProcessing, claimed[done].Status)
	assert.NotContains(t, claimed, "unknown")

	require.NoError(t, s.UpdateStage(ctx, done, "SHIP-1", "Signed"))
	st, err := s.GetStatus(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, "Signed", st.Stage)
	assert.Equal(t, "SHIP-1", st.ShipmentID)

	require.NoError(t, s.MarkBatchAsCompleted(ctx, []CompletionRecord{{
		RequestID: done, ShipmentID: "SHIP-1", ConfidenceScore: 82, TxID: "tx-1", BlockHeight: 7,
		LedgerTimestamp: 1700000000000, LedgerStatus: "Created", SignerAddress: "0xabc",
	}}))
	st, err = s.GetStatus(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	require.NotNil(t, st.ConfidenceScore)
	assert.Equal(t, 82, *st.ConfidenceScore)
	assert.Equal(t, uint64(7), st.BlockHeight)
	assert.NotNil(t, st.CompletedAt)

	require.NoError(t, s.MarkBatchAsFailed(ctx, []FailureRecord{{
		RequestID: failed, Stage: "generation", ErrorKind: "GenerationFailed", ErrorMessage: "model down",
	}}))
	st, err = s.GetStatus(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "GenerationFailed", st.ErrorKind)

	require.NoError(t, s.MarkBatchForRetry(ctx, []string{retried}, "ledger unreachable"))
	st, err = s.GetStatus(ctx, retried)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, st.Status)
	assert.Equal(t, 1, st.RetryCount)

	// Completed and failed requests are never claimed again.
	claimed, err = s.GetAndMarkBatchAsProcessing(ctx, []string{done, failed}, 2)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, s.MarkBatchForRetry(ctx, []string{exhausted}, "x"))
	require.NoError(t, s.MarkBatchForRetry(ctx, []string{exhausted}, "x"))
	claimed, err = s.GetAndMarkBatchAsProcessing(ctx, []string{exhausted}, 2)
	require.NoError(t, err)
	require.Contains(t, claimed, exhausted)
	assert.Equal(t, StatusFailed, claimed[exhausted].Status)
	assert.Equal(t, maxRetriesMessage, claimed[exhausted].ErrorMessage)

	_, err = s.GetStatus(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ORACLE_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("ORACLE_TEST_DATABASE_DSN not set")
	}
	cfg := config.DatabaseConfig{DSN: dsn}
	cfg.SetDefaults()

	s, err := NewPostgresStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}
