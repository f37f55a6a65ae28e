package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"shiporacle/config"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const statusColumns = `request_id, shipment_id, status, stage, retry_count, confidence_score, degraded,
	tx_id, block_height, ledger_timestamp, ledger_status, signer_address, error_kind, error_message,
	received_at, updated_at, completed_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MinConns = int32(cfg.MinConnections)
	if d, err := time.ParseDuration(cfg.MaxIdleTime); err == nil {
		poolCfg.MaxConnIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.MaxLifetime); err == nil {
		poolCfg.MaxConnLifetime = d
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Named("store").Info("Connected to PostgreSQL",
		zap.Int32("max_conns", poolCfg.MaxConns), zap.Int32("min_conns", poolCfg.MinConns))
	return &PostgresStore{pool: pool, logger: logger.Named("store")}, nil
}

// InsertStatusBatch implements Store.
func (s *PostgresStore) InsertStatusBatch(ctx context.Context, statuses []*AttestationStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range statuses {
		batch.Queue(`INSERT INTO attestation_requests (request_id, shipment_id, status, received_at, updated_at)
			VALUES ($1, $2, $3, $4, $4) ON CONFLICT (request_id) DO NOTHING`,
			st.RequestID, st.ShipmentID, string(st.Status), st.ReceivedTimestamp)
	}
	return s.execBatch(ctx, batch, "insert status")
}

// GetAndMarkBatchAsProcessing implements Store.
func (s *PostgresStore) GetAndMarkBatchAsProcessing(ctx context.Context, requestIDs []string, maxRetries int) (map[string]*AttestationStatus, error) {
	result := make(map[string]*AttestationStatus, len(requestIDs))
	if len(requestIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `UPDATE attestation_requests SET
			status = CASE WHEN retry_count >= $2 THEN 'FAILED' ELSE 'PROCESSING' END,
			error_message = CASE WHEN retry_count >= $2 THEN $3 ELSE error_message END,
			updated_at = now()
		WHERE request_id = ANY($1) AND status IN ('RECEIVED', 'PROCESSING')
		RETURNING `+statusColumns,
		requestIDs, maxRetries, maxRetriesMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to claim requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		result[st.RequestID] = st
	}
	return result, rows.Err()
}

// UpdateStage implements Store.
func (s *PostgresStore) UpdateStage(ctx context.Context, requestID, shipmentID, stage string) error {
	_, err := s.pool.Exec(ctx, `UPDATE attestation_requests
		SET stage = $2, shipment_id = COALESCE(NULLIF($3, ''), shipment_id), updated_at = now()
		WHERE request_id = $1`, requestID, stage, shipmentID)
	if err != nil {
		return fmt.Errorf("failed to update stage of %s: %w", requestID, err)
	}
	return nil
}

// MarkBatchForRetry implements Store.
func (s *PostgresStore) MarkBatchForRetry(ctx context.Context, requestIDs []string, errorMessage string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE attestation_requests
		SET status = 'RECEIVED', retry_count = retry_count + 1, error_message = $2, updated_at = now()
		WHERE request_id = ANY($1)`, requestIDs, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark requests for retry: %w", err)
	}
	return nil
}

// MarkBatchAsCompleted implements Store.
func (s *PostgresStore) MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`UPDATE attestation_requests SET
				status = 'COMPLETED', stage = 'Confirmed', shipment_id = $2, confidence_score = $3, degraded = $4,
				tx_id = $5, block_height = $6, ledger_timestamp = $7, ledger_status = $8, signer_address = $9,
				error_kind = '', error_message = '', updated_at = now(), completed_at = now()
			WHERE request_id = $1`,
			r.RequestID, r.ShipmentID, r.ConfidenceScore, r.Degraded,
			r.TxID, int64(r.BlockHeight), r.LedgerTimestamp, r.LedgerStatus, r.SignerAddress)
	}
	return s.execBatch(ctx, batch, "mark completed")
}

// MarkBatchAsFailed implements Store.
func (s *PostgresStore) MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`UPDATE attestation_requests SET
				status = 'FAILED', stage = $2, shipment_id = COALESCE(NULLIF($3, ''), shipment_id),
				error_kind = $4, error_message = $5, updated_at = now(), completed_at = now()
			WHERE request_id = $1`,
			r.RequestID, r.Stage, r.ShipmentID, r.ErrorKind, r.ErrorMessage)
	}
	return s.execBatch(ctx, batch, "mark failed")
}

// GetStatus implements Store.
func (s *PostgresStore) GetStatus(ctx context.Context, requestID string) (*AttestationStatus, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM attestation_requests WHERE request_id = $1`, requestID)
	st, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) execBatch(ctx context.Context, batch *pgx.Batch, op string) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("%s: statement %d failed: %w", op, i, err)
		}
	}
	return nil
}

func scanStatus(row pgx.Row) (*AttestationStatus, error) {
	var (
		st          AttestationStatus
		status      string
		score       *int32
		blockHeight int64
	)
	err := row.Scan(&st.RequestID, &st.ShipmentID, &status, &st.Stage, &st.RetryCount, &score, &st.Degraded,
		&st.TxID, &blockHeight, &st.LedgerTimestamp, &st.LedgerStatus, &st.SignerAddress, &st.ErrorKind, &st.ErrorMessage,
		&st.ReceivedTimestamp, &st.UpdatedAt, &st.CompletedAt)
	if err != nil {
		return nil, err
	}
	st.Status = Status(status)
	st.BlockHeight = uint64(blockHeight)
	if score != nil {
		v := int(*score)
		st.ConfidenceScore = &v
	}
	return &st, nil
}

var _ Store = (*PostgresStore)(nil)
