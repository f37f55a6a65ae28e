package worker

import (
	"context"
	"errors"
	"time"

	"shiporacle/attestation"
	"shiporacle/attestation/coordinator"
	"shiporacle/config"
	"shiporacle/internal/messaging/consumer"
	"shiporacle/internal/messaging/producer"
	"shiporacle/internal/models"
	"shiporacle/storage/store"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Attester runs one attestation.
type Attester interface {
	Attest(ctx context.Context, req coordinator.Request) (*coordinator.Result, error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithRequeue republishes requests whose ledger was unreachable instead of
// leaving them uncommitted on the consumer.
func WithRequeue(p producer.Producer) Option {
	return func(w *Worker) { w.requeue = p }
}

// Worker consumes queued attestation requests and drives them through the
// coordinator, recording the outcome in the status store.
type Worker struct {
	workerConfig       config.WorkerConfig
	consumerRetryDelay time.Duration
	attestationTimeout time.Duration

	maxTaskRetries int
	logger         *zap.Logger
	store          store.Store
	consumer       consumer.Consumer
	attester       Attester
	requeue        producer.Producer
}

// New creates a new Worker instance
func New(cfg config.WorkerConfig, maxTaskRetries int, logger *zap.Logger, s store.Store, c consumer.Consumer, a Attester, opts ...Option) *Worker {
	logger = logger.Named("worker")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	consumerRetryDelay, err := time.ParseDuration(cfg.ConsumerRetryDelay)
	if err != nil {
		logger.Warn("Invalid consumer_retry_delay, using default 5s", zap.String("value", cfg.ConsumerRetryDelay))
		consumerRetryDelay = 5 * time.Second
	}
	attestationTimeout, err := time.ParseDuration(cfg.AttestationTimeout)
	if err != nil {
		logger.Warn("Invalid attestation_timeout, using default 6m", zap.String("value", cfg.AttestationTimeout))
		attestationTimeout = 6 * time.Minute
	}

	w := &Worker{
		workerConfig:       cfg,
		consumerRetryDelay: consumerRetryDelay,
		attestationTimeout: attestationTimeout,
		maxTaskRetries:     maxTaskRetries,
		logger:             logger,
		store:              s,
		consumer:           c,
		attester:           a,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker pool", zap.Int("concurrency", w.workerConfig.Concurrency),
		zap.Duration("attestation_timeout", w.attestationTimeout), zap.Bool("requeue", w.requeue != nil))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Debug("Worker started", zap.Int("worker_id", workerID))
			err := w.loop(ctx, workerID)
			w.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))
			return err
		})
	}
	err := g.Wait()
	w.logger.Info("Worker pool stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, workerID int) error {
	for {
		msg, ack, err := w.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, consumer.ErrClosed) {
				return nil
			}
			w.logger.Error("Consumer error", zap.Int("worker_id", workerID), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.consumerRetryDelay):
			}
			continue
		}
		if msg == nil {
			continue
		}
		ack(w.handle(ctx, msg))
	}
}

// handle processes one request and reports whether it may be acknowledged.
func (w *Worker) handle(ctx context.Context, msg *models.AttestationMessage) bool {
	log := w.logger.With(zap.String("request_id", msg.RequestID))
	if msg.RequestID == "" {
		log.Warn("Dropping message without request id")
		return true
	}

	tasks, err := w.store.GetAndMarkBatchAsProcessing(ctx, []string{msg.RequestID}, w.maxTaskRetries)
	if err != nil {
		log.Error("Failed to claim request", zap.Error(err))
		return false
	}
	task, ok := tasks[msg.RequestID]
	if !ok {
		log.Info("Request already settled or unknown, skipping")
		return true
	}
	if task.Status == store.StatusFailed {
		log.Warn("Request exhausted its retries", zap.Int("retry_count", task.RetryCount))
		return true
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.attestationTimeout)
	defer cancel()
	res, err := w.attester.Attest(runCtx, coordinator.Request{
		RequestID:        msg.RequestID,
		EventDescription: msg.EventDescription,
		ShipmentID:       lo.Ternary(msg.ShipmentID != "", msg.ShipmentID, task.ShipmentID),
	})

	switch {
	case err == nil:
		if markErr := w.store.MarkBatchAsCompleted(ctx, []store.CompletionRecord{completionOf(res)}); markErr != nil {
			log.Error("Failed to record completion", zap.Error(markErr))
		}
		log.Info("Request completed", zap.String("shipment_id", res.ShipmentID),
			zap.String("tx_id", res.TransactionID), zap.Duration("elapsed", time.Since(start)))
		return true

	case ctx.Err() != nil || attestation.IsKind(err, attestation.KindLedgerUnreachable):
		return w.retry(ctx, log, msg, res, err)

	default:
		rec := store.FailureRecord{
			RequestID:    msg.RequestID,
			ShipmentID:   shipmentOf(res, msg),
			Stage:        string(attestation.StageOf(err)),
			ErrorKind:    string(attestation.KindOf(err)),
			ErrorMessage: err.Error(),
		}
		if markErr := w.store.MarkBatchAsFailed(ctx, []store.FailureRecord{rec}); markErr != nil {
			log.Error("Failed to record failure", zap.Error(markErr))
		}
		return true
	}
}

// retry returns the request to the queue. The shipment id chosen on the first
// attempt is carried forward so the retry attests the same shipment.
func (w *Worker) retry(ctx context.Context, log *zap.Logger, msg *models.AttestationMessage, res *coordinator.Result, cause error) bool {
	// Shutdown must still be able to release the claim.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.store.MarkBatchForRetry(markCtx, []string{msg.RequestID}, cause.Error()); err != nil {
		log.Error("CRITICAL: MarkBatchForRetry failed", zap.Error(err))
	}
	if ctx.Err() != nil || w.requeue == nil {
		log.Warn("Request left for redelivery", zap.Error(cause))
		return false
	}

	next := *msg
	next.ShipmentID = shipmentOf(res, msg)
	if err := w.requeue.Publish(markCtx, &next); err != nil {
		log.Error("Failed to requeue request", zap.Error(err))
		return false
	}
	log.Warn("Request requeued", zap.String("shipment_id", next.ShipmentID), zap.Error(cause))
	return true
}

func shipmentOf(res *coordinator.Result, msg *models.AttestationMessage) string {
	if res != nil && res.ShipmentID != "" {
		return res.ShipmentID
	}
	return msg.ShipmentID
}

func completionOf(res *coordinator.Result) store.CompletionRecord {
	return store.CompletionRecord{
		RequestID:       res.RequestID,
		ShipmentID:      res.ShipmentID,
		ConfidenceScore: res.ConfidenceScore,
		Degraded:        res.Degraded,
		TxID:            res.TransactionID,
		BlockHeight:     res.BlockHeight,
		LedgerTimestamp: res.LedgerTimestamp,
		LedgerStatus:    string(res.LedgerStatus),
		SignerAddress:   res.SignerAddress,
	}
}

// StageRecorder persists every non-terminal coordinator stage for requests
// that came through the queue.
func StageRecorder(s store.Store, logger *zap.Logger) coordinator.Observer {
	return coordinator.ObserverFunc(func(ctx context.Context, tr coordinator.Transition) {
		if tr.RequestID == "" || tr.Stage == coordinator.StageFailed || tr.Stage == coordinator.StageConfirmed {
			return
		}
		if err := s.UpdateStage(ctx, tr.RequestID, tr.ShipmentID, string(tr.Stage)); err != nil {
			logger.Warn("Failed to record stage", zap.String("request_id", tr.RequestID),
				zap.String("stage", string(tr.Stage)), zap.Error(err))
		}
	})
}
