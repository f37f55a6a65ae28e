package service

import (
	"context"
	"sync"
	"time"

	"shiporacle/attestation"
	"shiporacle/config"
	"shiporacle/internal/messaging/producer"
	"shiporacle/internal/models"
	"shiporacle/storage/store"

	"go.uber.org/zap"
)

// BatchProcessor groups accepted requests so the status insert and the Kafka
// publish happen once per batch.
type BatchProcessor struct {
	batchSize     int
	batchTimeout  time.Duration
	maxBufferSize int
	logger        *zap.Logger
	store         store.Store
	producer      producer.Producer

	buffer      []*batchEntry
	bufferMutex sync.Mutex
	flushChan   chan []*batchEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ErrorKindQueueUnavailable marks requests that could not be handed to the queue.
const ErrorKindQueueUnavailable = "QueueUnavailable"

type batchEntry struct {
	requestID   string
	shipmentID  string
	description string
	receivedAt  time.Time
}

// NewBatchProcessor creates a new batch processor and starts its goroutines
func NewBatchProcessor(cfg config.BatchProcessorConfig, s store.Store, p producer.Producer, logger *zap.Logger) *BatchProcessor {
	cfg.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	bp := &BatchProcessor{
		batchSize:     cfg.BatchSize,
		batchTimeout:  cfg.BatchTimeout,
		maxBufferSize: cfg.MaxBufferSize,
		logger:        logger.Named("batch-processor"),
		store:         s,
		producer:      p,
		buffer:        make([]*batchEntry, 0, cfg.BatchSize),
		flushChan:     make(chan []*batchEntry, cfg.FlushChannelBuffer),
		ctx:           ctx,
		cancel:        cancel,
	}

	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.batchProcessor()

	return bp
}

// Submit adds an accepted request to the current batch
func (bp *BatchProcessor) Submit(entry *batchEntry) {
	bp.bufferMutex.Lock()
	bp.buffer = append(bp.buffer, entry)
	size := len(bp.buffer)
	var overflow []*batchEntry
	if size >= bp.maxBufferSize {
		overflow = bp.buffer
		bp.buffer = make([]*batchEntry, 0, bp.batchSize)
	}
	bp.bufferMutex.Unlock()

	switch {
	case overflow != nil:
		// the processor is behind; the submitter pays for this batch
		bp.logger.Warn("Batch buffer at capacity, processing inline", zap.Int("size", size))
		bp.processBatch(overflow)
	case size >= bp.batchSize:
		bp.flushIfNeeded()
	}
}

// batchTimer handles periodic flushing
func (bp *BatchProcessor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.flushIfNeeded()
		case <-bp.ctx.Done():
			return
		}
	}
}

// batchProcessor handles actual batch processing
func (bp *BatchProcessor) batchProcessor() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		case <-bp.ctx.Done():
			// Drain queued batches and the buffer before shutdown
		drain:
			for {
				select {
				case batch := <-bp.flushChan:
					bp.processBatch(batch)
				default:
					break drain
				}
			}
			bp.bufferMutex.Lock()
			remaining := bp.buffer
			bp.buffer = nil
			bp.bufferMutex.Unlock()
			bp.processBatch(remaining)
			return
		}
	}
}

// flushIfNeeded hands the buffer to the processor. If the flush channel is
// full the entries stay buffered for the next tick.
func (bp *BatchProcessor) flushIfNeeded() {
	bp.bufferMutex.Lock()
	if len(bp.buffer) == 0 {
		bp.bufferMutex.Unlock()
		return
	}
	batch := make([]*batchEntry, len(bp.buffer))
	copy(batch, bp.buffer)
	bp.buffer = bp.buffer[:0]
	bp.bufferMutex.Unlock()

	select {
	case bp.flushChan <- batch:
	default:
		bp.bufferMutex.Lock()
		bp.buffer = append(batch, bp.buffer...)
		bp.bufferMutex.Unlock()
	}
}

// processBatch records the batch as RECEIVED, then publishes it
func (bp *BatchProcessor) processBatch(batch []*batchEntry) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	statuses := make([]*store.AttestationStatus, len(batch))
	messages := make([]*models.AttestationMessage, len(batch))
	for i, e := range batch {
		statuses[i] = &store.AttestationStatus{
			RequestID:         e.requestID,
			ShipmentID:        e.shipmentID,
			Status:            store.StatusReceived,
			ReceivedTimestamp: e.receivedAt,
		}
		messages[i] = &models.AttestationMessage{
			RequestID:         e.requestID,
			EventDescription:  e.description,
			ShipmentID:        e.shipmentID,
			ReceivedTimestamp: e.receivedAt.Format(time.RFC3339Nano),
		}
	}

	ctx := context.Background()
	dbStart := time.Now()
	if err := bp.store.InsertStatusBatch(ctx, statuses); err != nil {
		bp.logger.Error("Batch status insert failed, requests dropped", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	dbDuration := time.Since(dbStart)

	kafkaStart := time.Now()
	if err := bp.producer.PublishBatch(ctx, messages); err != nil {
		bp.logger.Error("Batch publish failed", zap.Int("count", len(batch)), zap.Error(err))
		failures := make([]store.FailureRecord, len(batch))
		for i, e := range batch {
			failures[i] = store.FailureRecord{
				RequestID:    e.requestID,
				ShipmentID:   e.shipmentID,
				Stage:        string(attestation.StageIntake),
				ErrorKind:    ErrorKindQueueUnavailable,
				ErrorMessage: err.Error(),
			}
		}
		if markErr := bp.store.MarkBatchAsFailed(ctx, failures); markErr != nil {
			bp.logger.Error("Failed to record publish failure", zap.Error(markErr))
		}
		return
	}

	bp.logger.Debug("Batch processed",
		zap.Int("count", len(batch)),
		zap.Duration("db", dbDuration),
		zap.Duration("kafka", time.Since(kafkaStart)),
		zap.Duration("total", time.Since(start)))
}

// Close flushes pending requests and stops the processor
func (bp *BatchProcessor) Close() {
	bp.cancel()
	bp.wg.Wait()
}
