package contract

import (
	"context"
	"sync"
	"time"

	"shiporacle/blockchain/types"

	"go.uber.org/zap"
)

const (
	dispatchBuffer = 1024
	sinkTimeout    = 30 * time.Second
)

type queuedEvent struct {
	ctx context.Context
	ev  types.Event
}

// dispatcher hands committed events to the sinks on its own goroutine, in
// commit order. Enqueue blocks only when the buffer is full.
type dispatcher struct {
	logger *zap.Logger

	sinksMu sync.RWMutex
	sinks   []EventSink

	startOnce sync.Once
	queue     chan queuedEvent
	stopped   chan struct{}

	closeMu sync.RWMutex
	closed  bool

	pendingMu sync.Mutex
	drained   *sync.Cond
	pending   int
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		logger:  logger,
		queue:   make(chan queuedEvent, dispatchBuffer),
		stopped: make(chan struct{}),
	}
	d.drained = sync.NewCond(&d.pendingMu)
	return d
}

func (d *dispatcher) add(sink EventSink) {
	d.sinksMu.Lock()
	d.sinks = append(d.sinks, sink)
	d.sinksMu.Unlock()
	d.startOnce.Do(func() { go d.run() })
}

func (d *dispatcher) hasSinks() bool {
	d.sinksMu.RLock()
	defer d.sinksMu.RUnlock()
	return len(d.sinks) > 0
}

// enqueue schedules ev for delivery. The submission's context values travel
// with the event but its cancellation does not.
func (d *dispatcher) enqueue(ctx context.Context, ev types.Event) {
	if !d.hasSinks() {
		return
	}
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.logger.Warn("Event dropped after ledger close", zap.String("shipment_id", ev.ShipmentID))
		return
	}

	d.pendingMu.Lock()
	d.pending++
	d.pendingMu.Unlock()
	d.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for q := range d.queue {
		d.deliver(q)

		d.pendingMu.Lock()
		d.pending--
		if d.pending == 0 {
			d.drained.Broadcast()
		}
		d.pendingMu.Unlock()
	}
}

func (d *dispatcher) deliver(q queuedEvent) {
	ctx, cancel := context.WithTimeout(q.ctx, sinkTimeout)
	defer cancel()

	d.sinksMu.RLock()
	sinks := d.sinks
	d.sinksMu.RUnlock()
	for _, sink := range sinks {
		if err := sink.PublishEvent(ctx, q.ev); err != nil {
			d.logger.Warn("Event sink failed",
				zap.String("event", string(q.ev.Kind)),
				zap.String("shipment_id", q.ev.ShipmentID),
				zap.Error(err))
		}
	}
}

// flush waits until every enqueued event has been delivered.
func (d *dispatcher) flush() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	for d.pending > 0 {
		d.drained.Wait()
	}
}

// close delivers what is queued and stops the dispatcher.
func (d *dispatcher) close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()

	// Without a sink the goroutine never started.
	d.startOnce.Do(func() { close(d.stopped) })
	<-d.stopped
}
