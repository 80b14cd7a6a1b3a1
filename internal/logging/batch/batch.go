package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/document"
)

// Processor buffers events from any number of producers and delivers them to
// a Store in batches from a single background goroutine. Flushes happen every
// Period, or early once BatchSize events are pending; they never overlap.
// Failed batches are reported on the diagnostic channel and dropped.
type Processor struct {
	ctx     context.Context
	store   logging.Store
	config  logging.Config
	mapper  *document.Mapper
	diag    logging.Diagnostics
	buffer  *Buffer
	metrics *ProcessorMetrics

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// result is the outcome of one emission; it only ever reaches diagnostics and metrics.
type result struct {
	count int
	err   error
}

func NewBatchProcessor(ctx context.Context, store logging.Store, config logging.Config, diag logging.Diagnostics) (*Processor, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if diag == nil {
		diag = nopDiagnostics{}
	}

	return &Processor{
		ctx:     ctx,
		store:   store,
		config:  config,
		mapper:  document.NewMapper(),
		diag:    diag,
		buffer:  NewBuffer(config.QueueCapacity, config.BatchSize, config.Overflow, config.BlockTimeout),
		metrics: &ProcessorMetrics{},
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Enqueue only touches the in-memory buffer. It returns ErrBufferFull when the
// overflow policy rejects the event and ErrStopped after Stop.
func (bp *Processor) Enqueue(event logging.LogEvent) error {
	evicted, err := bp.buffer.Enqueue(event)
	if err != nil {
		if errors.Is(err, logging.ErrBufferFull) {
			bp.metrics.IncRejected()
			bp.diag.Warn("Event rejected, buffer full",
				"destination", bp.store.Destination(),
				"capacity", bp.buffer.Cap(),
				"policy", bp.config.Overflow.String())
		}
		return err
	}

	bp.metrics.IncEnqueued()
	if evicted {
		bp.metrics.IncEvicted()
		bp.diag.Warn("Buffer full, dropped oldest event",
			"destination", bp.store.Destination(),
			"capacity", bp.buffer.Cap())
	}
	return nil
}

// Start launches the flush loop. Calling it more than once has no effect.
func (bp *Processor) Start() {
	if !bp.started.CompareAndSwap(false, true) {
		return
	}
	go bp.run()

	bp.diag.Info("Batch processor started",
		"destination", bp.store.Destination(),
		"batch_size", bp.config.BatchSize,
		"period", bp.config.Period.String(),
		"capacity", bp.config.QueueCapacity)
}

// Stop cancels the timer, flushes whatever is pending and waits up to timeout.
// This is the only durability promise at shutdown: if the final flush takes
// longer than timeout, Stop returns ErrStopTimeout and the remaining events
// are delivered, or lost, in the background.
func (bp *Processor) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return bp.GracefulShutdown(ctx)
}

func (bp *Processor) GracefulShutdownName() string {
	return "batch-processor:" + bp.store.Destination()
}

// GracefulShutdown is Stop bounded by ctx instead of a timeout.
func (bp *Processor) GracefulShutdown(ctx context.Context) error {
	bp.stopOnce.Do(func() {
		bp.buffer.Close()
		close(bp.stopCh)
	})
	// Never started: the loop goes straight to the final flush.
	if bp.started.CompareAndSwap(false, true) {
		go bp.run()
	}

	select {
	case <-bp.done:
		return nil
	case <-ctx.Done():
		bp.diag.Warn("Timed out waiting for final flush",
			"destination", bp.store.Destination(),
			"pending", bp.buffer.Len())
		return logging.ErrStopTimeout
	}
}

func (bp *Processor) Stats() Stats {
	stats := bp.metrics.GetMetricsStamp()
	stats.Pending = bp.buffer.Len()
	return stats
}

func (bp *Processor) run() {
	defer close(bp.done)

	timer := time.NewTimer(bp.config.Period)
	defer timer.Stop()

	for {
		select {
		case <-bp.stopCh:
			bp.drainAll()
			return
		case <-bp.ctx.Done():
			bp.buffer.Close()
			bp.drainAll()
			return
		case <-timer.C:
			bp.periodicFlush()
			timer.Reset(bp.config.Period)
		case <-bp.buffer.Ready():
			bp.flush()
			resetTimer(timer, bp.config.Period)
		}
	}
}

// drainAll runs at least one flush cycle, then keeps flushing until the
// closed buffer is empty.
func (bp *Processor) drainAll() {
	for {
		bp.flush()
		if bp.buffer.Len() == 0 {
			break
		}
	}

	stats := bp.Stats()
	bp.diag.Info("Batch processor stopped",
		"destination", bp.store.Destination(),
		"delivered", stats.Delivered,
		"lost", stats.Lost,
		"evicted", stats.Evicted)
}

// periodicFlush consumes an early-flush signal raised before the tick, since
// this flush serves it. Rearm raises it again if the threshold is still met.
func (bp *Processor) periodicFlush() {
	select {
	case <-bp.buffer.Ready():
	default:
	}
	bp.flush()
}

func (bp *Processor) flush() {
	bp.metrics.IncFlushes()

	events := bp.buffer.Drain(bp.config.BatchSize)
	res := bp.emit(events)

	switch {
	case res.err != nil:
		bp.metrics.AddLost(res.count)
		bp.diag.Error("Unable to write batch",
			"destination", bp.store.Destination(),
			"events", res.count,
			"error", res.err)
	case res.count > 0:
		bp.metrics.AddDelivered(res.count)
	}

	bp.buffer.Rearm()
}

func (bp *Processor) emit(events []logging.LogEvent) (res result) {
	res.count = len(events)
	if len(events) == 0 {
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("store panicked: %v", r)
		}
	}()

	docs := make([]logging.Document, len(events))
	for i := range events {
		docs[i] = bp.mapper.Map(events[i])
	}

	// Stop must not cancel a write that is already in flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(bp.ctx), bp.config.WriteTimeout)
	defer cancel()

	session, err := bp.store.Open(ctx)
	if err != nil {
		res.err = fmt.Errorf("open session: %w", err)
		return res
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			bp.diag.Warn("Failed to release store session",
				"destination", bp.store.Destination(),
				"error", cerr)
		}
	}()

	if err := session.PutBatch(ctx, docs); err != nil {
		res.err = err
	}
	return res
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

type nopDiagnostics struct{}

func (nopDiagnostics) Info(string, ...any)  {}
func (nopDiagnostics) Warn(string, ...any)  {}
func (nopDiagnostics) Error(string, ...any) {}
