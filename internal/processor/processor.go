// Package processor connects enqueuing callers to a session's durable queue
// and drives a single background consumer that flushes the queue and ships
// batches to the backend in version order.
//
// Enqueue assigns the next version and stores the operation without I/O.
// Wait blocks until everything enqueued so far has been dispatched, or until
// its context ends. Entries leave the queue only after the backend accepted
// them and the sync offset was persisted, so a failed dispatch is retried
// with the same batch on a later run.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/oplog/internal/backend"
	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/offset"
	"github.com/rzbill/oplog/internal/operation"
	"github.com/rzbill/oplog/internal/queue"
	"github.com/rzbill/oplog/internal/worker"
	"github.com/rzbill/oplog/pkg/log"
)

// Observer receives processor events. *metrics.Metrics implements it.
type Observer interface {
	Enqueued(session string)
	Dispatched(session string, ops int, elapsed time.Duration)
	DispatchFailed(session string)
	Flushed(session string, elapsed time.Duration, err error)
	QueueDepth(session string, depth int)
	OverflowWakeup(session string)
}

type noopObserver struct{}

func (noopObserver) Enqueued(string)                       {}
func (noopObserver) Dispatched(string, int, time.Duration) {}
func (noopObserver) DispatchFailed(string)                 {}
func (noopObserver) Flushed(string, time.Duration, error)  {}
func (noopObserver) QueueDepth(string, int)                {}
func (noopObserver) OverflowWakeup(string)                 {}

// Options configures a Processor.
type Options struct {
	SessionID string
	// BatchSize caps operations per backend call.
	BatchSize int
	// SleepTime is the worker interval.
	SleepTime time.Duration
	// FlushInterval is the minimum time between queue flushes.
	FlushInterval time.Duration
	// WaitTimeout bounds Wait when the caller's context has no deadline.
	// Zero waits indefinitely.
	WaitTimeout time.Duration
	// Backoff after failed runs.
	Backoff worker.Backoff
	// ErrorBuffer is the capacity of the Errors channel.
	ErrorBuffer int
	Logger      log.Logger
	Observer    Observer
}

// DefaultOptions mirrors the defaults of the configuration file.
func DefaultOptions() Options {
	return Options{
		BatchSize:     1000,
		SleepTime:     5 * time.Second,
		FlushInterval: 5 * time.Second,
		Backoff:       worker.DefaultBackoff(),
		ErrorBuffer:   16,
	}
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	LastVersion     uint64
	ConsumedVersion uint64
	WaitingFor      uint64
	Pending         int
	Unflushed       int
	// Runs counts completed consumer runs.
	Runs uint64
}

// Processor owns one session's queue and its consumer.
type Processor struct {
	session   string
	queue     *queue.Queue
	offset    *offset.Tracker
	backend   backend.Backend
	batchSize int
	flushIvl  time.Duration
	waitLimit time.Duration
	logger    log.Logger
	observer  Observer

	state  *versionState
	worker *worker.Worker

	produceMu sync.Mutex
	lastFlush time.Time // consumer only

	errCh  chan error
	closed atomic.Bool
}

// New builds a processor over q and off. Counters resume from the queue's
// last version and the persisted offset. Call Start to run the consumer.
func New(q *queue.Queue, off *offset.Tracker, be backend.Backend, opts Options) *Processor {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.SleepTime <= 0 {
		opts.SleepTime = def.SleepTime
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = opts.SleepTime
	}
	if opts.ErrorBuffer <= 0 {
		opts.ErrorBuffer = def.ErrorBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	p := &Processor{
		session:   opts.SessionID,
		queue:     q,
		offset:    off,
		backend:   be,
		batchSize: opts.BatchSize,
		flushIvl:  opts.FlushInterval,
		waitLimit: opts.WaitTimeout,
		logger:    logger.WithComponent("processor").With(log.Str("session", opts.SessionID)),
		observer:  observer,
		state:     newVersionState(q.LastVersion(), off.Read()),
		errCh:     make(chan error, opts.ErrorBuffer),
	}
	p.worker = worker.New(p.work, worker.Options{
		Name:     "consumer/" + opts.SessionID,
		Interval: opts.SleepTime,
		Backoff:  opts.Backoff,
		OnError:  p.report,
		Logger:   logger,
	})
	return p
}

// Start launches the consumer. ctx is handed to backend calls; it is not
// cancelled by Close.
func (p *Processor) Start(ctx context.Context) error {
	if p.closed.Load() {
		return errs.Usage("processor.start", "processor for %s is closed", p.session)
	}
	return p.worker.Start(ctx)
}

// Enqueue assigns op the next version and queues it. When the queue
// overflows the consumer is woken early. With wait set, Enqueue then blocks
// like Wait and reports whether the operation was acknowledged; without it
// acked is always false.
func (p *Processor) Enqueue(ctx context.Context, op operation.Operation, wait bool) (acked bool, err error) {
	if p.closed.Load() {
		return false, errs.Usage("processor.enqueue", "processor for %s is closed", p.session)
	}

	p.produceMu.Lock()
	v := p.state.last.Load() + 1
	if err := p.queue.Put(operation.Versioned{Op: op, Version: v}); err != nil {
		p.produceMu.Unlock()
		return false, err
	}
	p.state.recordEnqueued(v)
	p.produceMu.Unlock()

	p.observer.Enqueued(p.session)
	if p.queue.IsOverflowing() {
		p.logger.Debug("queue overflowing; waking consumer", log.Uint64("version", v))
		p.observer.OverflowWakeup(p.session)
		p.worker.WakeUp()
	}
	if !wait {
		return false, nil
	}
	return p.Wait(ctx), nil
}

// Wait blocks until every operation enqueued before the call has been
// dispatched. It returns false if ctx (or the configured wait timeout) ends
// first; that means "not yet acknowledged", not failure.
func (p *Processor) Wait(ctx context.Context) bool {
	target := p.state.last.Load()
	if target == 0 || p.state.consumed.Load() >= target {
		return p.state.await(ctx, target)
	}
	if _, ok := ctx.Deadline(); !ok && p.waitLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.waitLimit)
		defer cancel()
	}
	p.worker.WakeUp()
	return p.state.await(ctx, target)
}

// Errors delivers failures from the consumer. Storage errors mean the
// session is at risk and must reach an operator. The channel is never
// closed; errors that do not fit are logged and dropped.
func (p *Processor) Errors() <-chan error { return p.errCh }

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		LastVersion:     p.state.last.Load(),
		ConsumedVersion: p.state.consumed.Load(),
		WaitingFor:      p.state.waiting(),
		Pending:         p.queue.Len(),
		Unflushed:       p.queue.Unflushed(),
		Runs:            p.worker.Runs(),
	}
}

// Close stops the consumer after its current run, keeps dispatching until
// the queue is empty or ctx ends, then flushes whatever is left so it can be
// replayed later. It does not close the underlying storage.
func (p *Processor) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.worker.Stop()
	p.worker.Join()

	var errList []error
	for p.queue.Len() > 0 && ctx.Err() == nil {
		n, err := p.dispatch(ctx)
		if err != nil {
			errList = append(errList, err)
			break
		}
		if n == 0 {
			break
		}
	}
	if n := p.queue.Len(); n > 0 {
		p.logger.Warn("closing with undispatched operations; left on disk for replay", log.Int("pending", n))
	}

	// Flush even if ctx has ended so nothing buffered is dropped.
	if err := p.flush(context.WithoutCancel(ctx)); err != nil {
		errList = append(errList, err)
	}
	if err := p.queue.Close(); err != nil {
		errList = append(errList, err)
	}
	p.logger.Info("processor closed", log.Uint64("last", p.state.last.Load()), log.Uint64("consumed", p.state.consumed.Load()))
	return errors.Join(errList...)
}

// work is one consumer run: flush when due, then dispatch one batch.
func (p *Processor) work(ctx context.Context) error {
	var flushErr error
	if now := time.Now(); now.Sub(p.lastFlush) >= p.flushIvl {
		flushErr = p.flush(ctx)
		if flushErr == nil {
			p.lastFlush = now
		}
	}
	n, err := p.dispatch(ctx)
	if err == nil && n == p.batchSize {
		// More may be waiting.
		p.worker.WakeUp()
	}
	p.observer.QueueDepth(p.session, p.queue.Len())
	return errors.Join(flushErr, err)
}

func (p *Processor) flush(ctx context.Context) error {
	start := time.Now()
	err := p.queue.Flush(ctx)
	p.observer.Flushed(p.session, time.Since(start), err)
	return err
}

// dispatch ships one batch and returns its size.
func (p *Processor) dispatch(ctx context.Context) (int, error) {
	batch, err := p.queue.GetBatch(ctx, p.batchSize)
	if err != nil || len(batch) == 0 {
		return 0, err
	}
	first, last := batch[0].Version, batch[len(batch)-1].Version

	start := time.Now()
	if err := p.backend.ExecuteOperations(ctx, p.session, operation.Ops(batch)); err != nil {
		p.observer.DispatchFailed(p.session)
		return 0, &errs.DispatchError{Session: p.session, First: first, Last: last, Err: err}
	}
	p.observer.Dispatched(p.session, len(batch), time.Since(start))

	// Offset first: an entry may only leave the queue once its dispatch is
	// on record.
	if err := p.offset.Write(ctx, last); err != nil {
		return 0, err
	}
	if err := p.queue.Ack(last); err != nil {
		return 0, err
	}
	p.state.recordDispatched(last)
	p.logger.Debug("dispatched batch", log.Uint64("first", first), log.Uint64("last", last), log.Int("ops", len(batch)))
	return len(batch), nil
}

func (p *Processor) report(err error) {
	switch {
	case errs.IsStorage(err):
		p.logger.Error("storage failure", log.Err(err))
	case errs.IsDispatch(err):
		p.logger.Warn("dispatch failed; batch stays queued", log.Err(err))
	default:
		p.logger.Error("consumer failure", log.Err(err))
	}
	select {
	case p.errCh <- err:
	default:
		p.logger.Warn("error channel full; dropping error", log.Err(err))
	}
}
