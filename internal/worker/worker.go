// Package worker runs a unit of work on its own goroutine, either every
// interval or as soon as it is woken.
//
// State machine: Idle -> Running -> Idle -> ... -> Stopping -> Stopped.
// A wake that arrives while work is running is kept and triggers another
// run right after the current one. After a failed run the worker backs off
// with capped exponential delay and ignores wakes until the delay elapses.
package worker

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/pkg/log"
)

// State is the lifecycle state of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Work is one unit of work. It must be a no-op when there is nothing to do.
type Work func(ctx context.Context) error

// Backoff is the delay policy applied after failed runs.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter bool
}

// DefaultBackoff starts at 200ms and doubles up to 30s, with jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2, Jitter: true}
}

// Delay returns the wait before the next run after failures consecutive
// failed runs.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.Base <= 0 {
		return 0
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(b.Base) * math.Pow(factor, float64(failures-1)))
	if d <= 0 || (b.Cap > 0 && d > b.Cap) {
		d = b.Cap
	}
	if b.Jitter && d > 1 {
		// Keep at least half of the computed delay.
		half := int64(d) / 2
		d = time.Duration(half + rand.Int63n(int64(d)-half))
	}
	return d
}

// Options configures a Worker.
type Options struct {
	// Name tags log lines.
	Name string
	// Interval between runs when not woken. Required.
	Interval time.Duration
	// Backoff after failed runs. Zero value disables backoff.
	Backoff Backoff
	// OnError receives every error returned by Work. Optional.
	OnError func(error)
	// Logger is optional.
	Logger log.Logger
}

// Worker runs Work periodically on a dedicated goroutine.
type Worker struct {
	work     Work
	interval time.Duration
	backoff  Backoff
	onError  func(error)
	logger   log.Logger

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	state    atomic.Int32
	runs     atomic.Uint64
	stopOnce sync.Once
}

// New creates a worker. It does nothing until Start.
func New(work Work, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		work:     work,
		interval: interval,
		backoff:  opts.Backoff,
		onError:  opts.OnError,
		logger:   logger.WithComponent("worker").With(log.Str("worker", opts.Name)),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. ctx is passed to every run; Stop does not cancel
// it, so an in-flight run always completes. Starting twice, or after Stop,
// is a UsageError.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errs.Usage("worker.start", "worker already started")
	}
	w.logger.Debug("worker started", log.Duration("interval", w.interval))
	go w.loop(ctx)
	return nil
}

// WakeUp requests an immediate run. It never blocks and is a no-op once
// Stop has been called.
func (w *Worker) WakeUp() {
	switch w.State() {
	case StateStopping, StateStopped:
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop requests termination after the current run finishes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.CompareAndSwap(false, true) {
			w.state.Store(int32(StateStopped))
			close(w.done)
			return
		}
		for {
			s := w.state.Load()
			if State(s) == StateStopped || w.state.CompareAndSwap(s, int32(StateStopping)) {
				return
			}
		}
	})
}

// Join blocks until the loop has exited. It returns immediately for a
// worker that was stopped before being started.
func (w *Worker) Join() { <-w.done }

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// State reports the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Runs is the number of completed work units.
func (w *Worker) Runs() uint64 { return w.runs.Load() }

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))
	defer w.logger.Debug("worker stopped")

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	failures := 0
	for {
		if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
			return
		}
		err := w.work(ctx)
		w.runs.Add(1)
		if !w.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
			if err != nil {
				w.report(err)
			}
			return
		}

		delay := w.interval
		if err != nil {
			failures++
			w.report(err)
			if d := w.backoff.Delay(failures); d > 0 {
				delay = d
				w.logger.Warn("work failed; backing off", log.Err(err), log.Int("failures", failures), log.Duration("delay", d))
			}
		} else {
			failures = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		if failures > 0 && w.backoff.Base > 0 {
			select {
			case <-w.stop:
				return
			case <-timer.C:
			}
			continue
		}
		select {
		case <-w.stop:
			return
		case <-timer.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) report(err error) {
	if w.onError != nil {
		w.onError(err)
		return
	}
	w.logger.Error("work failed", log.Err(err))
}
