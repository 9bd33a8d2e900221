package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/oplog/internal/backend"
	cfgpkg "github.com/rzbill/oplog/internal/config"
	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/metrics"
	"github.com/rzbill/oplog/internal/offline"
	"github.com/rzbill/oplog/internal/offset"
	"github.com/rzbill/oplog/internal/operation"
	"github.com/rzbill/oplog/internal/processor"
	"github.com/rzbill/oplog/internal/queue"
	"github.com/rzbill/oplog/internal/session"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
	"github.com/rzbill/oplog/internal/worker"
	"github.com/rzbill/oplog/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to a console logger.
	Logger log.Logger
	// Backend overrides the HTTP backend built from Config.Backend.
	Backend backend.Backend
	// Registry receives the metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// Runtime wires configuration, storage, metrics and the backend into
// sessions with running processors.
type Runtime struct {
	config   cfgpkg.Config
	logger   log.Logger
	backend  backend.Backend
	codec    *operation.Codec
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// Open validates the configuration and prepares the data directory.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.Storage("runtime.open", "", err)
	}
	compression, err := operation.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	codec, err := operation.NewCodec(compression)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	be := opts.Backend
	if be == nil && cfg.Backend.URL != "" {
		be, err = backend.NewHTTPClient(backend.HTTPOptions{
			BaseURL:    cfg.Backend.URL,
			Token:      cfg.Backend.Token,
			Timeout:    cfg.Backend.Timeout(),
			MaxRetries: cfg.Backend.MaxRetries,
		})
		if err != nil {
			codec.Close()
			return nil, err
		}
	}

	logger.Debug("runtime opened", log.Str("data_dir", cfg.DataDir), log.Str("compression", codec.Compression().String()), log.Bool("backend", be != nil))
	return &Runtime{
		config:   cfg,
		logger:   logger,
		backend:  be,
		codec:    codec,
		registry: reg,
		metrics:  metrics.New(reg),
		handles:  map[string]*Handle{},
	}, nil
}

// Close closes every open session, draining processors until ctx ends.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var errList []error
	for _, h := range handles {
		if err := h.Close(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	r.codec.Close()
	return errors.Join(errList...)
}

// CheckHealth verifies the data directory is usable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(r.config.DataDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", r.config.DataDir)
	}
	return nil
}

// Handle is an open session with its running processor.
type Handle struct {
	*processor.Processor
	Session *session.Session

	rt        *Runtime
	closeOnce sync.Once
	closeErr  error
}

// CreateSession creates a session and starts its processor.
func (r *Runtime) CreateSession(ctx context.Context, name string) (*Handle, error) {
	if err := r.usable("runtime.create_session"); err != nil {
		return nil, err
	}
	s, err := session.Create(r.config.DataDir, name, r.sessionOptions())
	if err != nil {
		return nil, err
	}
	return r.start(ctx, s)
}

// OpenSession reopens an existing session and starts its processor. Any
// backlog left by an earlier run is dispatched first.
func (r *Runtime) OpenSession(ctx context.Context, sid string) (*Handle, error) {
	if err := r.usable("runtime.open_session"); err != nil {
		return nil, err
	}
	s, err := session.Open(r.config.DataDir, sid, r.sessionOptions())
	if err != nil {
		return nil, err
	}
	return r.start(ctx, s)
}

func (r *Runtime) usable(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errs.Usage(op, "runtime is closed")
	}
	if r.backend == nil {
		return errs.Usage(op, "no backend configured")
	}
	return nil
}

func (r *Runtime) start(ctx context.Context, s *session.Session) (*Handle, error) {
	sid := s.ID()
	off, err := offset.Open(s.DB, sid)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	pc := r.config.Processor
	q, err := queue.Open(s.DB, queue.Options{
		Session:        sid,
		Codec:          r.codec,
		MaxBufferedOps: pc.MaxBufferedOps,
		Acked:          off.Read(),
		Logger:         r.logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	p := processor.New(q, off, r.backend, processor.Options{
		SessionID:     sid,
		BatchSize:     pc.BatchSize,
		SleepTime:     pc.SleepTime(),
		FlushInterval: pc.FlushInterval(),
		WaitTimeout:   pc.WaitTimeout(),
		Backoff:       worker.DefaultBackoff(),
		Logger:        r.logger,
		Observer:      r.metrics,
	})
	// The consumer outlives the caller's ctx; Close stops it.
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		_ = q.Close()
		_ = s.Close()
		return nil, err
	}

	h := &Handle{Processor: p, Session: s, rt: r}
	r.mu.Lock()
	r.handles[sid] = h
	r.mu.Unlock()
	r.logger.Info("session opened", log.Str("session", sid), log.Str("name", s.Meta.Name), log.Uint64("resume", q.LastVersion()))
	return h, nil
}

// Close drains and stops the processor, then closes the session.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		sid := h.Session.ID()
		h.closeErr = errors.Join(h.Processor.Close(ctx), h.Session.Close())
		h.rt.metrics.Forget(sid)
		h.rt.mu.Lock()
		delete(h.rt.handles, sid)
		h.rt.mu.Unlock()
	})
	return h.closeErr
}

// Offline builds an offline sync tool over the data directory.
func (r *Runtime) Offline(out io.Writer) (*offline.Tool, error) {
	return offline.New(offline.Options{
		Root:      r.config.DataDir,
		Backend:   r.backend,
		BatchSize: r.config.Offline.BatchSize,
		Session:   r.sessionOptions(),
		Codec:     r.codec,
		Out:       out,
		Logger:    r.logger,
		Observer:  r.metrics,
	})
}

func (r *Runtime) sessionOptions() session.Options {
	return session.Options{
		Fsync:         pebblestore.ParseFsyncMode(r.config.Fsync),
		FsyncInterval: r.config.FsyncInterval(),
		Metrics:       r.metrics.Storage(),
	}
}

// Registry returns the metrics registry.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }
