// Package offline inspects session directories left behind by earlier runs
// and replays operations that never reached the backend.
//
// A session is synchronised when its sync offset O is at least the highest
// persisted version T. Replay sends every persisted entry with version > O
// in ascending order and advances O after each accepted batch, so an
// interrupted sync resumes where it stopped.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rzbill/oplog/internal/backend"
	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/offset"
	"github.com/rzbill/oplog/internal/operation"
	"github.com/rzbill/oplog/internal/queue"
	"github.com/rzbill/oplog/internal/session"
	"github.com/rzbill/oplog/pkg/log"
)

// ErrSessionNotFound is returned for a selection that matches no session.
var ErrSessionNotFound = errors.New("no session matches")

// Observer is notified of replayed operations. *metrics.Metrics implements it.
type Observer interface {
	Replayed(session string, ops int)
}

// Options configures a Tool.
type Options struct {
	// Root holds one directory per session.
	Root string
	// Backend receives replayed operations. Required for syncing.
	Backend backend.Backend
	// BatchSize caps operations per backend call. Zero means 1000.
	BatchSize int
	// Session tunes how session databases are opened.
	Session session.Options
	// Codec decodes payloads. Optional.
	Codec    *operation.Codec
	Out      io.Writer
	Logger   log.Logger
	Observer Observer
}

// Status is the classification of one session.
type Status struct {
	session.Meta
	Offset uint64
	Tail   uint64
}

// Synced reports whether nothing remains to replay.
func (s Status) Synced() bool { return s.Offset >= s.Tail }

// Pending is the number of versions awaiting replay.
func (s Status) Pending() uint64 {
	if s.Synced() {
		return 0
	}
	return s.Tail - s.Offset
}

// Tool is the offline sync entry point. All state is passed in through
// Options; nothing is shared between Tools.
type Tool struct {
	root      string
	backend   backend.Backend
	batchSize int
	sessOpts  session.Options
	codec     *operation.Codec
	ownCodec  bool
	out       io.Writer
	logger    log.Logger
	observer  Observer
}

// New builds a Tool.
func New(opts Options) (*Tool, error) {
	if opts.Root == "" {
		return nil, errs.Usage("offline.new", "root directory is required")
	}
	t := &Tool{
		root:      opts.Root,
		backend:   opts.Backend,
		batchSize: opts.BatchSize,
		sessOpts:  opts.Session,
		codec:     opts.Codec,
		out:       opts.Out,
		logger:    opts.Logger,
		observer:  opts.Observer,
	}
	if t.batchSize <= 0 {
		t.batchSize = 1000
	}
	if t.out == nil {
		t.out = os.Stdout
	}
	if t.logger == nil {
		t.logger = log.NewNopLogger()
	}
	t.logger = t.logger.WithComponent("offline")
	if t.codec == nil {
		c, err := operation.NewCodec(operation.CompressionNone)
		if err != nil {
			return nil, err
		}
		t.codec, t.ownCodec = c, true
	}
	return t, nil
}

// Close releases resources owned by the tool.
func (t *Tool) Close() {
	if t.ownCodec {
		t.codec.Close()
	}
}

// Statuses classifies every session under the root. Sessions that cannot
// be opened (for example because a live processor holds them) are logged
// and left out.
func (t *Tool) Statuses(ctx context.Context) ([]Status, error) {
	ids, err := session.List(t.root)
	if err != nil {
		return nil, errs.Storage("offline.list", "", err)
	}
	out := make([]Status, 0, len(ids))
	for _, sid := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st, err := t.status(sid)
		if err != nil {
			t.logger.Warn("skipping session", log.Str("session", sid), log.Err(err))
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (t *Tool) status(sid string) (Status, error) {
	opts := t.sessOpts
	opts.ReadOnly = true
	s, err := session.Open(t.root, sid, opts)
	if err != nil {
		return Status{}, err
	}
	defer s.Close()
	return readStatus(s)
}

func readStatus(s *session.Session) (Status, error) {
	o, err := offset.Read(s.DB)
	if err != nil {
		return Status{}, errs.Storage("offline.status", s.ID(), err)
	}
	tail, err := queue.ReadTail(s.DB)
	if err != nil {
		return Status{}, errs.Storage("offline.status", s.ID(), err)
	}
	return Status{Meta: s.Meta, Offset: o, Tail: tail}, nil
}

// Partition splits sessions into synchronised and unsynchronised.
func (t *Tool) Partition(ctx context.Context) (synced, unsynced []Status, err error) {
	all, err := t.Statuses(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, st := range all {
		if st.Synced() {
			synced = append(synced, st)
		} else {
			unsynced = append(unsynced, st)
		}
	}
	return synced, unsynced, nil
}

// List prints both partitions.
func (t *Tool) List(ctx context.Context) error {
	synced, unsynced, err := t.Partition(ctx)
	if err != nil {
		return err
	}
	if len(synced) == 0 && len(unsynced) == 0 {
		fmt.Fprintf(t.out, "There are no sessions in %s\n", t.root)
		return nil
	}
	if len(synced) > 0 {
		fmt.Fprintln(t.out, "Synchronised sessions:")
		for _, st := range synced {
			fmt.Fprintf(t.out, "- %s\n", st.DisplayName())
		}
	}
	if len(unsynced) > 0 {
		if len(synced) > 0 {
			fmt.Fprintln(t.out)
		}
		fmt.Fprintln(t.out, "Unsynchronised sessions:")
		for _, st := range unsynced {
			fmt.Fprintf(t.out, "- %s\n", st.DisplayName())
		}
	}
	return nil
}

// SyncAll replays every unsynchronised session. Failures of one session
// are logged and do not stop the others; they are returned joined.
func (t *Tool) SyncAll(ctx context.Context) error {
	_, unsynced, err := t.Partition(ctx)
	if err != nil {
		return err
	}
	var errList []error
	for _, st := range unsynced {
		if err := t.SyncSession(ctx, st.ID); err != nil {
			if ctx.Err() != nil {
				return err
			}
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// SyncSelected replays the sessions whose ID or name is in refs, whether or
// not they are already synchronised.
func (t *Tool) SyncSelected(ctx context.Context, refs []string) error {
	all, err := t.Statuses(ctx)
	if err != nil {
		return err
	}
	var errList []error
	seen := map[string]bool{}
	for _, ref := range refs {
		matched := false
		for _, st := range all {
			if st.ID != ref && st.Name != ref {
				continue
			}
			matched = true
			if seen[st.ID] {
				continue
			}
			seen[st.ID] = true
			if err := t.SyncSession(ctx, st.ID); err != nil {
				if ctx.Err() != nil {
					return err
				}
				errList = append(errList, err)
			}
		}
		if !matched {
			t.logger.Warn("no session matches selection", log.Str("selection", ref))
			errList = append(errList, fmt.Errorf("%w: %s", ErrSessionNotFound, ref))
		}
	}
	return errors.Join(errList...)
}

// SyncSession replays one session by ID.
func (t *Tool) SyncSession(ctx context.Context, sid string) error {
	if t.backend == nil {
		return errs.Usage("offline.sync", "no backend configured")
	}
	opts := t.sessOpts
	opts.ReadOnly = false
	s, err := session.Open(t.root, sid, opts)
	if err != nil {
		t.logger.Error("cannot open session", log.Str("session", sid), log.Err(err))
		return err
	}
	defer s.Close()
	name := s.Meta.DisplayName()

	off, err := offset.Open(s.DB, sid)
	if err != nil {
		return err
	}
	q, err := queue.Open(s.DB, queue.Options{Session: sid, Codec: t.codec, Acked: off.Read(), Logger: t.logger})
	if err != nil {
		return err
	}
	defer q.Close()

	fmt.Fprintf(t.out, "Synchronising %s\n", name)
	replayed := 0
	for {
		batch, err := q.GetBatch(ctx, t.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		first, last := batch[0].Version, batch[len(batch)-1].Version
		if err := t.backend.ExecuteOperations(ctx, sid, operation.Ops(batch)); err != nil {
			derr := &errs.DispatchError{Session: sid, First: first, Last: last, Err: err}
			t.logger.Error("replay failed", log.Str("session", sid), log.Err(derr))
			return derr
		}
		if err := off.Write(ctx, last); err != nil {
			return err
		}
		if err := q.Ack(last); err != nil {
			return err
		}
		replayed += len(batch)
		if t.observer != nil {
			t.observer.Replayed(sid, len(batch))
		}
	}
	// Drop replayed entries from disk.
	if err := q.Flush(ctx); err != nil {
		return err
	}
	t.logger.Info("session synchronised", log.Str("session", sid), log.Int("replayed", replayed), log.Uint64("offset", off.Read()))
	fmt.Fprintf(t.out, "Synchronisation of session %s completed.\n", name)
	return nil
}

// Resolve finds the session whose ID or name is ref.
func (t *Tool) Resolve(ctx context.Context, ref string) (Status, error) {
	all, err := t.Statuses(ctx)
	if err != nil {
		return Status{}, err
	}
	for _, st := range all {
		if st.ID == ref || st.Name == ref {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("%w: %s", ErrSessionNotFound, ref)
}

// Inspect reads the status of the session matching ref and passes up to
// limit pending operations to fn in version order. Nothing is modified.
// A non-positive limit means all of them.
func (t *Tool) Inspect(ctx context.Context, ref string, limit int, fn func(operation.Versioned) error) (Status, error) {
	st, err := t.Resolve(ctx, ref)
	if err != nil {
		return Status{}, err
	}
	opts := t.sessOpts
	opts.ReadOnly = true
	s, err := session.Open(t.root, st.ID, opts)
	if err != nil {
		return st, err
	}
	defer s.Close()
	if err := queue.Scan(ctx, s.DB, t.codec, st.Offset, st.Tail, limit, fn); err != nil {
		return st, errs.Storage("offline.inspect", st.ID, err)
	}
	return st, nil
}
