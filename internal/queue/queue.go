package queue

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/operation"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
	"github.com/rzbill/oplog/pkg/log"
)

// Options configures a Queue.
type Options struct {
	// Session identifies the queue in errors and logs.
	Session string
	// Codec encodes payloads. Required.
	Codec *operation.Codec
	// MaxBufferedOps is the number of undispatched entries above which
	// IsOverflowing reports true. Zero disables overflow detection.
	MaxBufferedOps int
	// Acked is the highest version already dispatched by an earlier run,
	// normally the session's sync offset.
	Acked uint64
	// Logger is optional.
	Logger log.Logger
}

type entry struct {
	v     operation.Versioned
	flags byte
	data  []byte
}

// Queue is a single-producer, single-consumer durable queue. Put and
// IsOverflowing may be called from producer goroutines; Flush, GetBatch and
// Ack belong to the consumer.
type Queue struct {
	db          *pebblestore.DB
	codec       *operation.Codec
	session     string
	maxBuffered int
	logger      log.Logger

	mu        sync.Mutex
	pending   []entry // in memory, version > acked, ascending
	lastPut   uint64
	persisted uint64 // highest flushed version
	acked     uint64
	trimmed   uint64 // entries <= trimmed are deleted from disk
	diskTail  uint64 // backlog from an earlier run lives in (acked, diskTail]
	broken    error
	closed    bool
}

// Open loads queue state from db. Versions assigned afterwards must be
// greater than LastVersion.
func Open(db *pebblestore.DB, opts Options) (*Queue, error) {
	if opts.Codec == nil {
		return nil, errs.Usage("queue.open", "codec is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	tail, err := ReadTail(db)
	if err != nil {
		return nil, errs.Storage("queue.open", opts.Session, err)
	}
	q := &Queue{
		db:          db,
		codec:       opts.Codec,
		session:     opts.Session,
		maxBuffered: opts.MaxBufferedOps,
		logger:      logger.WithComponent("queue").With(log.Str("session", opts.Session)),
		persisted:   tail,
		acked:       opts.Acked,
		diskTail:    tail,
		lastPut:     max(tail, opts.Acked),
	}
	if tail > opts.Acked {
		q.logger.Info("resuming with persisted backlog", log.Uint64("from", opts.Acked+1), log.Uint64("to", tail))
	}
	return q, nil
}

// Put appends v to the in-memory tail. Versions must strictly increase.
// Put never performs I/O; it fails only after the queue found corruption,
// after Close, or with a UsageError for an operation that cannot be encoded.
// A rejected operation leaves the queue usable.
func (q *Queue) Put(v operation.Versioned) error {
	data, flags, err := q.codec.Encode(v.Op)
	if err != nil {
		return errs.Usage("queue.put", "version %d: %v", v.Version, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.Usage("queue.put", "queue %s is closed", q.session)
	}
	if q.broken != nil {
		return q.broken
	}
	if v.Version <= q.lastPut {
		return errs.Usage("queue.put", "version %d not after %d", v.Version, q.lastPut)
	}
	q.pending = append(q.pending, entry{v: v, flags: flags, data: data})
	q.lastPut = v.Version
	return nil
}

// Flush persists every entry put since the last flush and drops acknowledged
// entries from disk. The write is a single batch committed with a WAL sync.
// The lock is not held during I/O, so Put keeps succeeding meanwhile.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errs.Usage("queue.flush", "queue %s is closed", q.session)
	}
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].v.Version > q.persisted })
	todo := append([]entry(nil), q.pending[i:]...)
	acked := q.acked
	trimmed := q.trimmed
	persisted := q.persisted
	newTail := max(q.persisted, q.lastPut)
	q.mu.Unlock()

	if len(todo) == 0 && acked <= trimmed && newTail == persisted {
		return nil
	}

	b := q.db.NewBatch()
	defer b.Close()
	for _, e := range todo {
		if e.v.Version <= acked {
			continue
		}
		if err := b.Set(KeyEntry(e.v.Version), encodeRecord(e.v.Version, e.flags, e.data), nil); err != nil {
			return errs.Storage("queue.flush", q.session, err)
		}
	}
	if acked > trimmed {
		if err := b.DeleteRange(KeyEntry(0), entryUpper(acked), nil); err != nil {
			return errs.Storage("queue.flush", q.session, err)
		}
	}
	if newTail > persisted {
		var meta [8]byte
		binary.BigEndian.PutUint64(meta[:], newTail)
		if err := b.Set(metaKey, meta[:], nil); err != nil {
			return errs.Storage("queue.flush", q.session, err)
		}
	}
	if err := q.db.SyncBatch(ctx, b); err != nil {
		return errs.Storage("queue.flush", q.session, err)
	}

	q.mu.Lock()
	q.persisted = max(q.persisted, newTail)
	q.trimmed = max(q.trimmed, acked)
	q.mu.Unlock()
	return nil
}

// GetBatch returns up to n of the oldest unacknowledged entries in ascending
// version order. It does not remove them: the same entries are returned
// until Ack moves past them. An empty result is not an error.
func (q *Queue) GetBatch(ctx context.Context, n int) ([]operation.Versioned, error) {
	if n <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errs.Usage("queue.get_batch", "queue %s is closed", q.session)
	}
	if q.broken != nil {
		err := q.broken
		q.mu.Unlock()
		return nil, err
	}
	acked, diskTail := q.acked, q.diskTail
	q.mu.Unlock()

	out := make([]operation.Versioned, 0, min(n, 64))
	if diskTail > acked {
		err := Scan(ctx, q.db, q.codec, acked, diskTail, n, func(v operation.Versioned) error {
			out = append(out, v)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, q.fail("queue.get_batch", err)
		}
		if len(out) == n {
			return out, nil
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.pending {
		if len(out) == n {
			break
		}
		if e.v.Version > acked {
			out = append(out, e.v)
		}
	}
	return out, nil
}

// Ack marks every entry with version <= v as dispatched and releases it
// from memory. Disk space is reclaimed by the next Flush.
func (q *Queue) Ack(v uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.Usage("queue.ack", "queue %s is closed", q.session)
	}
	if v > q.lastPut {
		return errs.Usage("queue.ack", "version %d was never put (last %d)", v, q.lastPut)
	}
	if v <= q.acked {
		return nil
	}
	q.acked = v
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].v.Version > v })
	// Copy down so the backing array does not pin released payloads.
	q.pending = append(q.pending[:0], q.pending[i:]...)
	return nil
}

// IsOverflowing reports whether undispatched entries exceed MaxBufferedOps.
func (q *Queue) IsOverflowing() bool {
	if q.maxBuffered <= 0 {
		return false
	}
	return q.Len() > q.maxBuffered
}

// Len is the number of entries put or persisted and not yet acknowledged.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.diskTail > q.acked {
		n += int(q.diskTail - q.acked)
	}
	return n
}

// Unflushed is the number of entries put but not yet persisted.
func (q *Queue) Unflushed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].v.Version > q.persisted })
	return len(q.pending) - i
}

// LastVersion is the highest version put or found on disk.
func (q *Queue) LastVersion() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPut
}

// Tail is the highest version persisted by Flush.
func (q *Queue) Tail() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persisted
}

// Acked is the highest acknowledged version.
func (q *Queue) Acked() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// Err returns the sticky storage error, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.broken
}

// Close releases memory and rejects further calls. It does not flush and
// does not close the underlying database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	return nil
}

func (q *Queue) fail(op string, err error) error {
	serr := errs.Storage(op, q.session, err)
	q.mu.Lock()
	if q.broken == nil {
		q.broken = serr
		q.logger.Error("queue storage is corrupt; refusing further writes", log.Err(err))
	}
	q.mu.Unlock()
	return serr
}
