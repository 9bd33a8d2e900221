// Package offset persists a session's sync offset: the highest operation
// version known to have been dispatched to the backend.
//
// The offset lives under its own key in the session's Pebble database and is
// replaced with a synced single-key batch, so a crash leaves either the old or
// the new value, never a torn one.
package offset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/oplog/internal/errs"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
)

var key = []byte("o/sync")

// Key returns the storage key of the offset.
func Key() []byte { return append([]byte(nil), key...) }

// Read loads the offset from db. A missing offset reads as 0.
func Read(db *pebblestore.DB) (uint64, error) {
	b, err := db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("offset: unexpected length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Tracker caches the offset of one session and serializes writes to it.
type Tracker struct {
	db      *pebblestore.DB
	session string

	mu  sync.Mutex
	cur uint64
}

// Open loads the tracker's current value from db.
func Open(db *pebblestore.DB, session string) (*Tracker, error) {
	v, err := Read(db)
	if err != nil {
		return nil, errs.Storage("offset.read", session, err)
	}
	return &Tracker{db: db, session: session, cur: v}, nil
}

// Read returns the last written offset (0 if never written).
func (t *Tracker) Read() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Write durably records v. Writes that would move the offset backwards are
// ignored.
func (t *Tracker) Write(ctx context.Context, v uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v <= t.cur {
		return nil
	}
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], v)

	b := t.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val[:], nil); err != nil {
		return errs.Storage("offset.write", t.session, err)
	}
	if err := t.db.SyncBatch(ctx, b); err != nil {
		return errs.Storage("offset.write", t.session, err)
	}
	t.cur = v
	return nil
}
