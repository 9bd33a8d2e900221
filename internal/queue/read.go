package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/oplog/internal/operation"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
)

// ErrCorrupt reports an entry that fails its checksum or does not match its key.
var ErrCorrupt = errors.New("corrupt queue entry")

// ReadTail returns the highest flushed version recorded in db, or 0 if the
// queue has never been flushed.
func ReadTail(db *pebblestore.DB) (uint64, error) {
	meta, err := db.Get(metaKey)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(meta) != 8 {
		return 0, fmt.Errorf("%w: meta length %d", ErrCorrupt, len(meta))
	}
	return binary.BigEndian.Uint64(meta), nil
}

// Scan calls fn for every persisted entry with after < version <= upTo, in
// ascending version order. A limit > 0 caps the number of entries visited.
// Returning a non-nil error from fn stops the scan and returns that error.
func Scan(ctx context.Context, db *pebblestore.DB, codec *operation.Codec, after, upTo uint64, limit int, fn func(operation.Versioned) error) error {
	if upTo <= after {
		return nil
	}
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: KeyEntry(after + 1), UpperBound: entryUpper(upTo)})
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if limit > 0 && n >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := decodeEntry(codec, iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
		n++
	}
	return iter.Error()
}

func decodeEntry(codec *operation.Codec, key, value []byte) (operation.Versioned, error) {
	ver, ok := versionFromKey(key)
	if !ok {
		return operation.Versioned{}, fmt.Errorf("%w: malformed key %x", ErrCorrupt, key)
	}
	dec, ok := decodeRecord(value)
	if !ok {
		return operation.Versioned{}, fmt.Errorf("%w: version %d checksum mismatch", ErrCorrupt, ver)
	}
	if dec.version != ver {
		return operation.Versioned{}, fmt.Errorf("%w: key version %d holds record %d", ErrCorrupt, ver, dec.version)
	}
	op, err := codec.Decode(dec.payload, dec.flags)
	if err != nil {
		return operation.Versioned{}, fmt.Errorf("%w: version %d: %v", ErrCorrupt, ver, err)
	}
	return operation.Versioned{Op: op, Version: ver}, nil
}
