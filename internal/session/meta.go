package session

import (
	"encoding/json"
	"errors"
	"time"

	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
)

// Meta describes a session.
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// DisplayName is the name, or the ID for unnamed sessions.
func (m Meta) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

var metaKey = []byte("s/meta")

// EnsureMeta creates the meta record if absent and returns the effective
// one. Idempotent: an existing record wins.
func EnsureMeta(db *pebblestore.DB, id, name string) (Meta, error) {
	if m, err := ReadMeta(db); err == nil {
		return m, nil
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, err
	}
	m := Meta{ID: id, Name: name, CreatedAtMs: time.Now().UnixMilli()}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(metaKey, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// ReadMeta loads the meta record. A missing record yields
// pebblestore.ErrNotFound.
func ReadMeta(db *pebblestore.DB) (Meta, error) {
	b, err := db.Get(metaKey)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}
