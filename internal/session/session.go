// Package session lays out per-session storage under a root directory.
//
// Each session lives in <root>/<id>/ as one Pebble database holding its
// queue, its sync offset and a small metadata record. A session may be open
// at most once at a time: a second open from this process fails with a
// UsageError, and Pebble's directory lock rejects other processes.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/oplog/internal/errs"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
	"github.com/rzbill/oplog/pkg/id"
)

// ErrNotFound is returned when a session directory does not exist.
var ErrNotFound = errors.New("session not found")

// Options tune how a session's database is opened.
type Options struct {
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	ReadOnly      bool
	Metrics       pebblestore.MetricsHook
}

// Session is an open session.
type Session struct {
	Meta Meta
	Dir  string
	DB   *pebblestore.DB

	closeOnce sync.Once
	release   func()
}

var (
	gen = id.NewGenerator()

	openMu sync.Mutex
	opened = map[string]struct{}{}
)

// Dir returns the directory of session sid under root.
func Dir(root, sid string) string { return filepath.Join(root, sid) }

// Create allocates a new session under root with the given display name.
func Create(root, name string, opts Options) (*Session, error) {
	if opts.ReadOnly {
		return nil, errs.Usage("session.create", "cannot create a read-only session")
	}
	sid := gen.Next().String()
	if err := os.MkdirAll(Dir(root, sid), 0o755); err != nil {
		return nil, errs.Storage("session.create", sid, err)
	}
	s, err := open(root, sid, opts)
	if err != nil {
		return nil, err
	}
	m, err := EnsureMeta(s.DB, sid, name)
	if err != nil {
		_ = s.Close()
		return nil, errs.Storage("session.create", sid, err)
	}
	s.Meta = m
	return s, nil
}

// Open opens an existing session.
func Open(root, sid string, opts Options) (*Session, error) {
	info, err := os.Stat(Dir(root, sid))
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	if err != nil {
		return nil, errs.Storage("session.open", sid, err)
	}
	s, err := open(root, sid, opts)
	if err != nil {
		return nil, err
	}
	m, err := ReadMeta(s.DB)
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
		// Sessions created without metadata are identified by directory.
		m = Meta{ID: sid}
	case err != nil:
		_ = s.Close()
		return nil, errs.Storage("session.open", sid, err)
	}
	s.Meta = m
	return s, nil
}

func open(root, sid string, opts Options) (*Session, error) {
	dir := Dir(root, sid)
	key, err := filepath.Abs(dir)
	if err != nil {
		key = filepath.Clean(dir)
	}

	openMu.Lock()
	if _, held := opened[key]; held {
		openMu.Unlock()
		return nil, errs.Usage("session.open", "session %s is already open in this process", sid)
	}
	opened[key] = struct{}{}
	openMu.Unlock()
	release := func() {
		openMu.Lock()
		delete(opened, key)
		openMu.Unlock()
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		ReadOnly:      opts.ReadOnly,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		release()
		if isLockHeld(err) {
			return nil, errs.Usage("session.open", "session %s is locked by another process", sid)
		}
		return nil, errs.Storage("session.open", sid, err)
	}
	return &Session{Meta: Meta{ID: sid}, Dir: dir, DB: db, release: release}, nil
}

func isLockHeld(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EACCES)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.Meta.ID }

// Close closes the database and releases the session for reopening.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.DB.Close()
		s.release()
	})
	return err
}

// List returns the IDs of all sessions under root, oldest first. A missing
// root holds no sessions.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := id.Parse(e.Name()); err != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}
