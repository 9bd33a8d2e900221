package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/offset"
	"github.com/rzbill/oplog/internal/operation"
	"github.com/rzbill/oplog/internal/queue"
	"github.com/rzbill/oplog/internal/session"
)

type call struct {
	session string
	ops     []string
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []call
	fail  error
}

func (b *fakeBackend) ExecuteOperations(_ context.Context, sid string, ops []operation.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	c := call{session: sid}
	for _, op := range ops {
		c.ops = append(c.ops, op.Kind)
	}
	b.calls = append(b.calls, c)
	return nil
}

func (b *fakeBackend) snapshot() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call(nil), b.calls...)
}

// prepareSession persists versions 1..n and writes the offset when
// writeOffset is set.
func prepareSession(t *testing.T, root, name string, n int, off uint64, writeOffset bool) string {
	t.Helper()
	s, err := session.Create(root, name, session.Options{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer s.Close()
	codec, err := operation.NewCodec(operation.CompressionZstd)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	defer codec.Close()
	q, err := queue.Open(s.DB, queue.Options{Session: s.ID(), Codec: codec})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	for v := 1; v <= n; v++ {
		op := operation.Operation{Kind: fmt.Sprintf("op-%d", v), Value: json.RawMessage(fmt.Sprint(v))}
		if err := q.Put(operation.Versioned{Op: op, Version: uint64(v)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	_ = q.Close()
	if writeOffset {
		tr, err := offset.Open(s.DB, s.ID())
		if err != nil {
			t.Fatalf("offset: %v", err)
		}
		if err := tr.Write(context.Background(), off); err != nil {
			t.Fatalf("write offset: %v", err)
		}
	}
	return s.ID()
}

func newTool(t *testing.T, root string, be *fakeBackend, out *bytes.Buffer) *Tool {
	t.Helper()
	tool, err := New(Options{Root: root, Backend: be, Out: out, BatchSize: 10})
	if err != nil {
		t.Fatalf("new tool: %v", err)
	}
	t.Cleanup(tool.Close)
	return tool
}

func statusOf(t *testing.T, tool *Tool, sid string) Status {
	t.Helper()
	all, err := tool.Statuses(context.Background())
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	for _, st := range all {
		if st.ID == sid {
			return st
		}
	}
	t.Fatalf("session %s not listed", sid)
	return Status{}
}

func TestPartitionAndList(t *testing.T) {
	root := t.TempDir()
	unsynced := prepareSession(t, root, "org/proj/EXP-1", 2, 1, true)
	synced := prepareSession(t, root, "org/proj/EXP-2", 2, 2, true)

	var out bytes.Buffer
	tool := newTool(t, root, &fakeBackend{}, &out)
	s, u, err := tool.Partition(context.Background())
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(s) != 1 || s[0].ID != synced || len(u) != 1 || u[0].ID != unsynced {
		t.Fatalf("synced=%v unsynced=%v", s, u)
	}
	if u[0].Pending() != 1 {
		t.Fatalf("pending = %d", u[0].Pending())
	}

	if err := tool.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Synchronised sessions:\n- org/proj/EXP-2") {
		t.Fatalf("missing synced section:\n%s", got)
	}
	if !strings.Contains(got, "Unsynchronised sessions:\n- org/proj/EXP-1") {
		t.Fatalf("missing unsynced section:\n%s", got)
	}
}

func TestListEmptyRoot(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	tool := newTool(t, root, &fakeBackend{}, &out)
	if err := tool.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "There are no sessions") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSyncAllReplaysTail(t *testing.T) {
	root := t.TempDir()
	unsynced := prepareSession(t, root, "EXP-1", 2, 1, true)
	prepareSession(t, root, "EXP-2", 2, 2, true)

	be := &fakeBackend{}
	var out bytes.Buffer
	tool := newTool(t, root, be, &out)
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync all: %v", err)
	}

	calls := be.snapshot()
	if len(calls) != 1 || calls[0].session != unsynced || fmt.Sprint(calls[0].ops) != "[op-2]" {
		t.Fatalf("calls = %+v", calls)
	}
	got := out.String()
	if !strings.Contains(got, "Synchronising EXP-1\n") || !strings.Contains(got, "Synchronisation of session EXP-1 completed.") {
		t.Fatalf("output:\n%s", got)
	}
	if strings.Contains(got, "Synchronising EXP-2") {
		t.Fatalf("synced session was replayed:\n%s", got)
	}
	st := statusOf(t, tool, unsynced)
	if st.Offset != 2 || !st.Synced() {
		t.Fatalf("status after sync %+v", st)
	}

	// Second run dispatches nothing.
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if n := len(be.snapshot()); n != 1 {
		t.Fatalf("second sync dispatched, calls=%d", n)
	}
}

func TestSyncSelectedSyncedSession(t *testing.T) {
	root := t.TempDir()
	prepareSession(t, root, "EXP-1", 2, 1, true)
	synced := prepareSession(t, root, "EXP-2", 2, 2, true)

	be := &fakeBackend{}
	var out bytes.Buffer
	tool := newTool(t, root, be, &out)
	if err := tool.SyncSelected(context.Background(), []string{"EXP-2"}); err != nil {
		t.Fatalf("sync selected: %v", err)
	}
	if len(be.snapshot()) != 0 {
		t.Fatalf("synced session must not dispatch")
	}
	got := out.String()
	if !strings.Contains(got, "Synchronising EXP-2") || !strings.Contains(got, "Synchronisation of session EXP-2 completed.") {
		t.Fatalf("output:\n%s", got)
	}
	if strings.Contains(got, "EXP-1") {
		t.Fatalf("unselected session touched:\n%s", got)
	}

	// Selection by ID works too.
	out.Reset()
	if err := tool.SyncSelected(context.Background(), []string{synced}); err != nil {
		t.Fatalf("sync by id: %v", err)
	}
	if !strings.Contains(out.String(), "Synchronising EXP-2") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestSyncSelectedUnknown(t *testing.T) {
	root := t.TempDir()
	prepareSession(t, root, "EXP-1", 1, 0, false)
	tool := newTool(t, root, &fakeBackend{}, &bytes.Buffer{})
	err := tool.SyncSelected(context.Background(), []string{"nope"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMissingOffsetReplaysEverything(t *testing.T) {
	root := t.TempDir()
	sid := prepareSession(t, root, "EXP-1", 3, 0, false)
	be := &fakeBackend{}
	tool := newTool(t, root, be, &bytes.Buffer{})

	st := statusOf(t, tool, sid)
	if st.Offset != 0 || st.Tail != 3 || st.Synced() {
		t.Fatalf("status %+v", st)
	}
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	calls := be.snapshot()
	if len(calls) != 1 || fmt.Sprint(calls[0].ops) != "[op-1 op-2 op-3]" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestEmptyLogIsSynced(t *testing.T) {
	root := t.TempDir()
	s, err := session.Create(root, "empty", session.Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sid := s.ID()
	_ = s.Close()

	be := &fakeBackend{}
	tool := newTool(t, root, be, &bytes.Buffer{})
	if st := statusOf(t, tool, sid); !st.Synced() {
		t.Fatalf("empty session should be synced: %+v", st)
	}
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(be.snapshot()) != 0 {
		t.Fatalf("unexpected dispatch")
	}
}

func TestReplayInBatches(t *testing.T) {
	root := t.TempDir()
	sid := prepareSession(t, root, "big", 25, 3, true)
	be := &fakeBackend{}
	tool := newTool(t, root, be, &bytes.Buffer{})
	if err := tool.SyncSession(context.Background(), sid); err != nil {
		t.Fatalf("sync: %v", err)
	}
	calls := be.snapshot()
	if len(calls) != 3 || len(calls[0].ops) != 10 || len(calls[2].ops) != 2 {
		t.Fatalf("unexpected batching %+v", calls)
	}
	if calls[0].ops[0] != "op-4" || calls[2].ops[1] != "op-25" {
		t.Fatalf("unexpected range %+v", calls)
	}
}

func TestFailedReplayKeepsOffset(t *testing.T) {
	root := t.TempDir()
	sid := prepareSession(t, root, "EXP-1", 2, 0, false)
	be := &fakeBackend{fail: errors.New("offline backend down")}
	tool := newTool(t, root, be, &bytes.Buffer{})

	err := tool.SyncAll(context.Background())
	if !errs.IsDispatch(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if st := statusOf(t, tool, sid); st.Offset != 0 {
		t.Fatalf("offset advanced on failure: %+v", st)
	}

	be.mu.Lock()
	be.fail = nil
	be.mu.Unlock()
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := statusOf(t, tool, sid); !st.Synced() || st.Offset != 2 {
		t.Fatalf("status %+v", st)
	}
}

func TestLockedSessionIsSkipped(t *testing.T) {
	root := t.TempDir()
	locked := prepareSession(t, root, "busy", 2, 0, false)
	free := prepareSession(t, root, "free", 2, 0, false)

	held, err := session.Open(root, locked, session.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer held.Close()

	be := &fakeBackend{}
	tool := newTool(t, root, be, &bytes.Buffer{})
	if err := tool.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync all: %v", err)
	}
	calls := be.snapshot()
	if len(calls) != 1 || calls[0].session != free {
		t.Fatalf("calls = %+v", calls)
	}

	if err := tool.SyncSession(context.Background(), locked); !errs.IsUsage(err) {
		t.Fatalf("expected usage error for a held session, got %v", err)
	}
}

func TestInspectPending(t *testing.T) {
	root := t.TempDir()
	sid := prepareSession(t, root, "org/proj/EXP-9", 6, 2, true)
	be := &fakeBackend{}
	tool := newTool(t, root, be, &bytes.Buffer{})

	var seen []uint64
	st, err := tool.Inspect(context.Background(), "org/proj/EXP-9", 3, func(v operation.Versioned) error {
		seen = append(seen, v.Version)
		return nil
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if st.ID != sid || st.Offset != 2 || st.Tail != 6 {
		t.Fatalf("status = %+v", st)
	}
	if fmt.Sprint(seen) != "[3 4 5]" {
		t.Fatalf("seen = %v", seen)
	}
	if len(be.snapshot()) != 0 {
		t.Fatalf("inspect dispatched operations")
	}
	if got := statusOf(t, tool, sid); got.Offset != 2 {
		t.Fatalf("offset moved to %d", got.Offset)
	}
}

func TestInspectUnknown(t *testing.T) {
	tool := newTool(t, t.TempDir(), &fakeBackend{}, &bytes.Buffer{})
	_, err := tool.Inspect(context.Background(), "nope", 0, func(operation.Versioned) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
