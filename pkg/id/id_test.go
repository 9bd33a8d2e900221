package id

import (
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock(t *testing.T, ms *atomic.Int64) {
	t.Helper()
	prev := NowMs
	NowMs = func() int64 { return ms.Load() }
	t.Cleanup(func() { NowMs = prev })
}

func TestOrderingMonotonic(t *testing.T) {
	var ms atomic.Int64
	ms.Store(1000)
	fixedClock(t, &ms)

	g := NewGenerator()
	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a<b")
	}
	if a.String() >= b.String() {
		t.Fatalf("hex form must sort like bytes: %s %s", a, b)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	var ms atomic.Int64
	ms.Store(1000)
	fixedClock(t, &ms)

	g := NewGenerator()
	a := g.Next()
	ms.Store(900)
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	var ms atomic.Int64
	ms.Store(2000)
	fixedClock(t, &ms)

	g := NewGenerator()
	g.lastMs = 2000
	g.sequence = ^uint64(0) - 1
	_ = g.Next()

	done := make(chan ID)
	go func() { done <- g.Next() }()
	time.AfterFunc(10*time.Millisecond, func() { ms.Store(2001) })

	select {
	case got := <-done:
		if got.Time().UnixMilli() != 2001 {
			t.Fatalf("expected rollover to 2001, got %d", got.Time().UnixMilli())
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	want := g.Next()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := Parse("not-an-id"); err == nil {
		t.Fatalf("expected error for short input")
	}
	if _, err := Parse("zz" + want.String()[2:]); err == nil {
		t.Fatalf("expected error for non-hex input")
	}
	if want.IsZero() || !(ID{}).IsZero() {
		t.Fatalf("IsZero mismatch")
	}
}
