package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrackerRegisterUnregisterCountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("SN-001", Handle{})
	u2 := tr.Register("SN-002", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatal("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTrackerReconnectDisplacesStaleSession(t *testing.T) {
	tr := NewTracker()
	var oldCanceled atomic.Int64
	tr.Register("SN-001", Handle{Cancel: func() { oldCanceled.Add(1) }})

	unregister := tr.Register("SN-001", Handle{})
	defer unregister()

	if oldCanceled.Load() != 1 {
		t.Fatalf("old connection canceled %d times, want 1", oldCanceled.Load())
	}
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
}

func TestTrackerCancelAll(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("SN-001", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("SN-002", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTrackerUnregisterIdempotent(t *testing.T) {
	tr := NewTracker()
	u := tr.Register("SN-001", Handle{})
	u()
	u()
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
	if ok := tr.Wait(context.Background()); !ok {
		t.Fatal("Wait returned false")
	}
}
