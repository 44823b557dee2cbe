// Package sessions tracks live device connections so shutdown can drain
// them and a reconnecting device displaces its stale session.
package sessions

import (
	"context"
	"sync"
)

// Handle lets the tracker stop one connection.
type Handle struct {
	Cancel func()
}

// Tracker registers connections keyed by device serial.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackedConn
	wg      sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*trackedConn),
	}
}

// Register tracks a connection for deviceSN. A previous connection under
// the same serial is canceled and unregistered; the device owns its slot.
func (t *Tracker) Register(deviceSN string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*trackedConn)
	}
	old := t.entries[deviceSN]
	t.entries[deviceSN] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		t.unregister(deviceSN, old)
	}

	return func() { t.unregister(deviceSN, entry) }
}

func (t *Tracker) unregister(deviceSN string, entry *trackedConn) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.entries != nil && t.entries[deviceSN] == entry {
			delete(t.entries, deviceSN)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of live connections.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CancelAll stops every tracked connection, for drain.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.entries {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every tracked connection unregisters or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
