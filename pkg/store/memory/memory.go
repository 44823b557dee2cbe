// Package memory implements the turn store in process memory. It backs
// development mode and tests; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lumetoys/lumivoice/pkg/core"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
)

// Store keeps devices, sessions and turns in maps.
type Store struct {
	mu sync.Mutex

	devices  map[string]turn.Device
	children map[int64]turn.Child
	sessions map[int64]*turn.ChatSession
	turns    map[int64]*turn.Turn

	nextSessionID int64
	nextTurnID    int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		devices:  make(map[string]turn.Device),
		children: make(map[int64]turn.Child),
		sessions: make(map[int64]*turn.ChatSession),
		turns:    make(map[int64]*turn.Turn),
	}
}

// AddDevice registers a device with its bound child.
func (s *Store) AddDevice(d turn.Device, c turn.Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.DeviceSN] = d
	s.children[c.ID] = c
}

func (s *Store) ResolveDevice(ctx context.Context, deviceSN string) (turn.Device, turn.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceSN]
	if !ok || d.BoundChildID == nil {
		return turn.Device{}, turn.Child{}, core.NewDeviceNotBoundError(deviceSN)
	}
	c, ok := s.children[*d.BoundChildID]
	if !ok {
		return turn.Device{}, turn.Child{}, core.NewDeviceNotBoundError(deviceSN)
	}
	return d, c, nil
}

func (s *Store) TouchDeviceSeen(ctx context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sn, d := range s.devices {
		if d.ID == deviceID {
			d.LastSeenAt = time.Now()
			s.devices[sn] = d
		}
	}
	return nil
}

func (s *Store) ActiveSession(ctx context.Context, childID int64) (turn.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *turn.ChatSession
	for _, sess := range s.sessions {
		if sess.ChildID != childID || sess.EndedAt != nil {
			continue
		}
		if newest == nil || sess.StartedAt.After(newest.StartedAt) {
			newest = sess
		}
	}
	if newest != nil {
		return *newest, nil
	}

	s.nextSessionID++
	sess := &turn.ChatSession{
		ID:        s.nextSessionID,
		ChildID:   childID,
		StartedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

func (s *Store) SetSessionTitle(ctx context.Context, sessionID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Title = title
	}
	return nil
}

func (s *Store) NextSeq(ctx context.Context, sessionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, t := range s.turns {
		if t.SessionID == sessionID && t.Seq > max {
			max = t.Seq
		}
	}
	return max + 1, nil
}

func (s *Store) CreateTurn(ctx context.Context, t *turn.Turn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTurnID++
	t.ID = s.nextTurnID
	cp := *t
	s.turns[t.ID] = &cp
	return t.ID, nil
}

func (s *Store) UpdateRuntime(ctx context.Context, turnID int64, upd turn.RuntimeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[turnID]
	if !ok {
		return nil
	}
	t.PlaybackStatus = upd.PlaybackStatus
	if upd.ResumeCount != nil {
		t.ResumeCount = *upd.ResumeCount
	}
	if upd.AuditAction != nil {
		t.AuditAction = *upd.AuditAction
	}
	if upd.Metrics != nil {
		t.Metrics = upd.Metrics
	}
	return nil
}

func (s *Store) FinalizeAudio(ctx context.Context, turnID int64, status string, metrics map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[turnID]
	if !ok {
		return nil
	}
	t.PlaybackStatus = status
	if metrics != nil {
		t.Metrics = metrics
	}
	return nil
}

func (s *Store) RecentTurns(ctx context.Context, sessionID int64, n int) ([]turn.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []turn.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, *t)
		}
	}
	// seq is unique per session; insertion order is not guaranteed here.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Seq < out[i].Seq {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Turn returns a copy of a stored turn, for tests.
func (s *Store) Turn(turnID int64) (turn.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[turnID]
	if !ok {
		return turn.Turn{}, false
	}
	return *t, true
}
