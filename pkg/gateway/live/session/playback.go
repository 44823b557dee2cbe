package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumetoys/lumivoice/pkg/core/audio"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/live/protocol"
)

// playbackContext carries everything one turn's playback needs, surviving
// interruption so a resume can pick up at the segment boundary.
type playbackContext struct {
	TurnID         int64
	SessionID      int64
	ChildID        int64
	Seq            int
	UserText       string
	ReplyText      string
	ReplyAudioKey  string
	Segments       []string
	SegIdx         int
	ResumeCount    int
	GenMS          int64

	// pcm accumulates every synthesized chunk across runs; it becomes the
	// reply WAV on completion and the snapshot on interruption.
	pcm []byte

	ttsStartedAt time.Time
	firstAudioAt time.Time
}

// playbackDeps are the collaborators a controller streams through. send and
// sendPCM enqueue onto the session's single outbound writer.
type playbackDeps struct {
	Send    func(event any)
	SendPCM func(chunk []byte)
	Speech  turn.Speech
	Store   turn.Store
	Audio   turn.AudioStore
	Format  audio.Format
	Logger  *slog.Logger
}

// playbackController serializes playback for one connection: at most one
// streaming task, one retained interrupted context, resume at segment
// granularity.
type playbackController struct {
	deps  playbackDeps
	grace time.Duration

	mu       sync.Mutex
	current  *playbackContext
	speaking bool
	cancel   chan struct{}
	done     chan struct{}
}

func newPlaybackController(deps playbackDeps, grace time.Duration) *playbackController {
	if grace <= 0 {
		grace = 200 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &playbackController{deps: deps, grace: grace}
}

// Start begins (or resumes) playback of pc. A live task is canceled first
// and given a short grace window to wind down; the new task then supersedes
// it regardless.
func (c *playbackController) Start(ctx context.Context, pc *playbackContext, isResume bool) {
	c.mu.Lock()
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(c.grace):
			c.deps.Logger.Warn("playback task did not stop within grace window")
		}
	}

	c.mu.Lock()
	c.current = pc
	c.speaking = true
	cancel := make(chan struct{})
	c.cancel = cancel
	c.done = make(chan struct{})
	done = c.done
	c.mu.Unlock()

	if isResume {
		c.deps.Send(protocol.ResumeStarted{
			Type:   protocol.TypeResumeStarted,
			TurnID: pc.TurnID,
			SegIdx: pc.SegIdx,
		})
	} else {
		c.deps.Send(protocol.TurnStarted{
			Type:           protocol.TypeTurnStarted,
			TurnID:         pc.TurnID,
			SessionID:      pc.SessionID,
			Seq:            pc.Seq,
			UserText:       pc.UserText,
			ReplyText:      pc.ReplyText,
			ReplyAudioPath: pc.ReplyAudioKey,
		})
	}

	go c.run(ctx, pc, cancel, done)
}

func (c *playbackController) run(ctx context.Context, pc *playbackContext, cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	resumeCount := pc.ResumeCount
	if err := c.deps.Store.UpdateRuntime(ctx, pc.TurnID, turn.RuntimeUpdate{
		PlaybackStatus: turn.PlaybackSpeaking,
		ResumeCount:    &resumeCount,
	}); err != nil {
		c.deps.Logger.Warn("persist speaking failed", "turn_id", pc.TurnID, "error", err)
	}

	c.deps.Send(protocol.TTSStart{Type: protocol.TypeTTSStart, TurnID: pc.TurnID})
	if pc.ttsStartedAt.IsZero() {
		pc.ttsStartedAt = time.Now()
	}

	for pc.SegIdx < len(pc.Segments) {
		if isClosed(cancel) {
			c.pause(ctx, pc)
			return
		}
		interrupted, err := c.streamSegment(ctx, pc, cancel)
		if err != nil {
			c.fail(ctx, pc, err)
			return
		}
		if interrupted {
			c.pause(ctx, pc)
			return
		}
		pc.SegIdx++
	}

	c.complete(ctx, pc)
}

// streamSegment synthesizes one segment and forwards its chunks. It reports
// interrupted=true when cancel fired during the segment; the caller then
// leaves SegIdx on this segment so a resume replays it from the top. The
// stream may have been cut short by the cancel, so a canceled segment never
// counts as played.
func (c *playbackController) streamSegment(ctx context.Context, pc *playbackContext, cancel <-chan struct{}) (bool, error) {
	chunks, errs := c.deps.Speech.TTSStream(ctx, pc.Segments[pc.SegIdx], cancel)

	interrupted := false
	for chunk := range chunks {
		if interrupted || isClosed(cancel) {
			interrupted = true
			continue
		}
		if pc.firstAudioAt.IsZero() {
			pc.firstAudioAt = time.Now()
		}
		pc.pcm = append(pc.pcm, chunk...)
		c.deps.SendPCM(chunk)
	}

	if err := <-errs; err != nil {
		return false, err
	}
	return interrupted || isClosed(cancel), nil
}

func (c *playbackController) pause(ctx context.Context, pc *playbackContext) {
	c.mu.Lock()
	if c.current != pc {
		// superseded past the grace window; the new task owns the state
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.deps.Send(protocol.TTSPaused{
		Type:      protocol.TypeTTSPaused,
		TurnID:    pc.TurnID,
		SegIdx:    pc.SegIdx,
		CanResume: true,
	})

	if len(pc.pcm) > 0 {
		wav := audio.WrapWAV(pc.pcm, c.deps.Format)
		if err := c.deps.Audio.Upload(ctx, pc.ReplyAudioKey, wav, "audio/wav"); err != nil {
			c.deps.Logger.Warn("snapshot upload failed", "turn_id", pc.TurnID, "error", err)
		}
	}
	resumeCount := pc.ResumeCount
	if err := c.deps.Store.UpdateRuntime(ctx, pc.TurnID, turn.RuntimeUpdate{
		PlaybackStatus: turn.PlaybackInterrupted,
		ResumeCount:    &resumeCount,
	}); err != nil {
		c.deps.Logger.Warn("persist interrupted failed", "turn_id", pc.TurnID, "error", err)
	}

	c.deps.Logger.Info("playback paused",
		"turn_id", pc.TurnID, "seg_idx", pc.SegIdx, "resume_count", pc.ResumeCount)

	// Release ownership only now that the snapshot and status are down.
	// Until this point a resume control sees speaking=true and is rejected,
	// so no second task can touch pc while this one winds down.
	c.mu.Lock()
	if c.current == pc {
		c.speaking = false
		c.cancel = nil
	}
	c.mu.Unlock()
}

func (c *playbackController) complete(ctx context.Context, pc *playbackContext) {
	wav := audio.WrapWAV(pc.pcm, c.deps.Format)
	if err := c.deps.Audio.Upload(ctx, pc.ReplyAudioKey, wav, "audio/wav"); err != nil {
		c.fail(ctx, pc, err)
		return
	}

	metrics := map[string]any{
		"seg_count":    len(pc.Segments),
		"resume_count": pc.ResumeCount,
		"tts_ms":       time.Since(pc.ttsStartedAt).Milliseconds(),
		"ttfb_ms":      ttfbMS(pc),
		"gen_ms":       pc.GenMS,
	}
	if err := c.deps.Store.FinalizeAudio(ctx, pc.TurnID, turn.PlaybackCompleted, metrics); err != nil {
		c.deps.Logger.Warn("persist completed failed", "turn_id", pc.TurnID, "error", err)
	}

	c.deps.Send(protocol.TurnEnd{
		Type:           protocol.TypeTurnEnd,
		TurnID:         pc.TurnID,
		SessionID:      pc.SessionID,
		Seq:            pc.Seq,
		ReplyText:      pc.ReplyText,
		ReplyAudioPath: pc.ReplyAudioKey,
		Metrics:        metrics,
	})
	c.deps.Send(protocol.TTSEnd{Type: protocol.TypeTTSEnd, TurnID: pc.TurnID})

	c.mu.Lock()
	if c.current == pc {
		c.speaking = false
		c.cancel = nil
		c.current = nil
	}
	c.mu.Unlock()

	c.deps.Logger.Info("playback completed", "turn_id", pc.TurnID, "metrics", metrics)
}

// fail persists the error status and reports it without tearing down the
// connection; the device keeps talking.
func (c *playbackController) fail(ctx context.Context, pc *playbackContext, err error) {
	c.mu.Lock()
	if c.current == pc {
		c.speaking = false
		c.cancel = nil
		c.current = nil
	}
	c.mu.Unlock()

	if perr := c.deps.Store.FinalizeAudio(ctx, pc.TurnID, turn.PlaybackError, nil); perr != nil {
		c.deps.Logger.Warn("persist error status failed", "turn_id", pc.TurnID, "error", perr)
	}
	c.deps.Send(protocol.ErrorEvent{
		Type:    protocol.TypeError,
		Message: "语音播放失败，请再试一次",
	})
	c.deps.Logger.Error("playback failed", "turn_id", pc.TurnID, "error", err)
}

// Interrupt cancels the live task, if any. Safe to call repeatedly; an idle
// controller ignores it.
func (c *playbackController) Interrupt(reason string) {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	var turnID int64
	if c.current != nil {
		turnID = c.current.TurnID
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	close(cancel)
	c.deps.Send(protocol.InterruptRequested{
		Type:   protocol.TypeInterruptRequested,
		Reason: reason,
		TurnID: turnID,
	})
}

// Resume restarts an interrupted playback at its segment boundary.
func (c *playbackController) Resume(ctx context.Context) {
	c.mu.Lock()
	pc := c.current
	speaking := c.speaking
	c.mu.Unlock()

	if speaking {
		c.deps.Send(protocol.ResumeRejected{
			Type:   protocol.TypeResumeRejected,
			Reason: protocol.RejectAlreadySpeaking,
		})
		return
	}
	if pc == nil {
		c.deps.Send(protocol.ResumeRejected{
			Type:   protocol.TypeResumeRejected,
			Reason: protocol.RejectNoPending,
		})
		return
	}

	pc.ResumeCount++
	c.Start(ctx, pc, true)
}

// Speaking reports whether a playback task is live.
func (c *playbackController) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Wait blocks until the current playback task exits, for shutdown.
func (c *playbackController) Wait(timeout time.Duration) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func ttfbMS(pc *playbackContext) int64 {
	if pc.firstAudioAt.IsZero() {
		return 0
	}
	return pc.firstAudioAt.Sub(pc.ttsStartedAt).Milliseconds()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
