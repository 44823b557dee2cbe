// Package session runs one device connection: the inbound read loop with
// endpoint detection, the turn pipeline hand-off, playback streaming and
// the single outbound writer.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumetoys/lumivoice/pkg/core"
	"github.com/lumetoys/lumivoice/pkg/core/audio"
	"github.com/lumetoys/lumivoice/pkg/core/endpoint"
	"github.com/lumetoys/lumivoice/pkg/core/segment"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/live/protocol"
)

// Conn is the subset of *websocket.Conn a session drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	wsWriter
}

// Config tunes one connection session. Zero values take defaults.
type Config struct {
	DeviceSN           string
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	MaxSessionDuration time.Duration
	// Grace bounds how long a superseded playback task may wind down.
	Grace           time.Duration
	Detector        endpoint.Config
	SegmentMaxChars int
	SegmentMinChars int
	OutboundQueue   int
}

// Dependencies are the collaborators a session calls through.
type Dependencies struct {
	Conn     Conn
	Pipeline *turn.Pipeline
	Speech   turn.Speech
	Store    turn.Store
	Audio    turn.AudioStore
	Logger   *slog.Logger
}

// Session owns one websocket connection end to end.
type Session struct {
	cfg  Config
	deps Dependencies

	detector  *endpoint.Detector
	utterance *audio.Buffer
	playback  *playbackController
	frames    chan outboundFrame
	turnJobs  chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates dependencies and applies config defaults.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("session: Conn is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("session: Pipeline is required")
	}
	if deps.Speech == nil {
		return nil, fmt.Errorf("session: Speech is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if deps.Audio == nil {
		return nil, fmt.Errorf("session: AudioStore is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.DeviceSN == "" {
		return nil, fmt.Errorf("session: DeviceSN is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 200 * time.Millisecond
	}
	if cfg.SegmentMaxChars <= 0 {
		cfg.SegmentMaxChars = segment.DefaultMaxChars
	}
	if cfg.SegmentMinChars <= 0 {
		cfg.SegmentMinChars = segment.DefaultMinChars
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 64
	}

	maxUtterMs := cfg.Detector.MaxUtteranceMs
	if maxUtterMs <= 0 {
		maxUtterMs = endpoint.DefaultConfig().MaxUtteranceMs
	}
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		detector: endpoint.New(cfg.Detector, nil),
		// headroom past the forced endpoint so no utterance bytes are trimmed
		utterance: audio.NewBuffer(audio.DeviceFormat, maxUtterMs+2000),
		frames:    make(chan outboundFrame, cfg.OutboundQueue),
		turnJobs:  make(chan []byte, 1),
	}
	s.playback = newPlaybackController(playbackDeps{
		Send:    s.send,
		SendPCM: s.sendPCM,
		Speech:  deps.Speech,
		Store:   deps.Store,
		Audio:   deps.Audio,
		Format:  audio.DeviceFormat,
		Logger:  deps.Logger,
	}, cfg.Grace)
	return s, nil
}

// Run drives the connection until the device disconnects, the session
// duration limit expires or ctx is canceled.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.Error("session panic",
				"device_sn", s.cfg.DeviceSN, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if s.cfg.MaxSessionDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxSessionDuration)
		defer cancel()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	s.ctx = ctx

	writer := &outboundWriter{
		ws:           s.deps.Conn,
		ctx:          ctx,
		frames:       s.frames,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer s.cancel()
		if err := writer.Run(); err != nil {
			s.deps.Logger.Warn("outbound writer stopped",
				"device_sn", s.cfg.DeviceSN, "error", err)
		}
	}()

	go s.turnWorker(ctx)

	s.send(protocol.Ready{Type: protocol.TypeReady, DeviceSN: s.cfg.DeviceSN})
	s.deps.Logger.Info("session started", "device_sn", s.cfg.DeviceSN)

	s.readLoop(ctx)

	s.cancel()
	s.playback.Wait(s.cfg.Grace)
	<-writerDone
	s.deps.Logger.Info("session closed", "device_sn", s.cfg.DeviceSN)
}

func (s *Session) readLoop(ctx context.Context) {
	readTimeout := 3 * s.cfg.PingInterval
	resetDeadline := func() {
		_ = s.deps.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	resetDeadline()
	s.deps.Conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		messageType, data, err := s.deps.Conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.deps.Logger.Info("read loop ended",
					"device_sn", s.cfg.DeviceSN, "error", err)
			}
			return
		}
		resetDeadline()

		switch messageType {
		case websocket.BinaryMessage:
			s.handlePCM(data)
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *Session) handlePCM(chunk []byte) {
	speechStart, speechEnd := s.detector.Process(chunk)

	if speechStart {
		s.utterance.Clear()
		s.playback.Interrupt("barge_in")
		s.send(protocol.SpeechStart{Type: protocol.TypeSpeechStart})
	}
	if speechStart || speechEnd || s.detector.InSpeech() {
		s.utterance.Write(chunk)
	}
	if speechEnd {
		s.send(protocol.SpeechEnd{Type: protocol.TypeSpeechEnd})
		pcm := s.utterance.Bytes()
		s.utterance.Clear()

		select {
		case s.turnJobs <- pcm:
		default:
			// a turn is already in flight; the device spoke over it
			s.deps.Logger.Warn("turn pipeline busy, dropping utterance",
				"device_sn", s.cfg.DeviceSN, "bytes", len(pcm))
		}
	}
}

func (s *Session) handleControl(data []byte) {
	ctl, err := protocol.DecodeControl(data)
	if err != nil {
		s.deps.Logger.Debug("ignoring malformed control frame",
			"device_sn", s.cfg.DeviceSN, "error", err)
		return
	}

	switch ctl.Op {
	case protocol.ControlPing:
		s.send(protocol.Pong{Type: protocol.TypePong})
	case protocol.ControlStop:
		s.playback.Interrupt("user_stop")
	case protocol.ControlResume:
		s.playback.Resume(s.ctx)
	}
}

// turnWorker runs pipeline and store I/O off the read loop so a slow
// vendor call never stalls frame intake.
func (s *Session) turnWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-s.turnJobs:
			s.runTurn(ctx, pcm)
		}
	}
}

func (s *Session) runTurn(ctx context.Context, pcm []byte) {
	wav := audio.WrapWAV(pcm, audio.DeviceFormat)

	genStart := time.Now()
	draft, err := s.deps.Pipeline.PrepareTurn(ctx, s.cfg.DeviceSN, wav)
	if err != nil {
		if core.IsType(err, core.ErrDeviceNotBound) {
			s.send(protocol.ErrorEvent{
				Type:    protocol.TypeError,
				Message: "设备还没有绑定小朋友，请先在家长端完成绑定",
			})
			s.deps.Logger.Warn("device not bound", "device_sn", s.cfg.DeviceSN)
			s.cancel()
			return
		}
		s.send(protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: "这一轮对话出了点小问题，再说一次试试吧",
		})
		s.deps.Logger.Error("turn pipeline failed",
			"device_sn", s.cfg.DeviceSN, "error", err)
		return
	}
	genMS := time.Since(genStart).Milliseconds()

	segments := segment.Segment(draft.ReplyText, s.cfg.SegmentMaxChars, s.cfg.SegmentMinChars)
	if len(segments) == 0 {
		segments = []string{draft.ReplyText}
	}

	if err := s.deps.Store.UpdateRuntime(ctx, draft.TurnID, turn.RuntimeUpdate{
		PlaybackStatus: turn.PlaybackPending,
		Metrics: map[string]any{
			"gen_ms":    genMS,
			"seg_count": len(segments),
		},
	}); err != nil {
		s.deps.Logger.Warn("persist pending failed", "turn_id", draft.TurnID, "error", err)
	}

	s.playback.Start(ctx, &playbackContext{
		TurnID:        draft.TurnID,
		SessionID:     draft.SessionID,
		ChildID:       draft.ChildID,
		Seq:           draft.Seq,
		UserText:      draft.UserText,
		ReplyText:     draft.ReplyText,
		ReplyAudioKey: draft.ReplyAudioPath,
		Segments:      segments,
		GenMS:         genMS,
	}, false)
}

func (s *Session) send(event any) {
	select {
	case s.frames <- outboundFrame{text: protocol.Marshal(event)}:
	case <-s.ctx.Done():
	}
}

func (s *Session) sendPCM(chunk []byte) {
	select {
	case s.frames <- outboundFrame{binary: chunk}:
	case <-s.ctx.Done():
	}
}
