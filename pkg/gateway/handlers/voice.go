package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lumetoys/lumivoice/pkg/core/endpoint"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/config"
	"github.com/lumetoys/lumivoice/pkg/gateway/live/session"
	"github.com/lumetoys/lumivoice/pkg/gateway/live/sessions"
)

// VoiceHandler upgrades GET /ws/voice/{deviceSN} and runs the connection
// session to completion.
type VoiceHandler struct {
	Config   config.Config
	Pipeline *turn.Pipeline
	Speech   turn.Speech
	Store    turn.Store
	Audio    turn.AudioStore
	Tracker  *sessions.Tracker
	Logger   *slog.Logger
}

// Toy devices carry no Origin header; browser clients are not a supported
// surface, so the origin check stays open.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deviceSN := r.PathValue("deviceSN")
	if deviceSN == "" {
		http.Error(w, "device serial is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", "device_sn", deviceSN, "error", err)
		return
	}

	sess, err := session.New(session.Config{
		DeviceSN:           deviceSN,
		PingInterval:       h.Config.WSPingInterval,
		WriteTimeout:       h.Config.WSWriteTimeout,
		MaxSessionDuration: h.Config.MaxSessionDuration,
		Grace:              h.Config.PlaybackGrace,
		Detector: endpoint.Config{
			FrameMs:                h.Config.FrameMs,
			SpeechStartFrames:      h.Config.SpeechStartFrames,
			SpeechEndSilenceFrames: h.Config.SpeechEndSilenceFrames,
			MaxUtteranceMs:         h.Config.MaxUtteranceMs,
			EnergyThreshold:        h.Config.EnergyThreshold,
		},
		SegmentMaxChars: h.Config.SegmentMaxChars,
		SegmentMinChars: h.Config.SegmentMinChars,
	}, session.Dependencies{
		Conn:     conn,
		Pipeline: h.Pipeline,
		Speech:   h.Speech,
		Store:    h.Store,
		Audio:    h.Audio,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("session setup failed", "device_sn", deviceSN, "error", err)
		_ = conn.Close()
		return
	}

	// The session outlives the request context on purpose: drain goes
	// through the tracker, not through server request cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unregister := h.Tracker.Register(deviceSN, sessions.Handle{Cancel: cancel})
	defer unregister()

	sess.Run(ctx)
}
