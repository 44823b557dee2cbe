// Package server wires the HTTP surface: health probe, the voice websocket
// endpoint, middleware and graceful drain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/config"
	"github.com/lumetoys/lumivoice/pkg/gateway/handlers"
	"github.com/lumetoys/lumivoice/pkg/gateway/live/sessions"
	"github.com/lumetoys/lumivoice/pkg/gateway/mw"
)

// Dependencies are the domain collaborators the voice endpoint needs.
type Dependencies struct {
	Pipeline *turn.Pipeline
	Speech   turn.Speech
	Store    turn.Store
	Audio    turn.AudioStore
}

type Server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
	mux    *http.ServeMux

	tracker  *sessions.Tracker
	draining atomic.Bool
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		mux:     http.NewServeMux(),
		tracker: sessions.NewTracker(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{
		Draining: s.draining.Load,
	})
	s.mux.Handle("GET /ws/voice/{deviceSN}", handlers.VoiceHandler{
		Config:   s.cfg,
		Pipeline: s.deps.Pipeline,
		Speech:   s.deps.Speech,
		Store:    s.deps.Store,
		Audio:    s.deps.Audio,
		Tracker:  s.tracker,
		Logger:   s.logger,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Tracker exposes the live connection registry, for tests.
func (s *Server) Tracker() *sessions.Tracker {
	return s.tracker
}

// Run serves until ctx is canceled, then drains: stop accepting, cancel
// every live device session, and wait out the grace period.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.draining.Store(true)
	s.logger.Info("draining", "sessions", s.tracker.Count())

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()

	s.tracker.CancelAll()
	if !s.tracker.Wait(graceCtx) {
		s.logger.Warn("sessions still live at grace deadline", "sessions", s.tracker.Count())
	}
	if err := httpServer.Shutdown(graceCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
