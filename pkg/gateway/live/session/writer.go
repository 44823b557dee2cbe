package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is one websocket write: a JSON event or a binary PCM chunk.
// Events and audio share one queue so the device observes them in enqueue
// order.
type outboundFrame struct {
	text   []byte
	binary []byte
}

// outboundWriter is the only goroutine that writes to the connection. It
// also owns the websocket ping ticker.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	frames       <-chan outboundFrame
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drainOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.frames:
			if !ok {
				return nil
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// drainOnShutdown writes a handful of already-queued frames so a final
// event (turn_end, error) is not lost to the close race.
func (w *outboundWriter) drainOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	maxFlushFrames := 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.frames:
			if !ok {
				return
			}
			_ = w.writeFrame(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	deadline := time.Now().Add(writeTimeout)
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if frame.text != nil {
		return w.ws.WriteMessage(websocket.TextMessage, frame.text)
	}
	return w.ws.WriteMessage(websocket.BinaryMessage, frame.binary)
}
