package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumetoys/lumivoice/pkg/core/endpoint"
	"github.com/lumetoys/lumivoice/pkg/core/safety"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/speech"
	"github.com/lumetoys/lumivoice/pkg/store/memory"
)

// scriptConn feeds scripted inbound frames and records outbound writes.
type scriptConn struct {
	fakeWS
	inbound chan wsMessage
}

func newScriptConn() *scriptConn {
	return &scriptConn{inbound: make(chan wsMessage, 256)}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	m, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return m.messageType, m.data, nil
}

func (c *scriptConn) SetReadDeadline(t time.Time) error      { return nil }
func (c *scriptConn) SetPongHandler(h func(string) error)    {}
func (c *scriptConn) sendBinary(data []byte)                 { c.inbound <- wsMessage{websocket.BinaryMessage, data} }
func (c *scriptConn) sendText(data string)                   { c.inbound <- wsMessage{websocket.TextMessage, []byte(data)} }

// eventTypes decodes the type field of every outbound text frame so far.
func (c *scriptConn) eventTypes() []string {
	var out []string
	for _, m := range c.snapshot() {
		if m.messageType != websocket.TextMessage {
			continue
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m.data, &envelope); err == nil {
			out = append(out, envelope.Type)
		}
	}
	return out
}

func (c *scriptConn) waitForEvent(t *testing.T, eventType string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, typ := range c.eventTypes() {
			if typ == eventType {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; saw %v", eventType, c.eventTypes())
}

func (c *scriptConn) countEvent(eventType string) int {
	n := 0
	for _, typ := range c.eventTypes() {
		if typ == eventType {
			n++
		}
	}
	return n
}

type stubReplier struct {
	reply string
	err   error
}

func (r stubReplier) Chat(ctx context.Context, messages []turn.Message, opts turn.ChatOptions) (string, error) {
	return r.reply, r.err
}

const frameBytes = 640 // 20ms at 16kHz mono 16-bit

func loudFrame() []byte {
	frame := make([]byte, frameBytes)
	for i := 0; i < len(frame); i += 2 {
		frame[i] = 0x00
		frame[i+1] = 0x20 // sample 0x2000, well above the energy threshold
	}
	return frame
}

func silentFrame() []byte { return make([]byte, frameBytes) }

type sessionFixture struct {
	conn  *scriptConn
	store *memory.Store
	audio *fakeAudioStore
	mock  *speech.Mock
	sess  *Session
	done  chan struct{}
}

func newSessionFixture(t *testing.T, mock *speech.Mock) *sessionFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	childID := int64(7)
	store.AddDevice(
		turn.Device{ID: 1, DeviceSN: "SN-001", BoundChildID: &childID, ToyName: "小悠"},
		turn.Child{ID: childID, Name: "明明", Age: 5},
	)
	audioStore := newFakeAudioStore()

	pipeline, err := turn.NewPipeline(turn.Config{}, turn.Dependencies{
		Store:  store,
		Audio:  audioStore,
		Speech: mock,
		Reply:  stubReplier{reply: "你好呀，今天过得开心吗？"},
		Safety: safety.NewChecker(),
		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := newScriptConn()
	sess, err := New(Config{
		DeviceSN: "SN-001",
		Detector: endpoint.DefaultConfig(),
	}, Dependencies{
		Conn:     conn,
		Pipeline: pipeline,
		Speech:   mock,
		Store:    store,
		Audio:    audioStore,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	f := &sessionFixture{
		conn:  conn,
		store: store,
		audio: audioStore,
		mock:  mock,
		sess:  sess,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		sess.Run(context.Background())
	}()
	t.Cleanup(func() {
		close(conn.inbound)
		select {
		case <-f.done:
		case <-time.After(3 * time.Second):
			t.Error("session did not stop")
		}
	})
	return f
}

func (f *sessionFixture) speakUtterance() {
	for i := 0; i < 5; i++ {
		f.conn.sendBinary(loudFrame())
	}
	for i := 0; i < 14; i++ {
		f.conn.sendBinary(silentFrame())
	}
}

func TestSessionFullTurn(t *testing.T) {
	mock := &speech.Mock{Transcript: "你好", Chunks: [][]byte{{1, 2}, {3, 4}}}
	f := newSessionFixture(t, mock)

	f.conn.waitForEvent(t, "ready")
	f.speakUtterance()

	f.conn.waitForEvent(t, "speech_start")
	f.conn.waitForEvent(t, "speech_end")
	f.conn.waitForEvent(t, "turn_started")
	f.conn.waitForEvent(t, "tts_end")

	types := f.conn.eventTypes()
	if types[0] != "ready" {
		t.Errorf("first event = %q", types[0])
	}

	// one binary frame forwarded per TTS chunk
	binary := 0
	for _, m := range f.conn.snapshot() {
		if m.messageType == websocket.BinaryMessage {
			binary++
		}
	}
	if binary != 2 {
		t.Errorf("forwarded %d pcm frames", binary)
	}

	row, ok := f.store.Turn(1)
	if !ok {
		t.Fatal("no turn persisted")
	}
	if row.UserText != "你好" {
		t.Errorf("user text = %q", row.UserText)
	}
	if row.PlaybackStatus != turn.PlaybackCompleted {
		t.Errorf("status = %q", row.PlaybackStatus)
	}
	if _, ok := f.audio.object(row.UserAudioPath); !ok {
		t.Error("user audio not uploaded")
	}
	if _, ok := f.audio.object(row.ReplyAudioPath); !ok {
		t.Error("reply audio not uploaded")
	}
}

func TestSessionPingPong(t *testing.T) {
	f := newSessionFixture(t, &speech.Mock{Transcript: "你好"})

	f.conn.waitForEvent(t, "ready")
	f.conn.sendText("ping")
	f.conn.waitForEvent(t, "pong")
	f.conn.sendText(`{"type":"ping"}`)

	deadline := time.Now().Add(3 * time.Second)
	for f.conn.countEvent("pong") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.conn.countEvent("pong"); got != 2 {
		t.Errorf("pongs = %d", got)
	}
}

func TestSessionIgnoresMalformedControl(t *testing.T) {
	f := newSessionFixture(t, &speech.Mock{Transcript: "你好"})

	f.conn.waitForEvent(t, "ready")
	f.conn.sendText("self_destruct")
	f.conn.sendText(`{"type":`)
	f.conn.sendText("ping")

	f.conn.waitForEvent(t, "pong")
	if f.conn.countEvent("error") != 0 {
		t.Error("malformed control produced an error event")
	}
}

func TestSessionBargeInInterruptsPlayback(t *testing.T) {
	mock := &speech.Mock{
		Transcript: "讲个故事",
		Chunks:     [][]byte{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}},
		ChunkDelay: 20 * time.Millisecond,
	}
	f := newSessionFixture(t, mock)

	f.conn.waitForEvent(t, "ready")
	f.speakUtterance()
	f.conn.waitForEvent(t, "tts_start")

	// speak again over the reply
	for i := 0; i < 5; i++ {
		f.conn.sendBinary(loudFrame())
	}

	f.conn.waitForEvent(t, "interrupt_requested")
	f.conn.waitForEvent(t, "tts_paused")
	if got := f.conn.countEvent("speech_start"); got < 2 {
		t.Errorf("speech_start events = %d", got)
	}
}

func TestSessionStopAndResume(t *testing.T) {
	mock := &speech.Mock{
		Transcript: "讲个故事",
		Chunks:     [][]byte{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}},
		ChunkDelay: 20 * time.Millisecond,
	}
	f := newSessionFixture(t, mock)

	f.conn.waitForEvent(t, "ready")
	f.speakUtterance()
	f.conn.waitForEvent(t, "tts_start")

	f.conn.sendText("stop")
	f.conn.waitForEvent(t, "tts_paused")

	f.conn.sendText("resume")
	f.conn.waitForEvent(t, "resume_started")
	f.conn.waitForEvent(t, "turn_end")
	f.conn.waitForEvent(t, "tts_end")

	row, ok := f.store.Turn(1)
	if !ok {
		t.Fatal("no turn persisted")
	}
	if row.PlaybackStatus != turn.PlaybackCompleted {
		t.Errorf("status = %q", row.PlaybackStatus)
	}
	if row.ResumeCount != 1 {
		t.Errorf("resume_count = %d", row.ResumeCount)
	}
}
