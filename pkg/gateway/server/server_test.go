package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumetoys/lumivoice/pkg/core/safety"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/config"
	"github.com/lumetoys/lumivoice/pkg/speech"
	"github.com/lumetoys/lumivoice/pkg/store/memory"
	"github.com/lumetoys/lumivoice/pkg/store/s3"
)

type stubReplier struct{ reply string }

func (r stubReplier) Chat(ctx context.Context, messages []turn.Message, opts turn.ChatOptions) (string, error) {
	return r.reply, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	childID := int64(7)
	store.AddDevice(
		turn.Device{ID: 1, DeviceSN: "SN-001", BoundChildID: &childID, ToyName: "小悠"},
		turn.Child{ID: childID, Name: "明明", Age: 5},
	)

	audioStore, err := s3.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mock := &speech.Mock{Transcript: "你好", Chunks: [][]byte{{1, 2}, {3, 4}}}

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

	srv := New(config.Config{Addr: ":0"}, Dependencies{
		Pipeline: pipeline,
		Speech:   mock,
		Store:    store,
		Audio:    audioStore,
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("no request id header")
	}
}

func TestVoiceEndpointRequiresWebSocket(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws/voice/SN-001")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestVoiceEndpointFullTurn(t *testing.T) {
	ts, store := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/voice/SN-001"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame := make([]byte, 640)
	for i := 0; i < len(frame); i += 2 {
		frame[i+1] = 0x20
	}
	for i := 0; i < 5; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatal(err)
		}
	}
	silence := make([]byte, 640)
	for i := 0; i < 14; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, silence); err != nil {
			t.Fatal(err)
		}
	}

	var events []string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (events so far: %v)", err, events)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		events = append(events, envelope.Type)
		if envelope.Type == "tts_end" {
			break
		}
	}

	want := []string{"ready", "speech_start", "speech_end", "turn_started", "tts_start", "turn_end", "tts_end"}
	for i, typ := range want {
		if i >= len(events) || events[i] != typ {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}

	row, ok := store.Turn(1)
	if !ok {
		t.Fatal("no turn persisted")
	}
	if row.PlaybackStatus != turn.PlaybackCompleted {
		t.Errorf("status = %q", row.PlaybackStatus)
	}
}
