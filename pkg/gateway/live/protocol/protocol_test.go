package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeControlBareWords(t *testing.T) {
	for _, op := range []string{"ping", "stop", "resume"} {
		c, err := DecodeControl([]byte(op))
		if err != nil {
			t.Fatalf("decode %q: %v", op, err)
		}
		if c.Op != op {
			t.Errorf("decode %q: got op %q", op, c.Op)
		}
	}
}

func TestDecodeControlJSONEnvelope(t *testing.T) {
	c, err := DecodeControl([]byte(`{"type":"stop"}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Op != ControlStop {
		t.Errorf("op = %q", c.Op)
	}
}

func TestDecodeControlTrimsWhitespace(t *testing.T) {
	c, err := DecodeControl([]byte("  ping\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Op != ControlPing {
		t.Errorf("op = %q", c.Op)
	}
}

func TestDecodeControlMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"shutdown",
		`{"type":"launch_missiles"}`,
		`{"type":""}`,
		`{broken`,
	}
	for _, raw := range cases {
		if _, err := DecodeControl([]byte(raw)); err == nil {
			t.Errorf("decode %q: expected error", raw)
		}
	}
}

func TestDecodeErrorTruncatesRaw(t *testing.T) {
	_, err := DecodeControl([]byte(strings.Repeat("x", 300)))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 120 {
		t.Errorf("error message too long: %d bytes", len(err.Error()))
	}
}

func TestMarshalEventShapes(t *testing.T) {
	data := Marshal(TTSPaused{Type: TypeTTSPaused, TurnID: 9, SegIdx: 2, CanResume: true})

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "tts_paused" {
		t.Errorf("type = %v", got["type"])
	}
	if got["seg_idx"] != float64(2) {
		t.Errorf("seg_idx = %v", got["seg_idx"])
	}
	if got["can_resume"] != true {
		t.Errorf("can_resume = %v", got["can_resume"])
	}
}

func TestMarshalTurnEndOmitsEmptyMetrics(t *testing.T) {
	data := Marshal(TurnEnd{Type: TypeTurnEnd, TurnID: 1, SessionID: 2, Seq: 1})
	if strings.Contains(string(data), "metrics") {
		t.Errorf("empty metrics serialized: %s", data)
	}
}
