// Package protocol defines the voice websocket wire format. Binary frames
// carry raw PCM in both directions; text frames carry control words inbound
// and typed JSON events outbound.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Control operations a device may send as text frames. Bare words and JSON
// envelopes ({"type":"stop"}) are both accepted.
const (
	ControlPing   = "ping"
	ControlStop   = "stop"
	ControlResume = "resume"
)

// Control is one decoded inbound text frame.
type Control struct {
	Op string
}

// DecodeError reports a malformed control frame. Callers log and ignore
// these; a bad frame never tears down the connection.
type DecodeError struct {
	Message string
	Raw     string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Raw == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %q", e.Message, e.Raw)
}

func badFrame(message, raw string) *DecodeError {
	if len(raw) > 64 {
		raw = raw[:64]
	}
	return &DecodeError{Message: message, Raw: raw}
}

// DecodeControl parses an inbound text frame into a control operation.
func DecodeControl(data []byte) (Control, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Control{}, badFrame("empty control frame", "")
	}

	op := text
	if strings.HasPrefix(text, "{") {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return Control{}, badFrame("invalid json control frame", text)
		}
		op = strings.TrimSpace(envelope.Type)
		if op == "" {
			return Control{}, badFrame("missing control type", text)
		}
	}

	switch op {
	case ControlPing, ControlStop, ControlResume:
		return Control{Op: op}, nil
	default:
		return Control{}, badFrame("unsupported control operation", op)
	}
}

// Outbound event types.
const (
	TypeReady              = "ready"
	TypePong               = "pong"
	TypeSpeechStart        = "speech_start"
	TypeSpeechEnd          = "speech_end"
	TypeTurnStarted        = "turn_started"
	TypeTTSStart           = "tts_start"
	TypeTTSPaused          = "tts_paused"
	TypeResumeStarted      = "resume_started"
	TypeTurnEnd            = "turn_end"
	TypeTTSEnd             = "tts_end"
	TypeInterruptRequested = "interrupt_requested"
	TypeResumeRejected     = "resume_rejected"
	TypeError              = "error"
)

// Resume rejection reasons.
const (
	RejectNoPending       = "no_pending"
	RejectAlreadySpeaking = "already_speaking"
)

// Ready greets the device after the upgrade completes.
type Ready struct {
	Type     string `json:"type"`
	DeviceSN string `json:"device_sn"`
}

// Pong answers an application-level ping.
type Pong struct {
	Type string `json:"type"`
}

// SpeechStart marks the detector's onset edge.
type SpeechStart struct {
	Type string `json:"type"`
}

// SpeechEnd marks the detector's end-of-utterance edge.
type SpeechEnd struct {
	Type string `json:"type"`
}

// TurnStarted announces a freshly prepared turn before audio flows.
type TurnStarted struct {
	Type           string `json:"type"`
	TurnID         int64  `json:"turn_id"`
	SessionID      int64  `json:"session_id"`
	Seq            int    `json:"seq"`
	UserText       string `json:"user_text"`
	ReplyText      string `json:"reply_text"`
	ReplyAudioPath string `json:"reply_audio_path"`
}

// TTSStart precedes the first PCM frame of a playback run.
type TTSStart struct {
	Type   string `json:"type"`
	TurnID int64  `json:"turn_id"`
}

// TTSPaused reports an interrupted playback that can be resumed.
type TTSPaused struct {
	Type      string `json:"type"`
	TurnID    int64  `json:"turn_id"`
	SegIdx    int    `json:"seg_idx"`
	CanResume bool   `json:"can_resume"`
}

// ResumeStarted announces playback picking up at a segment boundary.
type ResumeStarted struct {
	Type   string `json:"type"`
	TurnID int64  `json:"turn_id"`
	SegIdx int    `json:"seg_idx"`
}

// TurnEnd closes a completed turn with its playback metrics.
type TurnEnd struct {
	Type           string         `json:"type"`
	TurnID         int64          `json:"turn_id"`
	SessionID      int64          `json:"session_id"`
	Seq            int            `json:"seq"`
	ReplyText      string         `json:"reply_text"`
	ReplyAudioPath string         `json:"reply_audio_path"`
	Metrics        map[string]any `json:"metrics,omitempty"`
}

// TTSEnd marks the end of audio for a completed turn.
type TTSEnd struct {
	Type   string `json:"type"`
	TurnID int64  `json:"turn_id"`
}

// InterruptRequested acknowledges a stop or barge-in.
type InterruptRequested struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	TurnID int64  `json:"turn_id,omitempty"`
}

// ResumeRejected explains why a resume request was refused.
type ResumeRejected struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorEvent reports a turn failure without closing the connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Marshal encodes an outbound event, panicking on unmarshalable payloads;
// all event types here are plain data.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return data
}
