package turn

import (
	"context"
)

// Message is one entry of the bounded conversation context sent to the
// reply capability.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ChatOptions tune a single reply generation call.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Speech is the ASR/TTS vendor capability.
type Speech interface {
	// ASR transcribes a WAV utterance. Vendor or format failures come
	// back as core speech errors.
	ASR(ctx context.Context, wav []byte) (string, error)
	// TTSStream synthesizes text into PCM chunks. The stream is finite
	// and not restartable; callers re-invoke per segment. Closing happens
	// by draining: the audio channel closes when synthesis finishes or
	// cancel fires, then the error channel reports at most one failure.
	TTSStream(ctx context.Context, text string, cancel <-chan struct{}) (<-chan []byte, <-chan error)
}

// Replier generates the assistant reply from a bounded context.
type Replier interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// Violation names the rule or topic a safety check tripped on.
type Violation struct {
	Reason string
}

// Safety screens text before and after reply generation. A nil result
// means the text passed.
type Safety interface {
	CheckInput(text string, extraTopics []string) *Violation
	CheckOutput(text string, extraTopics []string) *Violation
	// Sanitize replaces the reply wholesale when it contains a forbidden
	// keyword (child list plus baseline). Independent of CheckOutput.
	Sanitize(text string, extraTopics []string) (string, bool)
}

// RuntimeUpdate mutates the live playback fields of a persisted Turn.
type RuntimeUpdate struct {
	PlaybackStatus string
	ResumeCount    *int
	AuditAction    *string
	Metrics        map[string]any
}

// Store is the persistence contract for devices, sessions and turns. It
// must be safe under concurrent use across connections.
type Store interface {
	ResolveDevice(ctx context.Context, deviceSN string) (Device, Child, error)
	TouchDeviceSeen(ctx context.Context, deviceID int64) error
	// ActiveSession returns the child's open session, creating one if none.
	ActiveSession(ctx context.Context, childID int64) (ChatSession, error)
	SetSessionTitle(ctx context.Context, sessionID int64, title string) error
	NextSeq(ctx context.Context, sessionID int64) (int, error)
	CreateTurn(ctx context.Context, t *Turn) (int64, error)
	UpdateRuntime(ctx context.Context, turnID int64, upd RuntimeUpdate) error
	// FinalizeAudio marks the turn's reply audio as uploaded and applies a
	// terminal (or checkpoint) status with metrics.
	FinalizeAudio(ctx context.Context, turnID int64, status string, metrics map[string]any) error
	RecentTurns(ctx context.Context, sessionID int64, n int) ([]Turn, error)
}

// AudioStore is the object storage contract for audio blobs.
type AudioStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	BuildURL(key string) string
}
