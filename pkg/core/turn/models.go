// Package turn holds the conversation domain model and the turn pipeline:
// one finalized utterance in, one persisted Turn with a generated reply out.
package turn

import (
	"time"
)

// Playback status values for a Turn. pending, speaking and interrupted are
// live states; completed and error are terminal.
const (
	PlaybackPending     = "pending"
	PlaybackSpeaking    = "speaking"
	PlaybackInterrupted = "interrupted"
	PlaybackCompleted   = "completed"
	PlaybackError       = "error"
)

// Audit actions recorded on a Turn.
const (
	AuditAllow       = "allow"
	AuditBlockInput  = "block_input"
	AuditBlockOutput = "block_output"
)

// Risk sources. Empty means no risk was flagged.
const (
	RiskSourceInput  = "input"
	RiskSourceOutput = "output"
)

// Device is a physical toy unit.
type Device struct {
	ID           int64
	DeviceSN     string
	BoundChildID *int64
	ToyName      string
	ToyPersona   string
	LastSeenAt   time.Time
}

// Child is the profile a device is bound to.
type Child struct {
	ID              int64
	Name            string
	Age             int
	Gender          string
	Interests       []string
	ForbiddenTopics []string
}

// ChatSession groups an ordered run of Turns for one child.
type ChatSession struct {
	ID        int64
	ChildID   int64
	Title     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Turn is one exchange: the child's utterance and the generated reply.
type Turn struct {
	ID             int64
	SessionID      int64
	DeviceID       int64
	Seq            int
	UserText       string
	ReplyText      string
	UserAudioPath  string
	ReplyAudioPath string
	RiskFlag       bool
	RiskSource     string
	RiskReason     string
	PlaybackStatus string
	ResumeCount    int
	PolicyVersion  string
	AuditAction    string
	Metrics        map[string]any
	CreatedAt      time.Time
}

// Draft is the pipeline result handed to playback: everything needed to
// build a playback context for the freshly persisted Turn.
type Draft struct {
	TurnID         int64
	SessionID      int64
	ChildID        int64
	Seq            int
	UserText       string
	ReplyText      string
	UserAudioPath  string
	ReplyAudioPath string
	RiskSource     string
	RiskReason     string
	AuditAction    string
	PolicyVersion  string
}
