package core

import (
	"errors"
	"fmt"
)

// Error is the tagged error type used across the voice pipeline.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Reason  string    `json:"reason,omitempty"`
	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (reason: %s)", e.Type, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes pipeline errors.
type ErrorType string

const (
	// ErrAudioFormat marks malformed or incompatible input audio. Aborts
	// the current utterance only.
	ErrAudioFormat ErrorType = "audio_format"
	// ErrSpeech marks a transient ASR/TTS vendor failure. Aborts the
	// current turn or playback segment; the connection stays open.
	ErrSpeech ErrorType = "speech"
	// ErrSafetyViolation is a control-flow signal, not a failure: the
	// pipeline switches to the safe-redirect branch and never surfaces it
	// raw to the client.
	ErrSafetyViolation ErrorType = "safety_violation"
	// ErrPersistence marks a store write failure. Logged; aborts the flow
	// only where a write is required before proceeding (turn creation).
	ErrPersistence ErrorType = "persistence"
	// ErrProtocol marks a malformed control frame. Logged and ignored.
	ErrProtocol ErrorType = "protocol"
	// ErrDeviceNotBound marks a device with no bound child profile.
	ErrDeviceNotBound ErrorType = "device_not_bound"
)

// NewAudioFormatError creates an audio format error.
func NewAudioFormatError(message string) *Error {
	return &Error{Type: ErrAudioFormat, Message: message}
}

// NewSpeechError wraps a vendor failure from the speech capability.
func NewSpeechError(message string, err error) *Error {
	return &Error{Type: ErrSpeech, Message: message, wrapped: err}
}

// NewSafetyViolation creates the control-flow signal for a blocked text,
// with the matched topic or rule as reason.
func NewSafetyViolation(reason string) *Error {
	return &Error{Type: ErrSafetyViolation, Message: "content blocked", Reason: reason}
}

// NewPersistenceError wraps a store write failure.
func NewPersistenceError(message string, err error) *Error {
	return &Error{Type: ErrPersistence, Message: message, wrapped: err}
}

// NewProtocolError creates a malformed control frame error.
func NewProtocolError(message string) *Error {
	return &Error{Type: ErrProtocol, Message: message}
}

// NewDeviceNotBoundError creates an unbound device error.
func NewDeviceNotBoundError(deviceSN string) *Error {
	return &Error{Type: ErrDeviceNotBound, Message: fmt.Sprintf("device %s has no bound child", deviceSN)}
}

// IsType reports whether err is a pipeline *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.wrapped
}
