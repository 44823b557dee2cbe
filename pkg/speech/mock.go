package speech

import (
	"context"
	"sync"
	"time"

	"github.com/lumetoys/lumivoice/pkg/core"
)

// Mock is an in-process speech capability for tests and local development.
// Each TTS segment yields the configured chunk script; the chunk delay
// makes cancellation windows deterministic in tests.
type Mock struct {
	mu sync.Mutex

	Transcript string
	ASRErr     error
	// Chunks are emitted per segment. Empty means one 320-byte chunk.
	Chunks [][]byte
	// ChunkDelay is slept before each chunk, observing cancel/ctx.
	ChunkDelay time.Duration
	// TTSErr, when set, is reported after the first chunk.
	TTSErr error

	asrCalls []string
	ttsCalls []string
}

// ASR returns the configured transcript.
func (m *Mock) ASR(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	m.asrCalls = append(m.asrCalls, m.Transcript)
	m.mu.Unlock()
	if m.ASRErr != nil {
		return "", m.ASRErr
	}
	return m.Transcript, nil
}

// TTSStream replays the chunk script for one segment.
func (m *Mock) TTSStream(ctx context.Context, text string, cancel <-chan struct{}) (<-chan []byte, <-chan error) {
	m.mu.Lock()
	m.ttsCalls = append(m.ttsCalls, text)
	chunks := m.Chunks
	m.mu.Unlock()

	if len(chunks) == 0 {
		chunks = [][]byte{make([]byte, 320)}
	}

	out := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		for i, chunk := range chunks {
			if m.ChunkDelay > 0 {
				select {
				case <-time.After(m.ChunkDelay):
				case <-cancel:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- chunk:
			case <-cancel:
				return
			case <-ctx.Done():
				return
			}
			if i == 0 && m.TTSErr != nil {
				errs <- core.NewSpeechError("mock tts failure", m.TTSErr)
				return
			}
		}
	}()

	return out, errs
}

// TTSCalls returns the texts synthesized so far.
func (m *Mock) TTSCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ttsCalls))
	copy(out, m.ttsCalls)
	return out
}
