// Package endpoint detects utterance boundaries in a continuous PCM stream
// using a per-frame speech classifier plus hysteresis counters.
package endpoint

import (
	"github.com/lumetoys/lumivoice/pkg/core/audio"
)

// Classifier decides whether a single fixed-size PCM frame contains speech.
type Classifier interface {
	IsSpeech(frame []byte) bool
}

// EnergyClassifier classifies frames by RMS energy against a threshold.
type EnergyClassifier struct {
	Threshold float64
}

// IsSpeech reports whether the frame's RMS energy exceeds the threshold.
func (c EnergyClassifier) IsSpeech(frame []byte) bool {
	return audio.RMSEnergy(frame) >= c.Threshold
}

// Config tunes the detector. Zero values take defaults.
type Config struct {
	SampleRate             int
	FrameMs                int
	SpeechStartFrames      int
	SpeechEndSilenceFrames int
	MaxUtteranceMs         int
	EnergyThreshold        float64
}

// DefaultConfig returns the production tuning: 20ms frames at 16 kHz,
// speech confirmed after 3 frames, end-pointed after 240ms of silence,
// utterances hard-capped at 15s.
func DefaultConfig() Config {
	return Config{
		SampleRate:             16000,
		FrameMs:                20,
		SpeechStartFrames:      3,
		SpeechEndSilenceFrames: 12,
		MaxUtteranceMs:         15000,
		EnergyThreshold:        0.015,
	}
}

// Detector classifies a continuous PCM stream into utterances. It is
// stateful and not safe for concurrent use; each connection owns one.
type Detector struct {
	cfg        Config
	classifier Classifier

	frameBytes int
	pending    []byte

	inSpeech   bool
	speechRun  int
	silenceRun int
	utterMs    int
}

// New creates a detector. A nil classifier gets the energy classifier
// with the configured threshold.
func New(cfg Config, classifier Classifier) *Detector {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = def.FrameMs
	}
	if cfg.SpeechStartFrames <= 0 {
		cfg.SpeechStartFrames = def.SpeechStartFrames
	}
	if cfg.SpeechEndSilenceFrames <= 0 {
		cfg.SpeechEndSilenceFrames = def.SpeechEndSilenceFrames
	}
	if cfg.MaxUtteranceMs <= 0 {
		cfg.MaxUtteranceMs = def.MaxUtteranceMs
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if classifier == nil {
		classifier = EnergyClassifier{Threshold: cfg.EnergyThreshold}
	}
	return &Detector{
		cfg:        cfg,
		classifier: classifier,
		frameBytes: cfg.SampleRate * cfg.FrameMs / 1000 * 2,
	}
}

// Process consumes a PCM chunk of any length and returns edge flags.
// Partial frames are buffered across calls; each edge fires at most once
// per call even when the chunk spans several frames.
func (d *Detector) Process(chunk []byte) (speechStart, speechEnd bool) {
	d.pending = append(d.pending, chunk...)

	for len(d.pending) >= d.frameBytes {
		frame := d.pending[:d.frameBytes]
		d.pending = d.pending[d.frameBytes:]

		start, end := d.processFrame(frame)
		speechStart = speechStart || start
		speechEnd = speechEnd || end
	}
	return speechStart, speechEnd
}

func (d *Detector) processFrame(frame []byte) (start, end bool) {
	isSpeech := d.classifier.IsSpeech(frame)

	if !d.inSpeech {
		if isSpeech {
			d.speechRun++
		} else {
			d.speechRun = 0
		}
		if d.speechRun >= d.cfg.SpeechStartFrames {
			d.inSpeech = true
			d.speechRun = 0
			d.silenceRun = 0
			d.utterMs = 0
			return true, false
		}
		return false, false
	}

	// Duration accrues on every frame while in speech, silence included,
	// so a noisy feed cannot hold an utterance open forever.
	d.utterMs += d.cfg.FrameMs
	if isSpeech {
		d.silenceRun = 0
	} else {
		d.silenceRun++
	}

	if d.silenceRun >= d.cfg.SpeechEndSilenceFrames || d.utterMs >= d.cfg.MaxUtteranceMs {
		d.inSpeech = false
		d.speechRun = 0
		d.silenceRun = 0
		d.utterMs = 0
		return false, true
	}
	return false, false
}

// InSpeech reports whether the detector is currently inside an utterance.
func (d *Detector) InSpeech() bool { return d.inSpeech }

// FrameBytes returns the fixed frame size in bytes.
func (d *Detector) FrameBytes() int { return d.frameBytes }

// Reset clears all detector state, including any buffered partial frame.
func (d *Detector) Reset() {
	d.pending = d.pending[:0]
	d.inSpeech = false
	d.speechRun = 0
	d.silenceRun = 0
	d.utterMs = 0
}
