package endpoint

import (
	"testing"
)

// scriptClassifier returns a scripted speech/silence decision per frame.
type scriptClassifier struct {
	script []bool
	pos    int
}

func (c *scriptClassifier) IsSpeech([]byte) bool {
	if c.pos >= len(c.script) {
		return false
	}
	v := c.script[c.pos]
	c.pos++
	return v
}

func newScripted(t *testing.T, cfg Config, script []bool) *Detector {
	t.Helper()
	return New(cfg, &scriptClassifier{script: script})
}

func frames(n int, frameBytes int) []byte {
	return make([]byte, n*frameBytes)
}

func TestSpeechStartOnThirdConsecutiveSpeechFrame(t *testing.T) {
	// silence, silence, speech, speech, speech -> start fires on frame 5.
	d := newScripted(t, Config{}, []bool{false, false, true, true, true})
	fb := d.FrameBytes()

	for i := 0; i < 4; i++ {
		start, end := d.Process(frames(1, fb))
		if start || end {
			t.Fatalf("frame %d: unexpected edge (start=%v end=%v)", i+1, start, end)
		}
	}
	start, end := d.Process(frames(1, fb))
	if !start || end {
		t.Fatalf("frame 5: want start only, got start=%v end=%v", start, end)
	}
	if !d.InSpeech() {
		t.Error("detector should be in speech after start edge")
	}
}

func TestSpeechEndAfterSilenceRun(t *testing.T) {
	script := []bool{true, true, true} // start
	for i := 0; i < 12; i++ {
		script = append(script, false)
	}
	d := newScripted(t, Config{}, script)
	fb := d.FrameBytes()

	start, _ := d.Process(frames(3, fb))
	if !start {
		t.Fatal("expected start edge")
	}

	var ends int
	for i := 0; i < 12; i++ {
		_, end := d.Process(frames(1, fb))
		if end {
			ends++
			if i != 11 {
				t.Fatalf("end fired on silence frame %d, want 12th", i+1)
			}
		}
	}
	if ends != 1 {
		t.Fatalf("end fired %d times, want exactly once", ends)
	}
	if d.InSpeech() {
		t.Error("detector should be out of speech after end edge")
	}
}

func TestForcedEndAtMaxUtteranceDuration(t *testing.T) {
	// Continuous speech with zero silence must still end at the cap.
	script := make([]bool, 2000)
	for i := range script {
		script[i] = true
	}
	cfg := Config{MaxUtteranceMs: 200} // 10 frames at 20ms
	d := newScripted(t, cfg, script)
	fb := d.FrameBytes()

	if start, _ := d.Process(frames(3, fb)); !start {
		t.Fatal("expected start edge")
	}
	for i := 0; i < 9; i++ {
		if _, end := d.Process(frames(1, fb)); end {
			t.Fatalf("end fired early on frame %d", i+1)
		}
	}
	if _, end := d.Process(frames(1, fb)); !end {
		t.Fatal("expected forced end at duration ceiling")
	}
}

func TestEdgesAtMostOncePerCall(t *testing.T) {
	// One big chunk containing a full start+end cycle and the start of a
	// second utterance: each flag may be reported once for the call.
	script := []bool{true, true, true}
	for i := 0; i < 12; i++ {
		script = append(script, false)
	}
	script = append(script, true, true, true)
	d := newScripted(t, Config{}, script)
	fb := d.FrameBytes()

	start, end := d.Process(frames(len(script), fb))
	if !start || !end {
		t.Fatalf("want both edges reported, got start=%v end=%v", start, end)
	}
	if !d.InSpeech() {
		t.Error("second utterance should have started inside the same call")
	}
}

func TestPartialFramesBufferedAcrossCalls(t *testing.T) {
	d := newScripted(t, Config{}, []bool{true, true, true})
	fb := d.FrameBytes()

	// Deliver 3 frames in ragged chunks: nothing may fire until the third
	// full frame is complete.
	raw := frames(3, fb)
	var fired bool
	for i := 0; i < len(raw); i += 100 {
		end := i + 100
		if end > len(raw) {
			end = len(raw)
		}
		start, _ := d.Process(raw[i:end])
		if start {
			fired = true
			if end < 3*fb {
				t.Fatalf("start fired before third frame completed (at byte %d)", end)
			}
		}
	}
	if !fired {
		t.Fatal("start never fired")
	}
}

func TestBrokenSpeechRunDoesNotStart(t *testing.T) {
	d := newScripted(t, Config{}, []bool{true, true, false, true, true, false})
	fb := d.FrameBytes()
	start, _ := d.Process(frames(6, fb))
	if start {
		t.Error("interrupted speech runs must not trigger a start edge")
	}
}

func TestEnergyClassifier(t *testing.T) {
	c := EnergyClassifier{Threshold: 0.015}
	silence := make([]byte, 640)
	if c.IsSpeech(silence) {
		t.Error("all-zero frame classified as speech")
	}

	loud := make([]byte, 640)
	for i := 0; i+1 < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x20 // 8192, ~0.25 normalized
	}
	if !c.IsSpeech(loud) {
		t.Error("loud frame classified as silence")
	}
}

func TestReset(t *testing.T) {
	d := newScripted(t, Config{}, []bool{true, true, true})
	fb := d.FrameBytes()
	d.Process(frames(2, fb))
	d.Process(make([]byte, fb/2)) // leave a partial frame pending
	d.Reset()
	if d.InSpeech() {
		t.Error("reset should clear speech state")
	}
	if start, _ := d.Process(frames(1, fb)); start {
		t.Error("reset should clear the speech run counter")
	}
}
