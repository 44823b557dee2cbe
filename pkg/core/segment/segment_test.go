package segment

import (
	"strings"
	"testing"
)

func TestEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		if got := Default(in); got != nil {
			t.Errorf("Default(%q) = %v, want nil", in, got)
		}
	}
}

func TestSentenceSplit(t *testing.T) {
	got := Segment("你好呀小朋友。今天想听什么故事呢？我们开始吧！", 80, 2)
	want := []string{"你好呀小朋友。", "今天想听什么故事呢？", "我们开始吧！"}
	if len(got) != len(want) {
		t.Fatalf("got %d segments %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPunctuationStaysWithClause(t *testing.T) {
	got := Segment("Hello there!? Are you ok.", 80, 2)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if !strings.HasSuffix(got[0], "!?") {
		t.Errorf("punctuation run split from clause: %q", got[0])
	}
}

func TestShortSegmentsMergeIntoPrevious(t *testing.T) {
	got := Segment("这是一个足够长的完整句子哦。好的。", 80, 10)
	if len(got) != 1 {
		t.Fatalf("got %v, want single merged segment", got)
	}
	if !strings.Contains(got[0], "好的。") {
		t.Errorf("short tail was dropped: %q", got[0])
	}
}

func TestSoftSplitAtMaxChars(t *testing.T) {
	long := strings.Repeat("字", 200)
	got := Segment(long, 80, 10)
	if len(got) != 3 {
		t.Fatalf("got %d segments, want 3: %v", len(got), got)
	}
	for i, seg := range got {
		n := len([]rune(seg))
		if n > 80 {
			t.Errorf("segment %d has %d runes, over the cap", i, n)
		}
		if i < len(got)-1 && n < 10 {
			t.Errorf("interior segment %d is too short: %d runes", i, n)
		}
	}
}

func TestDeterministic(t *testing.T) {
	in := "从前有一座山。山里有一座庙！庙里有个老和尚，他在给小和尚讲故事呢？讲的是什么故事呀。" +
		strings.Repeat("很长很长的故事", 10)
	a := Default(in)
	b := Default(in)
	if len(a) != len(b) {
		t.Fatal("non-deterministic segmentation")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("segment %d differs between runs", i)
		}
	}
	// Content is preserved aside from whitespace shuffling.
	joined := strings.ReplaceAll(strings.Join(a, ""), " ", "")
	original := strings.ReplaceAll(strings.Join(strings.Fields(in), ""), " ", "")
	if joined != original {
		t.Error("segmentation dropped or altered content")
	}
}

func TestWhitespaceNormalization(t *testing.T) {
	got := Segment("hello    world.\n\nsecond   sentence here.", 80, 2)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got[0] != "hello world." {
		t.Errorf("whitespace not normalized: %q", got[0])
	}
}

func TestNoSegmentExceedsMaxAfterMerge(t *testing.T) {
	// A 79-rune clause followed by a short tail merges past the cap and
	// must be hard-split back under it.
	in := strings.Repeat("a", 79) + ". ok."
	for _, seg := range Segment(in, 80, 10) {
		if n := len([]rune(seg)); n > 80 {
			t.Errorf("segment exceeds cap after merge: %d runes", n)
		}
	}
}
