// Package segment splits generated reply text into bounded chunks suitable
// for low-latency streaming synthesis. Segmentation is deterministic and
// stateless: the same input always yields the same segments.
package segment

import (
	"strings"
)

const (
	// DefaultMaxChars bounds segment length; longer clauses are soft-split
	// before punctuation and hard-split as a last resort.
	DefaultMaxChars = 80
	// DefaultMinChars is the merge threshold: shorter segments are folded
	// into their predecessor rather than dropped.
	DefaultMinChars = 10
)

// sentence-terminal punctuation, ASCII and CJK
const terminals = "。！？!?.\n"

func isTerminal(r rune) bool {
	return strings.ContainsRune(terminals, r)
}

// Default segments text with the production limits.
func Default(text string) []string {
	return Segment(text, DefaultMaxChars, DefaultMinChars)
}

// Segment splits text into TTS-sized chunks: whitespace is normalized,
// clauses are cut at sentence-terminal punctuation (keeping the punctuation
// with its clause), over-long clauses are soft-split at maxChars, segments
// shorter than minChars merge into the previous one, and anything still
// exceeding maxChars is hard-split into fixed-size rune chunks. Empty input
// yields nil. Limits are rune counts, so CJK text is bounded correctly.
func Segment(text string, maxChars, minChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if minChars < 0 {
		minChars = 0
	}

	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}

	var parts []string
	var buf []rune
	flush := func() {
		p := strings.TrimSpace(string(buf))
		if p != "" {
			parts = append(parts, p)
		}
		buf = buf[:0]
	}

	runes := []rune(normalized)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isTerminal(r) {
			// Keep the whole punctuation run with its clause.
			buf = append(buf, r)
			for i+1 < len(runes) && isTerminal(runes[i+1]) {
				i++
				buf = append(buf, runes[i])
			}
			flush()
			continue
		}
		buf = append(buf, r)
		if len(buf) >= maxChars {
			flush()
		}
	}
	flush()

	// Fold short segments into their predecessor; content is never dropped.
	var merged []string
	for _, p := range parts {
		if len(merged) > 0 && len([]rune(p)) < minChars {
			merged[len(merged)-1] = strings.TrimSpace(merged[len(merged)-1] + " " + p)
		} else {
			merged = append(merged, p)
		}
	}

	// Merging may have pushed a segment back over the limit.
	var final []string
	for _, seg := range merged {
		rs := []rune(seg)
		if len(rs) <= maxChars {
			final = append(final, seg)
			continue
		}
		for i := 0; i < len(rs); i += maxChars {
			end := i + maxChars
			if end > len(rs) {
				end = len(rs)
			}
			chunk := strings.TrimSpace(string(rs[i:end]))
			if chunk != "" {
				final = append(final, chunk)
			}
		}
	}
	return final
}
