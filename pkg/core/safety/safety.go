// Package safety implements the keyword-based content screen used by the
// turn pipeline. The contract is narrow on purpose: a vendor moderation
// API can replace this implementation without touching the pipeline.
package safety

import (
	"strings"

	"github.com/lumetoys/lumivoice/pkg/core/turn"
)

// baselineKeywords always apply, independent of the per-child list.
var baselineKeywords = []string{
	"自杀",
	"杀人",
	"暴力",
	"色情",
	"毒品",
	"赌博",
}

// Checker screens text by case-insensitive substring match against the
// baseline keyword list plus any per-call extra topics.
type Checker struct {
	baseline []string
	// sanitizeFallback replaces a reply that trips the sanitize pass.
	sanitizeFallback string
}

// Option configures a Checker.
type Option func(*Checker)

// WithBaseline replaces the built-in keyword list.
func WithBaseline(keywords []string) Option {
	return func(c *Checker) {
		if len(keywords) > 0 {
			c.baseline = keywords
		}
	}
}

// WithSanitizeFallback sets the phrase substituted for a sanitized reply.
func WithSanitizeFallback(phrase string) Option {
	return func(c *Checker) {
		if phrase != "" {
			c.sanitizeFallback = phrase
		}
	}
}

// NewChecker creates a checker with the baseline keyword list.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		baseline: baselineKeywords,
		sanitizeFallback: "小悠觉得这个话题有点不安全，我们先不聊这个哦。" +
			"要不要跟小悠说说你今天遇到的开心事情，或者聊聊你喜欢的玩具、动画片、游戏？",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckInput screens the recognized child utterance.
func (c *Checker) CheckInput(text string, extraTopics []string) *turn.Violation {
	return c.match(text, extraTopics)
}

// CheckOutput screens the generated reply. Same ruleset as input today;
// kept separate so output policy can diverge.
func (c *Checker) CheckOutput(text string, extraTopics []string) *turn.Violation {
	return c.match(text, extraTopics)
}

// Sanitize replaces the whole reply with the fallback phrase when the
// reply is empty or contains any forbidden keyword. Independent of and
// additional to CheckOutput.
func (c *Checker) Sanitize(text string, extraTopics []string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || c.match(trimmed, extraTopics) != nil {
		return c.sanitizeFallback, true
	}
	return trimmed, false
}

func (c *Checker) match(text string, extraTopics []string) *turn.Violation {
	lowered := strings.ToLower(text)
	for _, kw := range c.baseline {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return &turn.Violation{Reason: kw}
		}
	}
	for _, kw := range extraTopics {
		kw = strings.TrimSpace(kw)
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return &turn.Violation{Reason: kw}
		}
	}
	return nil
}
