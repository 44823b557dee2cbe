// Package gemini implements the reply capability on the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lumetoys/lumivoice/pkg/core/turn"
)

const defaultModel = "gemini-2.0-flash"

// Replier generates replies through the Gemini API.
type Replier struct {
	client *genai.Client
	model  string
}

// New creates a Gemini replier. model may be empty to use the default.
func New(ctx context.Context, apiKey, model string) (*Replier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Replier{client: client, model: model}, nil
}

// Chat maps the bounded conversation context onto a Gemini generation
// call and returns the reply text.
func (r *Replier) Chat(ctx context.Context, messages []turn.Message, opts turn.ChatOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = r.model
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini: no user content")
	}

	resp, err := r.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty reply")
	}
	return text, nil
}
