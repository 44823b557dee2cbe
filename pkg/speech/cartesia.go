// Package speech provides the vendor-backed speech capability: ASR over
// HTTP and streaming TTS over WebSocket, both in the device PCM format.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumetoys/lumivoice/pkg/core"
	"github.com/lumetoys/lumivoice/pkg/core/audio"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"

	defaultSTTModel = "ink-whisper"
	defaultTTSModel = "sonic-3"
)

// Config tunes the Cartesia client. Zero values take defaults.
type Config struct {
	APIKey   string
	BaseURL  string
	WSURL    string
	STTModel string
	TTSModel string
	VoiceID  string
	Language string
	Format   audio.Format
}

// CartesiaClient implements the speech capability on Cartesia's API.
type CartesiaClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewCartesia creates a speech client. The API key is required.
func NewCartesia(cfg Config) (*CartesiaClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = cartesiaWSURL
	}
	if cfg.STTModel == "" {
		cfg.STTModel = defaultSTTModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = defaultTTSModel
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.DeviceFormat
	}
	return &CartesiaClient{cfg: cfg, httpClient: &http.Client{}}, nil
}

// ASR transcribes a WAV utterance.
func (c *CartesiaClient) ASR(ctx context.Context, wav []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.STTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if c.cfg.Language != "" {
		if err := mw.WriteField("language", c.cfg.Language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/stt", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewSpeechError("asr request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", core.NewSpeechError(fmt.Sprintf("asr error %d: %s", resp.StatusCode, string(errBody)), nil)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.NewSpeechError("decode asr response", err)
	}
	return out.Text, nil
}

type ttsRequest struct {
	ModelID      string        `json:"model_id"`
	Transcript   string        `json:"transcript"`
	Voice        ttsVoiceSpec  `json:"voice"`
	OutputFormat ttsOutputSpec `json:"output_format"`
	Language     *string       `json:"language,omitempty"`
	ContextID    string        `json:"context_id,omitempty"`
}

type ttsVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type ttsOutputSpec struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type ttsResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// TTSStream synthesizes one text segment into raw PCM chunks in the
// device format. The audio channel closes when synthesis completes or
// cancel fires; the error channel then carries at most one failure.
func (c *CartesiaClient) TTSStream(ctx context.Context, text string, cancel <-chan struct{}) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 8)
	errs := make(chan error, 1)

	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		errs <- core.NewSpeechError("parse tts url", err)
		close(out)
		close(errs)
		return out, errs
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		errs <- core.NewSpeechError("tts connect", err)
		close(out)
		close(errs)
		return out, errs
	}

	req := ttsRequest{
		ModelID:    c.cfg.TTSModel,
		Transcript: text,
		Voice:      ttsVoiceSpec{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: ttsOutputSpec{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.Format.SampleRate,
		},
		ContextID: "seg_" + uuid.NewString(),
	}
	if c.cfg.Language != "" {
		req.Language = &c.cfg.Language
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		errs <- core.NewSpeechError("tts send request", err)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(errs)
		defer close(out)
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cancel:
				return
			default:
			}

			var msg ttsResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				errs <- core.NewSpeechError("tts read", err)
				return
			}

			switch msg.Type {
			case "chunk":
				data, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					errs <- core.NewSpeechError("decode tts chunk", err)
					return
				}
				select {
				case out <- data:
				case <-cancel:
					return
				case <-ctx.Done():
					return
				}
			case "done":
				return
			case "error":
				errs <- core.NewSpeechError("tts vendor error: "+msg.Error, nil)
				return
			}
		}
	}()

	return out, errs
}
