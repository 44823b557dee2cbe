package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumetoys/lumivoice/pkg/core"
)

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	Model           string
	MaxTokens       int
	Temperature     float64
	MaxHistoryTurns int
	PolicyVersion   string
	// DefaultToyName is used when a device has no name configured.
	DefaultToyName string
	// RedirectPhrase overrides the built-in safe redirect when set.
	RedirectPhrase string
}

// Dependencies are the collaborators the pipeline calls through.
type Dependencies struct {
	Store  Store
	Audio  AudioStore
	Speech Speech
	Reply  Replier
	Safety Safety
	Logger *slog.Logger
}

// Pipeline orchestrates ASR, safety screening, reply generation and turn
// persistence for one finalized utterance.
type Pipeline struct {
	cfg  Config
	deps Dependencies
}

// fallback when ASR yields nothing usable
const emptyTranscript = "（未识别到有效语音内容）"

// NewPipeline validates dependencies and applies config defaults.
func NewPipeline(cfg Config, deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("turn: Store is required")
	}
	if deps.Audio == nil {
		return nil, fmt.Errorf("turn: AudioStore is required")
	}
	if deps.Speech == nil {
		return nil, fmt.Errorf("turn: Speech is required")
	}
	if deps.Reply == nil {
		return nil, fmt.Errorf("turn: Replier is required")
	}
	if deps.Safety == nil {
		return nil, fmt.Errorf("turn: Safety is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 6
	}
	if cfg.PolicyVersion == "" {
		cfg.PolicyVersion = "safety_v1"
	}
	if cfg.DefaultToyName == "" {
		cfg.DefaultToyName = "小悠"
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// UserAudioKey returns the object key for a turn's raw utterance.
func UserAudioKey(childID, sessionID int64, seq int) string {
	return fmt.Sprintf("children/%d/sessions/%d/turn_%d_user.wav", childID, sessionID, seq)
}

// ReplyAudioKey returns the object key reserved for a turn's reply audio.
func ReplyAudioKey(childID, sessionID int64, seq int) string {
	return fmt.Sprintf("children/%d/sessions/%d/turn_%d_reply.wav", childID, sessionID, seq)
}

// PrepareTurn runs the full generation pipeline for one utterance and
// persists the resulting Turn with playback status pending. The reply
// audio key is reserved but not uploaded; playback finalizes it.
//
// Failures before the Turn row is written leave no partial row behind.
func (p *Pipeline) PrepareTurn(ctx context.Context, deviceSN string, wav []byte) (*Draft, error) {
	device, child, err := p.deps.Store.ResolveDevice(ctx, deviceSN)
	if err != nil {
		return nil, err
	}
	if err := p.deps.Store.TouchDeviceSeen(ctx, device.ID); err != nil {
		p.deps.Logger.Warn("touch device seen failed", "device_sn", deviceSN, "error", err)
	}

	session, err := p.deps.Store.ActiveSession(ctx, child.ID)
	if err != nil {
		return nil, core.NewPersistenceError("resolve session", err)
	}
	seq, err := p.deps.Store.NextSeq(ctx, session.ID)
	if err != nil {
		return nil, core.NewPersistenceError("assign seq", err)
	}

	// The raw utterance goes up first: if the upload fails no Turn row is
	// written at all.
	userKey := UserAudioKey(child.ID, session.ID, seq)
	if err := p.deps.Audio.Upload(ctx, userKey, wav, "audio/wav"); err != nil {
		return nil, core.NewPersistenceError("upload user audio", err)
	}

	userText, err := p.deps.Speech.ASR(ctx, wav)
	if err != nil {
		return nil, err
	}
	userText = strings.TrimSpace(userText)
	if userText == "" {
		userText = emptyTranscript
	}

	riskSource, riskReason := "", ""
	auditAction := AuditAllow
	var replyText string

	if v := p.deps.Safety.CheckInput(userText, child.ForbiddenTopics); v != nil {
		riskSource = RiskSourceInput
		riskReason = v.Reason
		auditAction = AuditBlockInput
		replyText = p.safeReply(device)
		p.deps.Logger.Info("input blocked",
			"session_id", session.ID, "seq", seq, "reason", v.Reason)
	} else {
		messages, err := p.buildMessages(ctx, child, device, session, userText)
		if err != nil {
			return nil, err
		}
		raw, err := p.deps.Reply.Chat(ctx, messages, ChatOptions{
			Model:       p.cfg.Model,
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("reply generation: %w", err)
		}

		candidate, replaced := p.deps.Safety.Sanitize(strings.TrimSpace(raw), child.ForbiddenTopics)
		if replaced {
			p.deps.Logger.Info("reply sanitized", "session_id", session.ID, "seq", seq)
		}
		if v := p.deps.Safety.CheckOutput(candidate, child.ForbiddenTopics); v != nil {
			riskSource = RiskSourceOutput
			riskReason = v.Reason
			auditAction = AuditBlockOutput
			replyText = p.safeReply(device)
			p.deps.Logger.Info("output blocked",
				"session_id", session.ID, "seq", seq, "reason", v.Reason)
		} else {
			replyText = candidate
		}
	}

	replyKey := ReplyAudioKey(child.ID, session.ID, seq)
	t := &Turn{
		SessionID:      session.ID,
		DeviceID:       device.ID,
		Seq:            seq,
		UserText:       userText,
		ReplyText:      replyText,
		UserAudioPath:  userKey,
		ReplyAudioPath: replyKey,
		RiskFlag:       riskSource != "",
		RiskSource:     riskSource,
		RiskReason:     riskReason,
		PlaybackStatus: PlaybackPending,
		PolicyVersion:  p.cfg.PolicyVersion,
		AuditAction:    auditAction,
		CreatedAt:      time.Now(),
	}
	turnID, err := p.deps.Store.CreateTurn(ctx, t)
	if err != nil {
		return nil, core.NewPersistenceError("create turn", err)
	}

	if seq == 1 {
		if err := p.deps.Store.SetSessionTitle(ctx, session.ID, sessionTitle(userText)); err != nil {
			p.deps.Logger.Warn("set session title failed", "session_id", session.ID, "error", err)
		}
	}

	return &Draft{
		TurnID:         turnID,
		SessionID:      session.ID,
		ChildID:        child.ID,
		Seq:            seq,
		UserText:       userText,
		ReplyText:      replyText,
		UserAudioPath:  userKey,
		ReplyAudioPath: replyKey,
		RiskSource:     riskSource,
		RiskReason:     riskReason,
		AuditAction:    auditAction,
		PolicyVersion:  p.cfg.PolicyVersion,
	}, nil
}

func (p *Pipeline) buildMessages(ctx context.Context, child Child, device Device, session ChatSession, userText string) ([]Message, error) {
	toyName := device.ToyName
	if toyName == "" {
		toyName = p.cfg.DefaultToyName
	}
	persona := device.ToyPersona
	if persona == "" {
		persona = fmt.Sprintf("一个叫%s的温柔可爱小伙伴，会认真听小朋友说话，轻声细语，喜欢鼓励和安慰小朋友。", toyName)
	}

	interests := "暂时未知"
	if len(child.Interests) > 0 {
		interests = strings.Join(child.Interests, "、")
	}
	forbidden := "无特别限制"
	if len(child.ForbiddenTopics) > 0 {
		forbidden = strings.Join(child.ForbiddenTopics, "、")
	}
	gender := child.Gender
	if gender == "" {
		gender = "未知"
	}

	systemPrompt := fmt.Sprintf(
		"你是一个儿童智能语音陪伴玩具，名字叫「%s」。"+
			"你的性格设定：%s。"+
			"说话对象是一个大约 %d 岁的孩子，性别：%s。"+
			"孩子的兴趣：%s。"+
			"家长禁止谈论的话题：%s。"+
			"和孩子聊天时要遵守这些原则："+
			"1）用简短、温柔、具体的句子，像小朋友的好朋友一样说话；"+
			"2）多鼓励、多肯定，避免批评；"+
			"3）遇到危险、暴力、隐私、敏感内容时婉拒，并引导到安全健康的话题；"+
			"4）不要出现成人世界的复杂概念（如色情、血腥、极端政治等）；"+
			"5）一定用中文回答。",
		toyName, persona, child.Age, gender, interests, forbidden,
	)

	messages := []Message{{Role: "system", Content: systemPrompt}}

	history, err := p.deps.Store.RecentTurns(ctx, session.ID, p.cfg.MaxHistoryTurns)
	if err != nil {
		return nil, core.NewPersistenceError("load history", err)
	}
	for _, t := range history {
		if t.UserText != "" {
			messages = append(messages, Message{Role: "user", Content: t.UserText})
		}
		if t.ReplyText != "" {
			messages = append(messages, Message{Role: "assistant", Content: t.ReplyText})
		}
	}
	messages = append(messages, Message{Role: "user", Content: userText})
	return messages, nil
}

func (p *Pipeline) safeReply(device Device) string {
	if p.cfg.RedirectPhrase != "" {
		return p.cfg.RedirectPhrase
	}
	toyName := device.ToyName
	if toyName == "" {
		toyName = p.cfg.DefaultToyName
	}
	return fmt.Sprintf(
		"%s觉得这个话题有点不适合，我们先换个轻松的话题吧。你可以跟我说说今天有没有开心的事情，或者你喜欢的玩具、动画片、游戏～",
		toyName,
	)
}

func sessionTitle(userText string) string {
	base := strings.TrimSpace(strings.ReplaceAll(userText, "\n", " "))
	rs := []rune(base)
	if len(rs) > 20 {
		return string(rs[:20]) + "..."
	}
	return base
}
