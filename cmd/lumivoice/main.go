// Command lumivoice runs the voice turn gateway for toy devices: a
// websocket endpoint that turns child speech into safe, resumable spoken
// replies.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumetoys/lumivoice/internal/dotenv"
	"github.com/lumetoys/lumivoice/pkg/core/safety"
	"github.com/lumetoys/lumivoice/pkg/core/turn"
	"github.com/lumetoys/lumivoice/pkg/gateway/config"
	"github.com/lumetoys/lumivoice/pkg/gateway/server"
	"github.com/lumetoys/lumivoice/pkg/reply/gemini"
	"github.com/lumetoys/lumivoice/pkg/speech"
	"github.com/lumetoys/lumivoice/pkg/store/memory"
	"github.com/lumetoys/lumivoice/pkg/store/postgres"
	"github.com/lumetoys/lumivoice/pkg/store/s3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := dotenv.LoadFile(".env"); err != nil {
		logger.Error("load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	audioStore, err := buildAudioStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	speechClient, err := buildSpeech(cfg, logger)
	if err != nil {
		return err
	}

	replier, err := buildReplier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	checker := safety.NewChecker(
		safety.WithBaseline(cfg.BaselineTopics),
		safety.WithSanitizeFallback(cfg.SanitizeFallback),
	)

	pipeline, err := turn.NewPipeline(turn.Config{
		Model:           cfg.ChatModel,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		PolicyVersion:   cfg.PolicyVersion,
		DefaultToyName:  cfg.DefaultToyName,
		RedirectPhrase:  cfg.RedirectPhrase,
	}, turn.Dependencies{
		Store:  store,
		Audio:  audioStore,
		Speech: speechClient,
		Reply:  replier,
		Safety: checker,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Dependencies{
		Pipeline: pipeline,
		Speech:   speechClient,
		Store:    store,
		Audio:    audioStore,
	}, logger)

	return srv.Run(ctx)
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (turn.Store, func(), error) {
	if cfg.DevMemory {
		logger.Warn("using in-memory store; nothing will be persisted")
		return memory.New(), func() {}, nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	logger.Info("database ready")
	return pg, pg.Close, nil
}

func buildAudioStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (turn.AudioStore, error) {
	if cfg.S3Bucket == "" {
		logger.Info("storing audio on local disk", "dir", cfg.AudioDir)
		return s3.NewLocal(cfg.AudioDir)
	}
	return s3.New(ctx, s3.Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
}

func buildSpeech(cfg config.Config, logger *slog.Logger) (turn.Speech, error) {
	if cfg.CartesiaAPIKey == "" && cfg.DevMemory {
		logger.Warn("no speech vendor key; using mock speech")
		return &speech.Mock{Transcript: "你好"}, nil
	}
	return speech.NewCartesia(speech.Config{
		APIKey:   cfg.CartesiaAPIKey,
		BaseURL:  cfg.CartesiaBaseURL,
		WSURL:    cfg.CartesiaWSURL,
		STTModel: cfg.STTModel,
		TTSModel: cfg.TTSModel,
		VoiceID:  cfg.CartesiaVoiceID,
	})
}

func buildReplier(ctx context.Context, cfg config.Config, logger *slog.Logger) (turn.Replier, error) {
	if cfg.GeminiAPIKey == "" && cfg.DevMemory {
		logger.Warn("no gemini key; using canned replies")
		return cannedReplier{}, nil
	}
	return gemini.New(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
}

// cannedReplier keeps dev mode usable without any vendor credentials.
type cannedReplier struct{}

func (cannedReplier) Chat(ctx context.Context, messages []turn.Message, opts turn.ChatOptions) (string, error) {
	return "我在听呀，你再多说一点吧！", nil
}
