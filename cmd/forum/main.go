package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"eduforum/internal/app"
	"eduforum/internal/config"
	"eduforum/internal/prompt"
	"eduforum/internal/server"
	"eduforum/internal/util"
	"eduforum/pkg/ai"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var generator ai.TextGenerator
	switch cfg.GenerationProvider {
	case "openai":
		generator = ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	default:
		generator = ai.NewOllamaGenerator(cfg.GenerationBaseURL, cfg.GenerationModel)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MinioEndpoint:   cfg.MinioEndpoint,
		MinioAccessKey:  cfg.MinioAccessKey,
		MinioSecretKey:  cfg.MinioSecretKey,
		MinioBucket:     cfg.MinioBucket,
		MinioUseSSL:     cfg.MinioUseSSL,
		Generator:       generator,
		GenerateTimeout: time.Duration(cfg.GenerateTimeoutSec) * time.Second,
		MentionTriggers: cfg.MentionTriggers,
		PromptLimits: prompt.Limits{
			MaxCourseTextChars: cfg.CourseTextChars,
			MaxHistoryMessages: cfg.HistoryMessages,
			MaxMessageChars:    cfg.MessageChars,
			MaxPromptChars:     cfg.PromptChars,
		},
		ExtractTextChars: cfg.ExtractTextChars,
		HistoryFetch:     cfg.HistoryFetch,
		SeedTeacherName:  cfg.SeedTeacherName,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		AuthLimit:      cfg.AuthRateLimit,
		MessageLimit:   cfg.MessageRateLimit,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("forum server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
