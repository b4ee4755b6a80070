package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"

	"dify-chat/internal/chat"
	"dify-chat/internal/config"
	"dify-chat/internal/llm"
	"dify-chat/internal/logger"
	"dify-chat/internal/messages"
	"dify-chat/internal/metrics"
	"dify-chat/internal/session"
)

// Deps bundles runtime dependencies for the chat server.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Messages *messages.Catalog
	LLM      llm.Client
	Sessions session.Store
	Chat     *chat.Service
}

// Build loads env, config, and shared components.
func Build(ctx context.Context) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return Deps{}, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	catalog, err := buildMessages(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load messages: %w", err)
	}
	llmClient, err := buildLLM(cfg, log, catalog)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	sessions, err := buildSessions(ctx, cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return Deps{
		Config:   cfg,
		Log:      log,
		Messages: catalog,
		LLM:      llmClient,
		Sessions: sessions,
		Chat:     chat.NewService(llmClient, sessions, log, cfg.MaxQueryLength),
	}, nil
}

func buildMessages(cfg config.Config, log *slog.Logger) (*messages.Catalog, error) {
	catalog := messages.New(cfg.Language)
	if cfg.MessagesFile == "" {
		return catalog, nil
	}
	if err := catalog.LoadFile(cfg.MessagesFile); err != nil {
		return nil, err
	}
	log.Info("loaded message overrides", "path", cfg.MessagesFile)
	return catalog, nil
}

func buildLLM(cfg config.Config, log *slog.Logger, catalog *messages.Catalog) (llm.Client, error) {
	client, err := llm.NewDifyClient(llm.Options{
		Endpoint:    cfg.DifyEndpoint,
		APIKey:      cfg.DifyAPIKey,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		HTTPClient:  &http.Client{},
		Classifier:  llm.KeywordClassifier{},
		Messages:    catalog,
		Recorder:    metrics.Recorder{},
		Log:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Dify client: %w", err)
	}
	log.Info("using Dify chat client", "endpoint", cfg.DifyEndpoint, "max_attempts", cfg.MaxAttempts)
	return client, nil
}

func buildSessions(ctx context.Context, cfg config.Config, log *slog.Logger) (session.Store, error) {
	switch cfg.SessionProvider {
	case "memory":
		log.Info("using in-memory session store", "ttl", cfg.SessionTTL)
		return session.NewMemoryStore(cfg.SessionTTL), nil
	case "redis":
		st, err := session.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		log.Info("using Redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		return st, nil
	default:
		return nil, fmt.Errorf("invalid SESSION_PROVIDER: %s (valid options: memory, redis)", cfg.SessionProvider)
	}
}
