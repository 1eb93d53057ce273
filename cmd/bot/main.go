package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/aonbot/internal/assistant"
	"github.com/stupiduntilnot/aonbot/internal/bot"
	cmdpkg "github.com/stupiduntilnot/aonbot/internal/commander"
	"github.com/stupiduntilnot/aonbot/internal/config"
	"github.com/stupiduntilnot/aonbot/internal/conversation"
	"github.com/stupiduntilnot/aonbot/internal/db"
	"github.com/stupiduntilnot/aonbot/internal/dummy"
	"github.com/stupiduntilnot/aonbot/internal/logging"
	modelpkg "github.com/stupiduntilnot/aonbot/internal/model"
	"github.com/stupiduntilnot/aonbot/internal/openai"
	"github.com/stupiduntilnot/aonbot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}

	logger, syncLogs, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		ErrorFile: cfg.ErrorLogFile,
	})
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}
	defer syncLogs()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("bot stopped", "error", err)
		syncLogs()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, recorder, closeDB, err := newBackend(&cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	provider, err := newModelProvider(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}
	commander, err := newCommander(&cfg, logger.Named("telegram"))
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}

	store := conversation.NewStore(backend, conversation.Config{
		SystemPrompt: cfg.SystemPrompt,
		MaxTurns:     cfg.MaxTurns,
	}, logger.Named("store"))
	asst := assistant.New(store, provider, logger.Named("assistant"), assistant.Options{
		Timeout:         cfg.APITimeout,
		RollbackOnError: cfg.RollbackOnError,
	})

	b := bot.New(commander, asst, recorder, logger.Named("bot"), bot.Options{
		PollTimeout:    cfg.PollTimeout,
		ErrorBackoff:   time.Duration(cfg.SleepSeconds) * time.Second,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	if err := b.Init(ctx); err != nil {
		return err
	}

	logger.Infow("bot running",
		"bot_name", cfg.BotName,
		"model", cfg.ModelName,
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
		"store", cfg.StoreBackend,
		"max_turns", cfg.MaxTurns,
	)
	err = b.Run(ctx)
	logger.Infow("bot shutting down")
	return err
}

// newBackend returns the conversation backend and, for sqlite, a durable event recorder.
func newBackend(cfg *config.Config) (conversation.Backend, bot.Recorder, func(), error) {
	if cfg.StoreBackend != "sqlite" {
		return conversation.NewMemoryBackend(), nil, func() {}, nil
	}
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to init schema: %w", err)
	}
	recorder, err := newEventLog(database, cfg)
	if err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return conversation.NewSQLiteBackend(database), recorder, func() { database.Close() }, nil
}

func newEventLog(database *sql.DB, cfg *config.Config) (*db.EventLog, error) {
	processID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":     "bot",
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"source":   cfg.Commander,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log process.started: %w", err)
	}
	return &db.EventLog{DB: database, ParentID: &processID}, nil
}

func newCommander(cfg *config.Config, logger *zap.SugaredLogger) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommander, cfg.DummySend)
	default:
		// HTTP timeout must outlast the long-poll wait.
		timeout := time.Duration(cfg.PollTimeout+10) * time.Second
		return telegram.NewClient(cfg.TelegramAPIBase(), timeout, logger), nil
	}
}

func newModelProvider(cfg *config.Config) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "dummy":
		return dummy.NewProvider(cfg.ModelName, cfg.DummyProvider)
	default:
		return openai.NewClient(cfg.APIToken, cfg.APIURL, cfg.ModelName, cfg.APITimeout), nil
	}
}
