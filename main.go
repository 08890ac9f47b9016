package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paddleserve/broker/internal/config"
	"paddleserve/broker/internal/game"
	"paddleserve/broker/internal/ledger"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/presence"
	"paddleserve/broker/internal/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	//1.- A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Error("configuration invalid", logging.Error(err))
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Error("logger setup failed", logging.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//2.- Collaborators degrade rather than abort: the arena runs without a
	// database, and presence soft-fails on redis outages.
	var store *storage.Store
	if cfg.PostgresDSN != "" {
		store, err = storage.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			logger.Warn("database unavailable, running without persistence", logging.Error(err))
			store = nil
		}
	}
	defer store.Close()

	tracker := presence.NewTracker(cfg.RedisAddr, cfg.RedisPassword, cfg.PresenceTTL, logger)
	defer func() { _ = tracker.Close() }()

	archive := ledger.NewClient(cfg.LedgerBaseURL, logger)

	//3.- Leave the collaborator interfaces nil when persistence is off so
	// identity checks and history writes are skipped, not failed.
	var ids Identities
	var recorder game.Recorder
	if store != nil {
		ids = store
		recorder = store
	}

	arena := NewArena(ctx, cfg, logger, tracker, ids, recorder, archive)
	server := NewServer(cfg, logger, arena, ids)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", logging.Error(err))
		}
		arena.Shutdown()
	}()

	logger.Info("arena listening", logging.String("address", cfg.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("arena stopped")
}
