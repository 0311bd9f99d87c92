package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris/shard-rewards/pkg/app"
	"github.com/chris/shard-rewards/pkg/config"
	"github.com/chris/shard-rewards/pkg/handlers"
	wshandler "github.com/chris/shard-rewards/pkg/handlers/websockets"
	"github.com/chris/shard-rewards/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.Setup("shard-rewards-ops", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	deps := handlers.Deps{
		Logger:     logger,
		Store:      a.Store,
		Ledger:     a.Ledger,
		Quota:      a.Quota,
		Scheduler:  a.Scheduler,
		Reconciler: a.Reconciler(cfg.ReconcileRepair),
	}
	if a.Hub != nil {
		deps.Websockets = wshandler.NewLocalHandler(a.Hub)
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("starting ops server", "port", cfg.HTTPPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
