package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medrag/internal/api"
	"medrag/internal/bootstrap"
	"medrag/internal/config"
	"medrag/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/medrag/config.yaml if not provided)")
	flag.Parse()

	cfg, path, err := config.Resolve(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closer.Close()

	apiKey := os.Getenv(cfg.Server.APIKeyEnv)
	if apiKey == "" {
		logger.Error("api key is not set", "env", cfg.Server.APIKeyEnv)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	deps := api.Deps{
		Ingester:  app.Ingestion,
		Retriever: app.Retrieval,
		Generator: app.Generation,
		Stats:     app.Index,
	}
	if app.Ledger != nil {
		deps.History = app.Ledger
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(deps, apiKey, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "config", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}
}
