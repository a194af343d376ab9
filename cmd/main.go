package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/convolab/lessonaudio/internal/app"
	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := app.LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "lessonaudio-worker",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	observability.Init(log)

	a, err := app.New(ctx, log, cfg)
	if err != nil {
		log.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}
	a.Start(ctx)
	log.Info("Lesson audio worker running", "env", cfg.Environment, "tts_provider", cfg.TTSProvider)

	<-ctx.Done()
	log.Info("Shutting down...")
	a.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn("otel shutdown failed", "error", err)
	}
}
