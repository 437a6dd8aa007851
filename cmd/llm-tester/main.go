package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-llm-tester/internal/config"
	"github.com/tjfontaine/polyglot-llm-tester/internal/runtime"
	"github.com/tjfontaine/polyglot-llm-tester/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: "+config.DefaultPath+" if present)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	app, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		logger.Error("failed to start tester", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("tester exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
