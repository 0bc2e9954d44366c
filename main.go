// Package main is the entry point for the slackdata mirror.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sabinanfranz/slack-data-ai/internal/cli"
	"github.com/sabinanfranz/slack-data-ai/internal/config"
)

func main() {
	// Setup logger
	config.LoadDotEnv()
	logLevel := config.LogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := cli.Execute(ctx, logger); err != nil {
		if ctx.Err() == nil {
			logger.Error("Command failed", "error", err)
		}
		os.Exit(1)
	}
}
