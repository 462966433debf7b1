package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/verified-rag/internal/adapters/mcp"
	"github.com/kirillkom/verified-rag/internal/bootstrap"
	"github.com/kirillkom/verified-rag/internal/config"
	"github.com/kirillkom/verified-rag/internal/observability/logging"
)

// stdout carries the MCP protocol, so every log line goes to stderr.
func main() {
	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stderr, logging.Options{Service: "mcp", Level: cfg.LogLevel, Format: cfg.LogFormat}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "mcp"})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.New(app.Answers, mcpadapter.Options{
		DefaultTenantID: cfg.DefaultTenantID,
		AnswerTimeout:   cfg.AnswerTimeout,
	})
	slog.Info("mcp_stdio_ready")
	if err := server.ServeStdio(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil && ctx.Err() == nil {
		slog.Error("mcp_server_failed", "error", err)
	}
}
