package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/verified-rag/internal/adapters/http"
	"github.com/kirillkom/verified-rag/internal/bootstrap"
	"github.com/kirillkom/verified-rag/internal/config"
	"github.com/kirillkom/verified-rag/internal/observability/logging"
	"github.com/kirillkom/verified-rag/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewStdout(logging.Options{Service: "api", Level: cfg.LogLevel, Format: cfg.LogFormat}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "api"})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	checks := make([]httpadapter.HealthCheck, 0, len(app.Dependencies))
	for _, dep := range app.Dependencies {
		checks = append(checks, httpadapter.HealthCheck{Name: dep.Name, Check: dep.Ping})
	}

	var audit httpadapter.AuditReader
	if app.Audit != nil {
		audit = app.Audit
	}

	router := httpadapter.NewRouter(
		app.Config,
		app.Answers,
		audit,
		metrics.NewHTTPServerMetrics("api", app.Registry),
		checks...,
	).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      app.Config.AnswerTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
