package main

import (
	"context"
	"log"
	"os"

	mcpadapter "github.com/kirillkom/document-pipeline/internal/adapters/mcp"
	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

// stdout carries JSON-RPC, so logs go to stderr.
func main() {
	if err := config.LoadDotEnv(""); err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfg := config.Load()
	logger := logging.New(logging.Options{Service: cfg.ServiceName + "-mcp", Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: os.Stderr})

	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	server := mcpadapter.NewServer("document-pipeline", bootstrap.Version, app.QueryUC, app.Journal)
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
