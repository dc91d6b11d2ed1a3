package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hwrig/testbed/controller/conn"
	"github.com/hwrig/testbed/controller/executor"
	"github.com/hwrig/testbed/core/config"
	"github.com/hwrig/testbed/core/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg)

	log := logger.New(logger.WithDevelopment(cfg.AppName))

	connection := conn.New(conn.Config{
		ServerURL:         cfg.ServerURL,
		AccessToken:       cfg.AccessToken,
		PendingQueueBound: cfg.PendingQueueMax,
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil, log.With("component", "conn"))

	exec := executor.New(executor.Config{
		DockerPath:      cfg.DockerPath,
		ScratchDir:      cfg.ScratchDir,
		TransmitterPath: cfg.TransmitterPath,
		ReceiverPaths:   cfg.ReceiverPaths,
		PythonLibDir:    cfg.PythonLibDir,
	}, connection, log.With("component", "executor"))

	connection.SetRunner(exec)

	go exec.RunTelemetry(ctx)

	log.Info("controller starting", logger.Key("coordinator_url", cfg.ServerURL))
	connection.Run(ctx)

	log.Info("controller stopped")
}
