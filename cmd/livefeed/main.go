package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/livefeed/internal/config"
	"github.com/syntrixbase/livefeed/internal/logging"
	"github.com/syntrixbase/livefeed/internal/services"
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "Directory holding config.yml")
	initTimeout := flag.Duration("init-timeout", 15*time.Second, "Time allowed to connect to backing services")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "Time allowed for graceful shutdown")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}

	code := run(cfg, *initTimeout, *shutdownTimeout)
	if err := logging.Shutdown(); err != nil {
		slog.Error("Failed to close logs", "error", err)
	}
	os.Exit(code)
}

func run(cfg *config.Config, initTimeout, shutdownTimeout time.Duration) int {
	slog.Info("Starting livefeed",
		"feed_driver", cfg.Realtime.Feed.Driver,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
	)

	mgr := services.NewManager(cfg, slog.Default())

	initCtx, cancelInit := context.WithTimeout(context.Background(), initTimeout)
	defer cancelInit()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("Failed to start services", "error", err)
		return 1
	}

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-mgr.Fatal():
		slog.Error("Server failed, shutting down", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		code = 1
	}

	slog.Info("Stopped")
	return code
}
