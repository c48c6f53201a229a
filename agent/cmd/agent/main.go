package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flarewatch/flarewatch/agent/internal/config"
	"github.com/flarewatch/flarewatch/agent/internal/httpapi"
	"github.com/flarewatch/flarewatch/agent/internal/runner"
	"github.com/flarewatch/flarewatch/pkg/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "perform a single run and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flarewatch-agent: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, cfg.Agent.Log.Format, cfg.Agent.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flarewatch-agent: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("flarewatch-agent starting",
		"config", *configPath,
		"export_endpoint", cfg.Agent.Export.Endpoint,
		"protocol", cfg.Agent.Export.Protocol,
		"interval", cfg.Agent.Query.Interval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	run, err := runner.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	defer run.Close()

	if *once {
		if _, err := run.RunOnce(ctx); err != nil {
			slog.Error("run failed", "err", err)
			run.Close()
			os.Exit(1)
		}
		return
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			if err := run.Reload(updated.Agent); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if cfg.Agent.HTTP.Enabled {
		api := httpapi.NewServer(cfg.Agent.HTTP.Listen, run)
		if err := api.Start(); err != nil {
			slog.Error("failed to start http api", "addr", cfg.Agent.HTTP.Listen, "err", err)
			os.Exit(1)
		}
		defer api.Stop()
	}

	run.Run(ctx)
	slog.Info("flarewatch-agent shutting down")
}
