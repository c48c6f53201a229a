package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"google.golang.org/grpc"

	"github.com/flarewatch/flarewatch/pkg/logging"
	"github.com/flarewatch/flarewatch/server/internal/api"
	"github.com/flarewatch/flarewatch/server/internal/auth"
	"github.com/flarewatch/flarewatch/server/internal/config"
	"github.com/flarewatch/flarewatch/server/internal/receiver"
	"github.com/flarewatch/flarewatch/server/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flarewatch-sink: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, cfg.Server.Log.Format, cfg.Server.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flarewatch-sink: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("flarewatch-sink starting",
		"config", *configPath,
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"retention_ttl", cfg.Server.Retention.TTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Retention.TTL)
	rec := receiver.New(st)

	header := cfg.Server.Auth.EffectiveHeader()
	key := cfg.Server.Auth.Key()

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(
		auth.APIKeyInterceptor(cfg.Server.Auth.Mode, header, key),
	))
	pmetricotlp.RegisterGRPCServer(grpcSrv, rec)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	// OTLP/HTTP is authenticated; the JSON API is not.
	httpMux := http.NewServeMux()
	httpMux.Handle("/v1/metrics", auth.APIKeyMiddleware(cfg.Server.Auth.Mode, header, key, rec))
	httpMux.Handle("/api/", api.New(st, rec))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { st.Run(ctx) })
	wg.Go(func() {
		slog.Info("OTLP gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
			cancel()
		}
	})
	wg.Go(func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("flarewatch-sink shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	wg.Wait()
}
