package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"

	"github.com/flexproc/flexproc/internal/admin"
	"github.com/flexproc/flexproc/internal/config"
	"github.com/flexproc/flexproc/internal/kernel"
	"github.com/flexproc/flexproc/internal/routes"
)

var configFile = flag.String("config-file", "configs/config.yaml", "Path to engine configuration file")

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.InfoContext(ctx, "flexproc starting",
		"extproc_port", cfg.Server.ExtProcPort,
		"policies_file", cfg.Policies.Path,
	)

	k := kernel.NewKernel()

	// Fail fast, fail closed: a policy set that does not validate in full
	// keeps the engine from starting at all.
	if err := routes.Load(cfg.Policies.Path, k); err != nil {
		slog.ErrorContext(ctx, "Failed to load policies", "error", err)
		os.Exit(1)
	}

	extprocServer := kernel.NewExternalProcessorServer(k)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.ExtProcPort))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to listen on port", "port", cfg.Server.ExtProcPort, "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(grpcServer, extprocServer)

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(&cfg.Admin, k)
		go func() {
			if err := adminServer.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "Admin server failed", "error", err)
			}
		}()
	}

	slog.InfoContext(ctx, "flexproc listening", "port", cfg.Server.ExtProcPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.ErrorContext(ctx, "Failed to serve", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-sigChan
	slog.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig)

	grpcServer.GracefulStop()
	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := adminServer.Stop(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Admin server shutdown failed", "error", err)
		}
	}
	slog.InfoContext(ctx, "flexproc shut down successfully")
}

// setupLogging configures the default slog logger from engine config
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
