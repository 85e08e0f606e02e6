// Command whip-server runs the whip relay.
//
// It serves, on one port:
// - POST /whip, which pushes a whip command to the listener owning the bearer token,
// - GET /ws, where listeners register with Authorization: Bearer <token>,
// - /healthz and, when enabled, /metrics.
//
// The port comes from PORT (default 8080), as injected by container platforms.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whip/internal/config"
	"whip/internal/metrics"
	"whip/internal/server"
	"whip/internal/state"
	"whip/internal/telemetry"
)

func fatal(msg string, err error, attrs ...any) {
	args := make([]any, 0, 2+len(attrs))
	args = append(args, "err", err)
	args = append(args, attrs...)
	slog.Error(msg, args...)
	os.Exit(1)
}

func preflightPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s unavailable for tcp listen: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	// Set up logging first so early failures are captured consistently.
	runID := telemetry.MakeRunID()
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})).With("run_id", runID))

	cfg, err := config.Load()
	if err != nil {
		fatal("config load failed", err)
	}
	level.Set(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shutdown watch: once a shutdown signal is received, allow a bounded window
	// for goroutines to exit cleanly before forcing termination.
	go func() {
		<-ctx.Done()
		t := time.NewTimer(cfg.ShutdownTimeout + 10*time.Second)
		defer t.Stop()
		<-t.C
		slog.Error("shutdown timed out, forcing exit")
		os.Exit(2)
	}()

	slog.Info(
		"starting whip-server",
		"addr", cfg.Addr(),
		"metrics", cfg.MetricsEnabled,
		"ping_interval", cfg.WS.PingInterval,
	)

	var audit *telemetry.Logger
	if cfg.AuditLogPath != "" {
		audit, err = telemetry.New(cfg.AuditLogPath, runID)
		if err != nil {
			fatal("open ndjson audit file failed", err, "path", cfg.AuditLogPath)
		}
		defer func() { _ = audit.Close() }()
		slog.Info("ndjson audit enabled", "path", cfg.AuditLogPath)
	} else {
		slog.Info("ndjson audit disabled (default); set WHIP_TELEMETRY_AUDIT_NDJSON_PATH to enable")
	}

	// Fail fast with a clear message if the port is already bound by another process.
	if err := preflightPort(cfg.Addr()); err != nil {
		fatal("port preflight failed", err, "port", cfg.Port)
	}

	opts := server.OptionsFromConfig(cfg)
	opts.Audit = audit
	opts.Logger = slog.Default()
	if cfg.MetricsEnabled {
		opts.Metrics = metrics.New()
	}

	srv := server.New(opts, state.NewRegistry())
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal("server error", err)
	}
	slog.Info("shutdown complete")
}
