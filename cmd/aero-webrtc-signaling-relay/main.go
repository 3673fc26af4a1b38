package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/socket"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-signaling-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"bind_admin_endpoint", cfg.BindAdminEndpoint,
		"relay_non_addressed", cfg.RelayNonAddressed,
		"observer_dispatch", cfg.ObserverDispatch,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"turn_rest_realm", cfg.TURNREST.Realm,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will report not ready", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	if err := run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}); err != nil {
		logger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

// run serves on ln until ctx is cancelled or the HTTP server fails, then shuts
// down in order: HTTP, WebSockets, relay.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ln net.Listener, build httpserver.BuildInfo) error {
	relay, err := signaling.New(relayOptions(cfg, logger))
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("configure relay: %w", err)
	}
	registerEventLogger(relay.Events(), logger)

	srv := httpserver.New(cfg, logger, build)
	srv.SetMetrics(relay.Metrics())

	sock := socket.New(relay, socket.Config{
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLength:      cfg.PeerSendQueueLength,
		Logger:               logger,
	})
	sock.RegisterRoutes(srv.Mux())

	if cfg.BindAdminEndpoint {
		admin := http.NewServeMux()
		relay.RegisterAdminRoutes(admin)
		srv.Mux().Handle("POST /signaling/namespace", srv.OriginMiddleware()(admin))
	}

	// Expose relay counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", relay.Metrics().Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sock.Close()
		relay.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sock.Close()
	relay.Close()
	logger.Info("relay stopped", "events_peer_left", relay.Metrics().Get(metrics.PeerLeft))

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server exited after shutdown: %w", err)
	}
	return nil
}

func relayOptions(cfg config.Config, logger *slog.Logger) signaling.Options {
	opts := signaling.DefaultOptions()
	opts.RelayNonAddressed = cfg.RelayNonAddressed
	opts.RetiredPeerIDCacheSize = cfg.RetiredPeerIDCacheSize
	opts.MaxAsyncObservers = int64(cfg.MaxAsyncObservers)
	opts.Dispatch = dispatchMode(cfg.ObserverDispatch)
	opts.Logger = logger
	opts.Metrics = metrics.New()
	return opts
}

func dispatchMode(mode config.ObserverDispatch) signaling.DispatchMode {
	switch mode {
	case config.ObserverDispatchAsync:
		return signaling.DispatchAsync
	default:
		// Validated by config.Load.
		return signaling.DispatchSync
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
