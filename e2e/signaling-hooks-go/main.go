package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/socket"
)

// greeting is sent to every peer right after it joins.
type greeting struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
}

// receipt acknowledges a relayed envelope back to its sender.
type receipt struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
}

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if os.Getenv("E2E_DEBUG") != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	opts := signaling.DefaultOptions()
	opts.Logger = logger
	r, err := signaling.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signaling: %v\n", err)
		os.Exit(1)
	}
	registerHooks(r, logger)

	// Accept all origins for E2E.
	sock := socket.New(r, socket.Config{
		AllowedOrigins: []string{origin.Wildcard},
		Logger:         logger,
	})

	mux := http.NewServeMux()
	sock.RegisterRoutes(mux)
	r.RegisterAdminRoutes(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		sock.Close()
		r.Close()
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// registerHooks greets each new peer and acknowledges every relayed envelope
// to its sender, both through the server-originated send API.
func registerHooks(r *signaling.Relay, logger *slog.Logger) {
	bus := r.Events()

	bus.On(signaling.EventPeerEntered, func(ev signaling.Event) {
		if _, err := r.SendTo(ev.Namespace, ev.PeerID, greeting{Type: "welcome", Namespace: ev.Namespace}); err != nil {
			logger.Warn("greeting failed", "peer_id", ev.PeerID, "err", err)
		}
	})

	bus.On(signaling.EventWillRelay, func(ev signaling.Event) {
		if ev.Envelope == nil || ev.Envelope.From == "" {
			return
		}
		if _, err := r.SendTo(ev.Namespace, ev.Envelope.From, receipt{Type: "relayed", To: ev.Envelope.To}); err != nil {
			logger.Warn("receipt failed", "peer_id", ev.Envelope.From, "err", err)
		}
	})
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
