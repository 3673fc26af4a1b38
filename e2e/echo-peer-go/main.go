package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/webrtcpeer"
)

// echo-peer-go joins a signaling namespace and echoes every data channel
// message back to its sender. It prints "READY <peerId>" once joined.
func main() {
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8080/signaling/ws/e2e")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := webrtcpeer.Dial(dialCtx, signalingURL, nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalingURL, err)
		os.Exit(1)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = logging.LogLevelWarn
	peer, err := webrtcpeer.NewPeer(client, webrtcpeer.Config{
		LoggerFactory: loggerFactory,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new peer: %v\n", err)
		os.Exit(1)
	}
	defer peer.Close()

	peer.OnDataChannel(func(remote string, dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var err error
			if msg.IsString {
				err = dc.SendText(string(msg.Data))
			} else {
				err = dc.Send(msg.Data)
			}
			if err != nil {
				logger.Warn("echo failed", "remote", remote, "label", dc.Label(), "err", err)
			}
		})
	})

	fmt.Printf("READY %s\n", peer.ID())

	if err := peer.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "signaling ended: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
