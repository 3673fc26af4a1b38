package main

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
)

// registerEventLogger logs every lifecycle event at debug level.
func registerEventLogger(bus *signaling.Bus, logger *slog.Logger) {
	bus.OnAll(func(ev signaling.Event) {
		attrs := []any{
			"event", string(ev.Type),
			"namespace", ev.Namespace,
		}
		if ev.PeerID != "" {
			attrs = append(attrs, "peer_id", ev.PeerID)
		}
		if ev.Envelope != nil {
			attrs = append(attrs,
				"to", ev.Envelope.To,
				"payload_bytes", len(ev.Envelope.Payload),
			)
		}
		if ev.Type == signaling.EventWillRelay {
			attrs = append(attrs, "relay", ev.Relay)
		}
		logger.Debug("signaling_event", attrs...)
	})
}
