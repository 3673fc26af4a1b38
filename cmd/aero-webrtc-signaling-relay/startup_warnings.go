package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, origin.Wildcard) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.BindAdminEndpoint && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: admin endpoint POST /signaling/namespace is bound without authentication while --mode=prod",
			"warning_code", "admin_endpoint_unauthenticated",
			"bind_admin_endpoint", cfg.BindAdminEndpoint,
			"mode", cfg.Mode,
		)
	}

	// Large frames are held in every recipient's send queue.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-peer buffering)",
			"warning_code", "signaling_message_max_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.ObserverDispatch == config.ObserverDispatchAsync {
		logger.Warn("startup warning: OBSERVER_DISPATCH=async drops lifecycle events when observers fall behind",
			"warning_code", "observer_dispatch_async",
			"max_async_observers", cfg.MaxAsyncObservers,
			"mode", cfg.Mode,
		)
	}
}
