// Package socket carries signaling frames between browsers and the relay over
// WebSockets.
//
// A browser joins a namespace by opening GET /signaling/ws/{namespace}. Every
// frame is a JSON text message {"signal":...,"data":...}. The first message a
// peer receives is a hello envelope addressed to itself, which is how it learns
// its own peer id.
package socket

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueLength      = 256
)

type Config struct {
	// AllowedOrigins follows origin.IsAllowed: empty means same host only.
	AllowedOrigins []string

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = DefaultSendQueueLength
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

type Server struct {
	relay   *signaling.Relay
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	conns  map[*conn]struct{}
	wg     sync.WaitGroup
}

func New(relay *signaling.Relay, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		relay:   relay,
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: relay.Metrics(),
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if _, ok := origin.CheckRequest(r, s.cfg.AllowedOrigins); ok {
				return true
			}
			s.metrics.Inc(metrics.WebSocketRejectedOrigin)
			return false
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signaling/ws/{namespace}", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	if _, err := signaling.CanonicalName(name); err != nil {
		s.metrics.Inc(metrics.WebSocketRejectedNamespace)
		http.Error(w, "invalid namespace", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		return
	}

	c := newConn(s, ws)
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.shutdown()
		return
	}
	defer s.untrack(c)

	go c.writeLoop()

	peer, err := s.relay.Connect(name, c)
	if err != nil {
		s.log.Warn("signaling connect rejected", "namespace", name, "err", err)
		c.closeWith(websocket.CloseTryAgainLater, "cannot join namespace")
		c.shutdown()
		return
	}
	s.log.Debug("signaling websocket connected", "namespace", peer.Namespace(), "peer_id", peer.ID(), "remote_addr", r.RemoteAddr)

	c.readLoop(peer)

	peer.Disconnect()
	c.shutdown()
	s.log.Debug("signaling websocket closed", "namespace", peer.Namespace(), "peer_id", peer.ID())
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Close sends a going-away close frame to every connection and waits for their
// handlers to finish. New upgrades are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.shutdown()
	}
	s.wg.Wait()
}
