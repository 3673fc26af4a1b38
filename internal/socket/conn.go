package socket

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
)

const wsWriteWait = 1 * time.Second

var errSendQueueFull = errors.New("send queue full")

// conn is the signaling.SendHandle for one WebSocket. Frames are queued and
// written by writeLoop, the only goroutine that writes data messages.
type conn struct {
	srv *Server
	ws  *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		srv:  s,
		ws:   ws,
		send: make(chan []byte, s.cfg.SendQueueLength),
		done: make(chan struct{}),
	}
}

// Deliver never blocks. A full queue drops the frame.
func (c *conn) Deliver(f signaling.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return signaling.ErrPeerGone
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return signaling.ErrPeerGone
	default:
		c.srv.metrics.Inc(metrics.SendDroppedBackpressure)
		return errSendQueueFull
	}
}

func (c *conn) readLoop(peer *signaling.Peer) {
	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSecond), cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			// Oversized messages are answered with CloseMessageTooBig by the
			// websocket library itself.
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// Apply the rate limit after reading so that any bytes already in the
		// TCP receive buffer are consumed. Closing with unread data may make the
		// OS reset the connection before the client sees the close frame.
		if !limiter.Allow() {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		env, err := signaling.DecodeFrame(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.MessageMalformed)
			c.srv.log.Debug("ignoring signaling frame", "namespace", peer.Namespace(), "peer_id", peer.ID(), "err", err)
			continue
		}
		peer.HandleEnvelope(env)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
