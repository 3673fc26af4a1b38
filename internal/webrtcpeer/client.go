package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
)

const (
	wsWriteWait = 1 * time.Second

	messageQueueLength  = 64
	presenceQueueLength = 64
)

var ErrClientClosed = errors.New("signaling client closed")

// Message is an envelope received from the relay. From is empty for messages
// originating from the server.
type Message struct {
	From    string
	To      string
	Payload json.RawMessage
}

// PresenceChange reports a peer entering or leaving the namespace.
type PresenceChange struct {
	Entered bool
	PeerID  string
}

// Client speaks the relay's WebSocket signaling protocol for one peer.
type Client struct {
	conn *websocket.Conn

	id           string
	initialPeers []string

	writeMu sync.Mutex

	messages chan Message
	presence chan PresenceChange

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// Dial joins the namespace served at url (ws://host/signaling/ws/<name>) and
// waits for the relay's hello, which carries this peer's id. Frames that
// arrive ahead of the hello, such as messages sent by PEER_ENTERED observers,
// are kept and delivered first.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	c := &Client{
		conn:     conn,
		messages: make(chan Message, messageQueueLength),
		presence: make(chan PresenceChange, presenceQueueLength),
		done:     make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for c.id == "" {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("read hello: %w", err)
		}
		if err := c.handleEarly(raw); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	go c.readLoop()
	return c, nil
}

func (c *Client) handleEarly(raw []byte) error {
	var f signaling.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("expected hello, got %q", raw)
	}
	if f.Signal == signaling.SignalMessage {
		var env signaling.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			return fmt.Errorf("expected hello, got %q", raw)
		}
		var hello signaling.Hello
		if env.From == "" && env.To != "" && json.Unmarshal(env.Payload, &hello) == nil && hello.Word == signaling.HelloWord {
			c.id = env.To
			c.initialPeers = hello.Data
			return nil
		}
	}
	if !c.dispatch(f) {
		return fmt.Errorf("too many frames before hello")
	}
	return nil
}

// ID is the peer id the relay assigned to this connection.
func (c *Client) ID() string { return c.id }

// InitialPeers lists the peers that were in the namespace when this client
// joined, in join order.
func (c *Client) InitialPeers() []string {
	return append([]string(nil), c.initialPeers...)
}

// Messages yields envelopes addressed to or broadcast at this peer. The
// channel is closed when the connection ends.
func (c *Client) Messages() <-chan Message { return c.messages }

// Presence yields enter and leave notifications. Notifications are dropped if
// the channel is not drained.
func (c *Client) Presence() <-chan PresenceChange { return c.presence }

// Done is closed when the connection ends. Err then reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send relays payload to peer to, or to every other peer when to is empty.
func (c *Client) Send(to string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	data, err := json.Marshal(signaling.Envelope{Payload: raw, To: to})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	frame, err := json.Marshal(signaling.Frame{Signal: signaling.SignalMessage, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	c.finish(ErrClientClosed)
	return nil
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer close(c.messages)
	defer close(c.presence)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		var f signaling.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Signal == signaling.SignalMessage {
			msg, ok := decodeMessage(f)
			if !ok {
				continue
			}
			select {
			case c.messages <- msg:
			case <-c.done:
				return
			}
			continue
		}
		c.dispatch(f)
	}
}

// dispatch queues f without blocking. It reports false only when a message
// could not be queued; presence changes are dropped silently.
func (c *Client) dispatch(f signaling.Frame) bool {
	switch f.Signal {
	case signaling.SignalMessage:
		msg, ok := decodeMessage(f)
		if !ok {
			return true
		}
		select {
		case c.messages <- msg:
			return true
		default:
			return false
		}
	case signaling.SignalEnter, signaling.SignalLeave:
		var p signaling.Presence
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return true
		}
		select {
		case c.presence <- PresenceChange{Entered: f.Signal == signaling.SignalEnter, PeerID: p.PeerID}:
		default:
		}
	}
	return true
}

func decodeMessage(f signaling.Frame) (Message, bool) {
	var env signaling.Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return Message{}, false
	}
	return Message{From: env.From, To: env.To, Payload: env.Payload}, true
}
