package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
)

// startRelay runs the full relay on a loopback listener. cancel triggers a
// graceful shutdown and wait returns run's result.
func startRelay(t *testing.T, args ...string) (baseURL string, cancel context.CancelFunc, wait func() error) {
	t.Helper()

	cfg, err := config.Load(append([]string{"--listen-addr", "127.0.0.1:0"}, args...))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	var runErr error
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		defer close(stopped)
		runErr = run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: "test"})
	}()

	wait = func() error {
		select {
		case <-stopped:
			return runErr
		case <-time.After(5 * time.Second):
			return errors.New("timeout waiting for relay to stop")
		}
	}
	t.Cleanup(func() {
		cancel()
		if err := wait(); err != nil {
			t.Errorf("relay stopped with error: %v", err)
		}
	})

	return "http://" + ln.Addr().String(), cancel, wait
}

func dialNamespace(t *testing.T, baseURL, namespace string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/signaling/ws/" + namespace
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type frame struct {
	Signal string `json:"signal"`
	Data   struct {
		Payload json.RawMessage `json:"payload"`
		From    string          `json:"from"`
		To      string          `json:"to"`
		PeerID  string          `json:"peerId"`
	} `json:"data"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func fetchMetrics(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestRun_SignalingRoundTrip(t *testing.T) {
	baseURL, _, _ := startRelay(t)

	a := dialNamespace(t, baseURL, "call")
	helloA := readFrame(t, a)
	aID := helloA.Data.To

	b := dialNamespace(t, baseURL, "call")
	helloB := readFrame(t, b)
	bID := helloB.Data.To
	if enter := readFrame(t, a); enter.Signal != "enter" || enter.Data.PeerID != bID {
		t.Fatalf("enter=%+v, want enter for %s", enter, bID)
	}

	if err := b.WriteJSON(map[string]any{
		"signal": "message",
		"data":   map[string]any{"to": aID, "payload": map[string]string{"type": "offer"}},
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	got := readFrame(t, a)
	if got.Signal != "message" || got.Data.From != bID {
		t.Fatalf("frame=%+v, want message from %s", got, bID)
	}

	body := fetchMetrics(t, baseURL)
	for _, want := range []string{
		`aero_webrtc_signaling_relay_events_total{event="peer_entered"} 2`,
		`aero_webrtc_signaling_relay_events_total{event="envelope_relayed"} 1`,
		`aero_webrtc_signaling_relay_peers 2`,
		`aero_webrtc_signaling_relay_namespaces 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestRun_AdminEndpointBinding(t *testing.T) {
	post := func(t *testing.T, baseURL string) int {
		t.Helper()
		resp, err := http.Post(baseURL+"/signaling/namespace", "application/json", strings.NewReader(`{"name":"lobby"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("unbound", func(t *testing.T) {
		baseURL, _, _ := startRelay(t, "--bind-admin-endpoint=false")
		if status := post(t, baseURL); status == http.StatusCreated {
			t.Fatalf("status=%d, want admin endpoint to be absent", status)
		}
	})

	t.Run("bound by default", func(t *testing.T) {
		baseURL, _, _ := startRelay(t)
		if status := post(t, baseURL); status != http.StatusCreated {
			t.Fatalf("status=%d, want %d", status, http.StatusCreated)
		}
	})
}

func TestRun_ShutdownDisconnectsPeers(t *testing.T) {
	baseURL, cancel, wait := startRelay(t)

	c := dialNamespace(t, baseURL, "call")
	readFrame(t, c)

	cancel()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going away close, got %v", err)
	}

	if err := wait(); err != nil {
		t.Fatalf("run returned %v", err)
	}
}
