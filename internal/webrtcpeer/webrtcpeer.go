// Package webrtcpeer is a Go WebRTC endpoint that negotiates through the
// signaling relay. Descriptions are exchanged as envelope payloads in the same
// {"type":"offer","sdp":"..."} shape browsers use, with ICE candidates gathered
// up front rather than trickled.
package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers []webrtc.ICEServer

	// Net replaces the host network stack, e.g. with a vnet in tests.
	Net transport.Net
	// LoggerFactory receives pion's internal logs. Defaults to pion's
	// stderr logger at its default level.
	LoggerFactory logging.LoggerFactory

	Logger *slog.Logger
}

// NewAPI builds the pion API used for every PeerConnection of a Peer.
func NewAPI(cfg Config) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	} else {
		se.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// Peer answers offers from other peers in its namespace and can open
// connections to them.
type Peer struct {
	client *Client
	api    *webrtc.API
	cfg    Config
	log    *slog.Logger

	mu            sync.Mutex
	closed        bool
	pending       map[string]chan webrtc.SessionDescription
	conns         []*webrtc.PeerConnection
	onDataChannel func(remote string, dc *webrtc.DataChannel)
}

func NewPeer(client *Client, cfg Config) (*Peer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("new webrtc api: %w", err)
	}
	return &Peer{
		client:  client,
		api:     api,
		cfg:     cfg,
		log:     cfg.Logger.With("peer_id", client.ID()),
		pending: make(map[string]chan webrtc.SessionDescription),
	}, nil
}

func (p *Peer) ID() string { return p.client.ID() }

// OnDataChannel registers fn for data channels opened by remote peers. It must
// be called before Serve.
func (p *Peer) OnDataChannel(fn func(remote string, dc *webrtc.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannel = fn
}

// Serve consumes signaling messages until ctx is done or the signaling
// connection ends. Offers are answered in the background; answers complete
// pending Connect calls. Other payloads are ignored.
func (p *Peer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.client.Messages():
			if !ok {
				return p.client.Err()
			}
			p.handle(ctx, msg)
		}
	}
}

func (p *Peer) handle(ctx context.Context, msg Message) {
	if msg.From == "" {
		// Server-originated messages carry no descriptions.
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &desc); err != nil || desc.SDP == "" {
		return
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		go func() {
			if err := p.answer(ctx, msg.From, desc); err != nil {
				p.log.Warn("answer failed", "remote", msg.From, "err", err)
			}
		}()
	case webrtc.SDPTypeAnswer:
		p.mu.Lock()
		ch, ok := p.pending[msg.From]
		delete(p.pending, msg.From)
		p.mu.Unlock()
		if ok {
			ch <- desc
		}
	}
}

// Connect offers a connection to remote carrying one data channel labelled
// label. It returns once the remote answered; the data channel may still be
// opening. Serve must be running to receive the answer.
func (p *Peer) Connect(ctx context.Context, remote, label string) (*webrtc.PeerConnection, *webrtc.DataChannel, error) {
	pc, err := p.newPeerConnection()
	if err != nil {
		return nil, nil, err
	}
	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create offer: %w", err)
	}
	local, err := setLocalAndGather(ctx, pc, offer)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}

	answerCh := make(chan webrtc.SessionDescription, 1)
	p.mu.Lock()
	p.pending[remote] = answerCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.pending[remote] == answerCh {
			delete(p.pending, remote)
		}
		p.mu.Unlock()
	}()

	if err := p.client.Send(remote, local); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("send offer: %w", err)
	}

	select {
	case answer := <-answerCh:
		if err := pc.SetRemoteDescription(answer); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("set remote description: %w", err)
		}
		return pc, dc, nil
	case <-ctx.Done():
		_ = pc.Close()
		return nil, nil, ctx.Err()
	}
}

func (p *Peer) answer(ctx context.Context, remote string, offer webrtc.SessionDescription) error {
	pc, err := p.newPeerConnection()
	if err != nil {
		return err
	}

	p.mu.Lock()
	onDataChannel := p.onDataChannel
	p.mu.Unlock()
	if onDataChannel != nil {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			onDataChannel(remote, dc)
		})
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	local, err := setLocalAndGather(ctx, pc, answer)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := p.client.Send(remote, local); err != nil {
		_ = pc.Close()
		return fmt.Errorf("send answer: %w", err)
	}
	p.log.Debug("answered offer", "remote", remote)
	return nil
}

func (p *Peer) newPeerConnection() (*webrtc.PeerConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClientClosed
	}
	pc, err := p.api.NewPeerConnection(webrtc.Configuration{ICEServers: p.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p.conns = append(p.conns, pc)
	return pc, nil
}

// setLocalAndGather applies desc and waits for ICE gathering so the returned
// description carries every candidate.
func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errors.New("missing local description")
	}
	return *local, nil
}

// Close closes every PeerConnection and the signaling connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var errs []error
	for _, pc := range conns {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
