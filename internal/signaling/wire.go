package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Signal names a frame on the signaling WebSocket.
type Signal string

const (
	SignalEnter   Signal = "enter"
	SignalMessage Signal = "message"
	SignalLeave   Signal = "leave"
)

// HelloWord tags the payload of the directed message a peer receives right
// after joining.
const HelloWord = "hello"

// Frame is the unit written to and read from a peer connection:
//
//	{"signal":"message","data":{"payload":...,"from":"...","to":"..."}}
type Frame struct {
	Signal Signal          `json:"signal"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Envelope carries an opaque payload between peers. From is always stamped by
// the relay; envelopes originating from the server never carry it.
type Envelope struct {
	Payload json.RawMessage `json:"payload"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
}

func (e *Envelope) clone() *Envelope {
	out := *e
	out.Payload = bytes.Clone(e.Payload)
	return &out
}

// Presence is the data of enter and leave frames.
type Presence struct {
	PeerID string `json:"peerId"`
}

// Hello is the payload of the message a peer receives right after joining.
// Data lists the peers that were already present, in join order.
type Hello struct {
	Word string   `json:"word"`
	Data []string `json:"data"`
}

func presenceFrame(signal Signal, peerID string) Frame {
	data, _ := json.Marshal(Presence{PeerID: peerID})
	return Frame{Signal: signal, Data: data}
}

func messageFrame(env *Envelope) (Frame, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("encode envelope: %w", err)
	}
	return Frame{Signal: SignalMessage, Data: data}, nil
}

// DecodeFrame parses one inbound frame. For a message frame the returned
// envelope is nil when data is missing or null.
func DecodeFrame(raw []byte) (*Envelope, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Signal != SignalMessage {
		return nil, fmt.Errorf("%w %q", ErrUnknownSignal, f.Signal)
	}
	if len(f.Data) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return nil, nil
	}
	var env Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}
