package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Send delivers a server-originated payload to every peer in the namespace.
// It returns the number of peers the message was handed to. A namespace that
// does not exist is a no-op.
func (r *Relay) Send(namespace string, payload any) (int, error) {
	return r.send(namespace, "", payload)
}

// SendTo delivers a server-originated payload to one peer. A missing namespace
// or peer is a no-op and raises no event.
func (r *Relay) SendTo(namespace, peerID string, payload any) (int, error) {
	if peerID == "" {
		return 0, fmt.Errorf("send to: empty peer id")
	}
	return r.send(namespace, peerID, payload)
}

func (r *Relay) send(namespace, to string, payload any) (int, error) {
	ns, ok := r.Namespace(namespace)
	if !ok {
		return 0, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	env := &Envelope{Payload: raw, To: to}
	frame, err := messageFrame(env)
	if err != nil {
		return 0, err
	}

	var targets []SendHandle
	if to != "" {
		h, ok := ns.lookup(to)
		if !ok {
			return 0, nil
		}
		targets = []SendHandle{h}
	} else {
		targets = ns.handlesExcept("")
	}

	r.bus.emit(Event{Type: EventWillDeliver, Namespace: ns.name, Envelope: env})
	n := r.deliverAll(targets, frame)
	r.metrics.Add(metrics.EnvelopeDelivered, n)
	return n, nil
}
