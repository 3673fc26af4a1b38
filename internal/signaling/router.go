package signaling

import (
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Peer is one connection admitted into a namespace.
type Peer struct {
	relay *Relay
	ns    *Namespace
	id    string

	entered atomic.Bool
	gone    atomic.Bool
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Namespace() string { return p.ns.name }

// HandleEnvelope routes one envelope received from p.
//
// The envelope's From is overwritten with p's id. An addressed envelope goes to
// its target only if the target is currently in the namespace; otherwise it is
// dropped without raising WILL_RELAY. An unaddressed envelope raises WILL_RELAY
// and is broadcast to every other peer when the relay is configured to do so.
func (p *Peer) HandleEnvelope(env *Envelope) {
	if env == nil || p.gone.Load() {
		return
	}
	r := p.relay
	env.From = p.id

	if env.To != "" {
		target, ok := p.ns.lookup(env.To)
		if !ok {
			r.metrics.Inc(metrics.EnvelopeDroppedUnknownTarget)
			return
		}
		r.bus.emit(Event{Type: EventWillRelay, Namespace: p.ns.name, PeerID: p.id, Envelope: env, Relay: true})
		frame, err := messageFrame(env)
		if err != nil {
			r.log.Warn("drop envelope", "namespace", p.ns.name, "peer_id", p.id, "err", err)
			return
		}
		if r.deliver(target, frame) {
			r.metrics.Inc(metrics.EnvelopeRelayed)
		}
		return
	}

	relay := r.opts.RelayNonAddressed
	r.bus.emit(Event{Type: EventWillRelay, Namespace: p.ns.name, PeerID: p.id, Envelope: env, Relay: relay})
	if !relay {
		r.metrics.Inc(metrics.EnvelopeSuppressed)
		return
	}
	frame, err := messageFrame(env)
	if err != nil {
		r.log.Warn("drop envelope", "namespace", p.ns.name, "peer_id", p.id, "err", err)
		return
	}
	r.deliverAll(p.ns.handlesExcept(p.id), frame)
	r.metrics.Inc(metrics.EnvelopeBroadcast)
}

// Disconnect removes p from its namespace, raises PEER_LEFT and tells the
// remaining peers. Only the first call has any effect.
func (p *Peer) Disconnect() {
	if !p.gone.CompareAndSwap(false, true) {
		return
	}
	r := p.relay
	remaining, ok := p.ns.remove(p.id)
	if !ok {
		return
	}
	r.releasePeerID(p.id)

	r.metrics.Inc(metrics.PeerLeft)
	r.metrics.PeerRemoved()
	r.log.Debug("peer left", "namespace", p.ns.name, "peer_id", p.id)
	r.bus.emit(Event{Type: EventPeerLeft, Namespace: p.ns.name, PeerID: p.id})

	r.deliverAll(remaining, presenceFrame(SignalLeave, p.id))
}
