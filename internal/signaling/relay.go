package signaling

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// SendHandle delivers one frame to exactly one connected peer. Deliver must
// not block on the network; the relay calls it without holding any lock.
type SendHandle interface {
	Deliver(Frame) error
}

type Options struct {
	// RelayNonAddressed broadcasts envelopes without a target to the rest of the
	// namespace. When false they are only raised to observers.
	RelayNonAddressed bool

	// IDGenerator returns a fresh peer id. Defaults to random UUIDs.
	IDGenerator func() string
	// RetiredPeerIDCacheSize is the number of departed peer ids remembered so
	// they are never handed out again. Zero disables the cache.
	RetiredPeerIDCacheSize int

	Dispatch          DispatchMode
	MaxAsyncObservers int64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		RelayNonAddressed:      true,
		RetiredPeerIDCacheSize: 4096,
		Dispatch:               DispatchSync,
		MaxAsyncObservers:      64,
	}
}

// Relay owns the namespaces of one signaling server and the observers watching
// them. Independent relays in the same process share nothing.
type Relay struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	bus     *Bus

	mu         sync.Mutex
	closed     bool
	namespaces map[string]*Namespace
	active     map[string]*Peer
	retired    *lru.Cache[string, struct{}]
}

func New(opts Options) (*Relay, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.RetiredPeerIDCacheSize < 0 {
		return nil, fmt.Errorf("retired peer id cache size must be >= 0")
	}

	r := &Relay{
		opts:       opts,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		namespaces: make(map[string]*Namespace),
		active:     make(map[string]*Peer),
	}
	if opts.RetiredPeerIDCacheSize > 0 {
		cache, err := lru.New[string, struct{}](opts.RetiredPeerIDCacheSize)
		if err != nil {
			return nil, fmt.Errorf("retired peer id cache: %w", err)
		}
		r.retired = cache
	}
	r.bus = NewBus(BusConfig{
		Mode:        opts.Dispatch,
		MaxInFlight: opts.MaxAsyncObservers,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	return r, nil
}

// Events returns the relay's lifecycle event bus.
func (r *Relay) Events() *Bus {
	return r.bus
}

func (r *Relay) Metrics() *metrics.Metrics {
	return r.metrics
}

// EnsureNamespace returns the namespace called name, creating it on first use.
// NAMESPACE_CREATED is raised exactly once per name.
func (r *Relay) EnsureNamespace(name string) (*Namespace, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRelayClosed
	}
	if ns, ok := r.namespaces[canonical]; ok {
		r.mu.Unlock()
		return ns, nil
	}
	ns := newNamespace(canonical)
	r.namespaces[canonical] = ns
	r.mu.Unlock()

	r.metrics.Inc(metrics.NamespaceCreated)
	r.metrics.NamespaceAdded()
	r.log.Info("namespace created", "namespace", canonical)
	r.bus.emit(Event{Type: EventNamespaceCreated, Namespace: canonical})
	return ns, nil
}

// Namespace looks up an existing namespace without creating it.
func (r *Relay) Namespace(name string) (*Namespace, bool) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[canonical]
	return ns, ok
}

// Connect admits a new peer into the named namespace (creating it if needed).
//
// Existing peers receive an enter signal and the new peer receives a hello
// message listing the peers that were present before it.
func (r *Relay) Connect(name string, handle SendHandle) (*Peer, error) {
	if handle == nil {
		return nil, errors.New("nil send handle")
	}
	ns, err := r.EnsureNamespace(name)
	if err != nil {
		return nil, err
	}

	p := &Peer{relay: r, ns: ns}
	existing, others, err := r.admit(p, handle)
	if err != nil {
		return nil, err
	}

	r.metrics.Inc(metrics.PeerEntered)
	r.metrics.PeerAdded()
	r.log.Debug("peer entered", "namespace", ns.name, "peer_id", p.id, "peers", len(existing)+1)
	r.bus.emit(Event{Type: EventPeerEntered, Namespace: ns.name, PeerID: p.id})

	r.deliverAll(others, presenceFrame(SignalEnter, p.id))

	if _, err := r.SendTo(ns.name, p.id, Hello{Word: HelloWord, Data: existing}); err != nil {
		r.log.Warn("send hello failed", "namespace", ns.name, "peer_id", p.id, "err", err)
	}

	// Close skips peers that have not finished entering, so a peer admitted
	// while the relay was closing leaves here, after its PEER_ENTERED.
	p.entered.Store(true)
	if r.isClosed() {
		p.Disconnect()
		return nil, ErrRelayClosed
	}
	return p, nil
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// admit assigns p a unique id and adds it to its namespace. Both happen under
// r.mu so Close never misses a peer.
func (r *Relay) admit(p *Peer, handle SendHandle) ([]string, []SendHandle, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id := r.opts.IDGenerator()
		if id == "" {
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, nil, ErrRelayClosed
		}
		_, inUse := r.active[id]
		if !inUse && r.retired != nil {
			inUse = r.retired.Contains(id)
		}
		if inUse {
			// Extremely unlikely with random UUIDs. Try again.
			r.mu.Unlock()
			continue
		}
		p.id = id
		r.active[id] = p
		existing, others := p.ns.add(p, handle)
		r.mu.Unlock()
		return existing, others, nil
	}
	return nil, nil, ErrPeerIDExhausted
}

func (r *Relay) releasePeerID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	if r.retired != nil {
		r.retired.Add(id, struct{}{})
	}
}

// Close disconnects every peer and rejects further connections. PEER_LEFT is
// raised for each peer, never before its PEER_ENTERED: a peer still inside
// Connect disconnects itself once it has entered. Close waits for in-flight
// async observers.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	namespaces := make([]*Namespace, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		namespaces = append(namespaces, ns)
	}
	r.mu.Unlock()

	for _, ns := range namespaces {
		for _, p := range ns.peers() {
			if p.entered.Load() {
				p.Disconnect()
			}
		}
	}
	r.bus.Wait()
}

func (r *Relay) deliver(h SendHandle, f Frame) bool {
	if err := h.Deliver(f); err != nil {
		if !errors.Is(err, ErrPeerGone) {
			r.log.Debug("deliver failed", "signal", f.Signal, "err", err)
		}
		return false
	}
	return true
}

func (r *Relay) deliverAll(handles []SendHandle, f Frame) int {
	n := 0
	for _, h := range handles {
		if r.deliver(h, f) {
			n++
		}
	}
	return n
}
