package signaling

import (
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// EventType is one of the fixed lifecycle tags raised by the relay.
type EventType string

const (
	EventNamespaceCreated EventType = "NAMESPACE_CREATED"
	EventPeerEntered      EventType = "PEER_ENTERED"
	EventWillRelay        EventType = "WILL_RELAY"
	EventWillDeliver      EventType = "WILL_DELIVER"
	EventPeerLeft         EventType = "PEER_LEFT"
)

// EventTypes lists every tag in the order a peer's lifecycle raises them.
var EventTypes = []EventType{
	EventNamespaceCreated,
	EventPeerEntered,
	EventWillRelay,
	EventWillDeliver,
	EventPeerLeft,
}

// Event is passed to observers. Envelope is set for WILL_RELAY and
// WILL_DELIVER and is a copy owned by the observer. Relay is only meaningful
// for WILL_RELAY.
type Event struct {
	Type      EventType
	Namespace string
	PeerID    string
	Envelope  *Envelope
	Relay     bool
}

type Observer func(Event)

type DispatchMode int

const (
	// DispatchSync runs every observer before the relay step that follows the
	// event.
	DispatchSync DispatchMode = iota
	// DispatchAsync hands events to background goroutines. Events are dropped
	// when too many dispatches are already in flight.
	DispatchAsync
)

type BusConfig struct {
	Mode DispatchMode
	// MaxInFlight bounds concurrent async dispatches. Ignored for DispatchSync.
	MaxInFlight int64
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Bus is a per-relay observer registry.
type Bus struct {
	mode    DispatchMode
	sem     *semaphore.Weighted
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	nextID    uint64
	observers map[EventType][]subscriber

	inflight sync.WaitGroup
}

type subscriber struct {
	id uint64
	fn Observer
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	return &Bus{
		mode:      cfg.Mode,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		observers: make(map[EventType][]subscriber),
	}
}

// Subscription removes its observer when cancelled.
type Subscription struct {
	bus  *Bus
	typ  EventType
	id   uint64
	once sync.Once
}

// On registers fn for events of type typ. Observers for a type run in
// registration order.
func (b *Bus) On(typ EventType, fn Observer) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.observers[typ] = append(b.observers[typ], subscriber{id: id, fn: fn})
	return &Subscription{bus: b, typ: typ, id: id}
}

// OnAll registers fn for every event type.
func (b *Bus) OnAll(fn Observer) []*Subscription {
	subs := make([]*Subscription, 0, len(EventTypes))
	for _, typ := range EventTypes {
		subs = append(subs, b.On(typ, fn))
	}
	return subs
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.observers[s.typ]
		for i, sub := range subs {
			if sub.id == s.id {
				// Copy so an in-progress emit keeps iterating its own snapshot.
				next := make([]subscriber, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				b.observers[s.typ] = append(next, subs[i+1:]...)
				return
			}
		}
	})
}

// Wait blocks until all in-flight async dispatches have finished.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

func (b *Bus) emit(ev Event) {
	b.mu.RLock()
	subs := b.observers[ev.Type]
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	if b.mode == DispatchSync {
		b.run(subs, ev)
		return
	}

	if !b.sem.TryAcquire(1) {
		if b.metrics != nil {
			b.metrics.Inc(metrics.ObserverEventDropped)
		}
		b.log.Warn("observer event dropped", "event", ev.Type, "namespace", ev.Namespace)
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer b.sem.Release(1)
		b.run(subs, ev)
	}()
}

func (b *Bus) run(subs []subscriber, ev Event) {
	for _, sub := range subs {
		b.call(sub.fn, ev)
	}
}

func (b *Bus) call(fn Observer, ev Event) {
	defer func() {
		if v := recover(); v != nil {
			if b.metrics != nil {
				b.metrics.Inc(metrics.ObserverPanicked)
			}
			b.log.Error("observer panic", "event", ev.Type, "namespace", ev.Namespace, "panic", v)
		}
	}()
	if ev.Envelope != nil {
		ev.Envelope = ev.Envelope.clone()
	}
	fn(ev)
}
