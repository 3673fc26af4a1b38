// Package signaling implements the namespace-scoped envelope relay used by
// browser peers to exchange WebRTC negotiation payloads.
//
// A Relay partitions peers into namespaces. Each inbound envelope is routed to
// the single peer it addresses or broadcast to every other peer in the
// namespace; payloads are never inspected. Lifecycle events are raised on the
// relay's Bus so host applications can observe or react to connects, relays,
// server deliveries and disconnects.
package signaling
