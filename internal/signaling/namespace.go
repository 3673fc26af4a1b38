package signaling

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NamespaceSeparator prefixes every canonical namespace name.
const NamespaceSeparator = "/"

const maxNamespaceNameLen = 128

// CanonicalName returns the registry key for a caller-supplied namespace name.
// Names may be given with or without the leading separator.
func CanonicalName(name string) (string, error) {
	bare := strings.TrimPrefix(name, NamespaceSeparator)
	if bare == "" || len(bare) > maxNamespaceNameLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}
	for i := 0; i < len(bare); i++ {
		if !isNameByte(bare[i]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
		}
	}
	return NamespaceSeparator + bare, nil
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	default:
		return false
	}
}

// Namespace is an isolated room and its peer registry. All registry access is
// serialized by mu; callers never hold mu while raising events or delivering.
type Namespace struct {
	name string

	mu      sync.Mutex
	joinSeq uint64
	members map[string]member
}

type member struct {
	peer   *Peer
	handle SendHandle
	seq    uint64
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		name:    name,
		members: make(map[string]member),
	}
}

// Name returns the canonical name, including the leading separator.
func (n *Namespace) Name() string {
	return n.name
}

// PeerIDs returns the connected peer ids in join order.
func (n *Namespace) PeerIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idsLocked()
}

func (n *Namespace) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.members)
}

func (n *Namespace) idsLocked() []string {
	ordered := make([]member, 0, len(n.members))
	for _, m := range n.members {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	ids := make([]string, len(ordered))
	for i, m := range ordered {
		ids[i] = m.peer.id
	}
	return ids
}

// add registers p and returns the ids and handles of the peers that were
// present before it. A peer admitted later is never among them, so it learns
// about p from its hello alone.
func (n *Namespace) add(p *Peer, handle SendHandle) ([]string, []SendHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	existing := n.idsLocked()
	handles := n.handlesExceptLocked("")
	n.joinSeq++
	n.members[p.id] = member{peer: p, handle: handle, seq: n.joinSeq}
	return existing, handles
}

// remove unregisters id and returns the handles of the peers still present.
func (n *Namespace) remove(id string) ([]SendHandle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.members[id]; !ok {
		return nil, false
	}
	delete(n.members, id)
	return n.handlesExceptLocked(""), true
}

func (n *Namespace) lookup(id string) (SendHandle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.members[id]
	return m.handle, ok
}

// handlesExcept snapshots every handle other than the one belonging to id.
// An empty id excludes nobody.
func (n *Namespace) handlesExcept(id string) []SendHandle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handlesExceptLocked(id)
}

func (n *Namespace) handlesExceptLocked(id string) []SendHandle {
	out := make([]SendHandle, 0, len(n.members))
	for peerID, m := range n.members {
		if peerID == id {
			continue
		}
		out = append(out, m.handle)
	}
	return out
}

func (n *Namespace) peers() []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Peer, 0, len(n.members))
	for _, m := range n.members {
		out = append(out, m.peer)
	}
	return out
}
