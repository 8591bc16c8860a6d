// Package nodes tracks remote node peers and routes invokes to them.
package nodes

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// evictionGrace is how long a disconnected node stays listed before it is
// dropped from the registry. A reconnect within the window keeps it.
const evictionGrace = 60 * time.Second

// Node is one connected (or recently disconnected) peer.
type Node struct {
	ID          string    `json:"nodeId"`
	DisplayName string    `json:"displayName,omitempty"`
	Platform    string    `json:"platform"`
	Commands    []string  `json:"commands"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Connected   bool      `json:"connected"`
}

// Registry is the process-wide node table. Writers only on connect and
// disconnect; reads take the shared lock.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	grace time.Duration

	onDisconnect func(nodeID string)
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		grace: evictionGrace,
	}
}

// OnDisconnect registers the callback fired when a node's socket closes,
// before the eviction grace starts. The invoke router uses it to fail
// in-flight tickets.
func (r *Registry) OnDisconnect(fn func(nodeID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

// Connect records a node from its hello. Reconnects replace the previous
// record and cancel any pending eviction.
func (r *Registry) Connect(id, displayName, platform string, commands []string) *Node {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &Node{
		ID:          id,
		DisplayName: displayName,
		Platform:    platform,
		Commands:    append([]string(nil), commands...),
		ConnectedAt: now,
		LastSeenAt:  now,
		Connected:   true,
	}
	r.nodes[id] = n
	return n
}

// Touch bumps the node's last-seen timestamp.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		n.LastSeenAt = time.Now()
	}
}

// Disconnect marks a node offline and schedules eviction after the grace
// window. In-flight invokes fail immediately via the disconnect callback.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if ok {
		n.Connected = false
		n.LastSeenAt = time.Now()
	}
	fn := r.onDisconnect
	grace := r.grace
	r.mu.Unlock()
	if !ok {
		return
	}
	if fn != nil {
		fn(id)
	}

	time.AfterFunc(grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.nodes[id]; ok && !cur.Connected {
			delete(r.nodes, id)
		}
	})
}

// Get returns a copy of the node record.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns all known nodes, connected first, then by id.
func (r *Registry) List() []Node {
	r.mu.RLock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected != out[j].Connected {
			return out[i].Connected
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve picks the invoke target: the requested id when given, otherwise
// the single connected node. Ambiguity and absence are errors.
func (r *Registry) Resolve(requested string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if requested != "" {
		n, ok := r.nodes[requested]
		if !ok || !n.Connected {
			return Node{}, fmt.Errorf("node %q is not connected", requested)
		}
		return *n, nil
	}

	var hit *Node
	for _, n := range r.nodes {
		if !n.Connected {
			continue
		}
		if hit != nil {
			return Node{}, fmt.Errorf("multiple nodes connected, specify one")
		}
		hit = n
	}
	if hit == nil {
		return Node{}, fmt.Errorf("no node connected")
	}
	return *hit, nil
}

// declares reports whether the node listed the command in its hello.
func (n Node) declares(command string) bool {
	for _, c := range n.Commands {
		if c == command {
			return true
		}
	}
	return false
}
