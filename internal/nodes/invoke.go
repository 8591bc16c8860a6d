package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultInvokeTimeout = 30 * time.Second
	ticketRetention      = 5 * time.Minute
	ticketRetentionSize  = 1024
)

// ErrNodeDisconnected fails in-flight tickets when the node's socket
// closes before the result arrives.
var ErrNodeDisconnected = errors.New("node-disconnected")

// InvokeRequest is the event forwarded over the node's socket.
type InvokeRequest struct {
	ID      string          `json:"id"`
	NodeID  string          `json:"nodeId"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

// Result is the node's reply. Payload may be the JSON literal null.
type Result struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payloadJSON"`
	Err     string          `json:"error,omitempty"`
}

// SendFunc delivers an invoke request to a node's connection.
type SendFunc func(nodeID string, req InvokeRequest) error

type ticket struct {
	node string
	res  Result
	err  error
	done chan struct{}
}

// Router correlates node invokes with their results and deduplicates
// calls sharing an idempotency key.
type Router struct {
	reg  *Registry
	send SendFunc

	mu      sync.Mutex
	pending map[string]*ticket            // invoke id → ticket
	byNode  map[string]map[string]*ticket // node id → in-flight tickets

	flights singleflight.Group
	recent  *expirable.LRU[string, Result]
}

// NewRouter creates an invoke router over the registry. Disconnects fail
// the node's in-flight tickets immediately.
func NewRouter(reg *Registry, send SendFunc) *Router {
	r := &Router{
		reg:     reg,
		send:    send,
		pending: make(map[string]*ticket),
		byNode:  make(map[string]map[string]*ticket),
		recent:  expirable.NewLRU[string, Result](ticketRetentionSize, nil, ticketRetention),
	}
	reg.OnDisconnect(r.failNode)
	return r
}

// gate resolves the target node and checks both command allowlists.
func (r *Router) gate(nodeID, command string) (Node, error) {
	node, err := r.reg.Resolve(nodeID)
	if err != nil {
		return Node{}, err
	}
	if !node.declares(command) || !PlatformAllows(node.Platform, command) {
		return Node{}, fmt.Errorf("node command not allowed: %q on node %s (%s)",
			command, node.ID, node.Platform)
	}
	return node, nil
}

// InvokeWithKey forwards a command to a node and waits for the correlated
// result. Calls sharing (nodeId, idempotencyKey) within the retention
// window send a single request to the node; later callers attach to the
// in-flight ticket or get the cached result.
func (r *Router) InvokeWithKey(ctx context.Context, nodeID, command string, params any, idempotencyKey string, timeoutMs int) (Result, error) {
	node, err := r.gate(nodeID, command)
	if err != nil {
		return Result{}, err
	}

	timeout := defaultInvokeTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	if idempotencyKey == "" {
		return r.dispatch(ctx, node, command, params, timeout)
	}

	key := node.ID + "\x00" + idempotencyKey
	if res, ok := r.recent.Get(key); ok {
		return res, nil
	}

	// The flight runs on its own context so a caller giving up does not
	// cancel the request for the others attached to it.
	ch := r.flights.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := r.dispatch(fctx, node, command, params, timeout)
		if err == nil {
			r.recent.Add(key, res)
		}
		return res, err
	})

	select {
	case v := <-ch:
		if v.Err != nil {
			return Result{}, v.Err
		}
		return v.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Router) dispatch(ctx context.Context, node Node, command string, params any, timeout time.Duration) (Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Result{}, fmt.Errorf("encode invoke params: %w", err)
	}

	id := uuid.NewString()
	t := &ticket{node: node.ID, done: make(chan struct{})}

	r.mu.Lock()
	r.pending[id] = t
	if r.byNode[node.ID] == nil {
		r.byNode[node.ID] = make(map[string]*ticket)
	}
	r.byNode[node.ID][id] = t
	r.mu.Unlock()
	defer r.forget(node.ID, id)

	if err := r.send(node.ID, InvokeRequest{ID: id, NodeID: node.ID, Command: command, Params: raw}); err != nil {
		return Result{}, fmt.Errorf("send invoke to node %s: %w", node.ID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.res, t.err
	case <-timer.C:
		return Result{}, fmt.Errorf("node invoke %s timed out after %s", command, timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Router) forget(nodeID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
	r.dropFromNodeLocked(nodeID, id)
}

func (r *Router) dropFromNodeLocked(nodeID, id string) {
	if m := r.byNode[nodeID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(r.byNode, nodeID)
		}
	}
}

// HandleResult resolves the ticket for an invoke id. Returns false when
// no ticket is waiting (late or duplicate reply). The ticket leaves both
// maps under the lock, so a concurrent disconnect cannot see it again;
// whoever removes a ticket from pending owns the close of its channel.
func (r *Router) HandleResult(id string, ok bool, payload json.RawMessage, errMsg string) bool {
	r.mu.Lock()
	t, found := r.pending[id]
	if found {
		delete(r.pending, id)
		r.dropFromNodeLocked(t.node, id)
	}
	r.mu.Unlock()
	if !found {
		return false
	}
	t.res = Result{OK: ok, Payload: payload, Err: errMsg}
	close(t.done)
	return true
}

// failNode fails every in-flight ticket for the node. Only tickets still
// in pending are closed: one already resolved by HandleResult belongs to
// that caller.
func (r *Router) failNode(nodeID string) {
	r.mu.Lock()
	var tickets []*ticket
	for id, t := range r.byNode[nodeID] {
		if _, inFlight := r.pending[id]; inFlight {
			delete(r.pending, id)
			tickets = append(tickets, t)
		}
	}
	delete(r.byNode, nodeID)
	r.mu.Unlock()

	for _, t := range tickets {
		t.err = ErrNodeDisconnected
		close(t.done)
	}
}

// ResolveNode picks the invoke target for an exec: the requested id when
// given, otherwise the single connected node.
func (r *Router) ResolveNode(requested string) (nodeID, platform string, err error) {
	n, err := r.reg.Resolve(requested)
	return n.ID, n.Platform, err
}

// HasCommand reports whether the node may serve the command (declared
// and carried by its platform catalog).
func (r *Router) HasCommand(nodeID, command string) bool {
	n, ok := r.reg.Get(nodeID)
	return ok && n.declares(command) && PlatformAllows(n.Platform, command)
}

// Invoke forwards a command without idempotency and unwraps the payload.
// A node-side failure comes back as an error carrying the node's message.
func (r *Router) Invoke(ctx context.Context, nodeID, command string, params any, timeoutMs int) (json.RawMessage, error) {
	res, err := r.InvokeWithKey(ctx, nodeID, command, params, "", timeoutMs)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return res.Payload, fmt.Errorf("node invoke failed: %s", res.Err)
	}
	return res.Payload, nil
}
