package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawdbot/clawdbot/internal/approvals"
	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// ApprovalBridge hosts the approval socket responder and relays requests
// to connected hub clients: the exec engine dials the socket, the bridge
// broadcasts exec.approval.requested, and a client answers over RPC.
type ApprovalBridge struct {
	server *gateway.Server
	store  *approvals.Store

	responder *approvals.Responder
	mu        sync.Mutex
	pending   map[string]*pendingApproval
}

type pendingApproval struct {
	ID        string
	Request   approvals.Request
	CreatedAt time.Time
	decision  chan string
}

func NewApprovalBridge(server *gateway.Server, store *approvals.Store) *ApprovalBridge {
	return &ApprovalBridge{
		server:  server,
		store:   store,
		pending: make(map[string]*pendingApproval),
	}
}

// Start listens on the approval socket declared in the approvals file.
func (b *ApprovalBridge) Start() error {
	f, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("load approvals: %w", err)
	}
	responder, err := approvals.ListenAndServe(f.Socket, b.decide)
	if err != nil {
		return err
	}
	b.responder = responder
	return nil
}

// Close stops the socket responder.
func (b *ApprovalBridge) Close() {
	if b.responder != nil {
		b.responder.Close()
	}
}

func (b *ApprovalBridge) Register(router *gateway.MethodRouter) {
	router.Register("exec.approval.request", b.handleRequest)
	router.Register("exec.approval.resolve", b.handleResolve)
}

// decide answers one socket request: broadcast to clients, wait for a
// resolve RPC, return "" (null decision) when nobody answers in time.
func (b *ApprovalBridge) decide(id string, req approvals.Request) string {
	pa := &pendingApproval{
		ID:        id,
		Request:   req,
		CreatedAt: time.Now(),
		decision:  make(chan string, 1),
	}
	b.mu.Lock()
	b.pending[id] = pa
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.server.Broadcast(protocol.EventExecApprovalReq, protocol.NewValue(map[string]any{
		"id":         id,
		"command":    req.Command,
		"cwd":        req.Cwd,
		"host":       req.Host,
		"agentId":    req.AgentID,
		"sessionKey": req.SessionKey,
		"timeoutMs":  req.TimeoutMs,
	}))

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var decision string
	select {
	case decision = <-pa.decision:
	case <-time.After(timeout):
		slog.Info("exec approval timed out", "id", id, "command", req.Command)
	}

	b.server.Broadcast(protocol.EventExecApprovalRes, protocol.NewValue(map[string]any{
		"id":       id,
		"decision": decision,
	}))
	return decision
}

// handleRequest returns the approvals waiting for a decision.
func (b *ApprovalBridge) handleRequest(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	type pendingInfo struct {
		ID        string `json:"id"`
		Command   string `json:"command"`
		AgentID   string `json:"agentId"`
		Host      string `json:"host,omitempty"`
		CreatedAt int64  `json:"createdAt"`
	}

	b.mu.Lock()
	items := make([]pendingInfo, 0, len(b.pending))
	for _, pa := range b.pending {
		items = append(items, pendingInfo{
			ID:        pa.ID,
			Command:   pa.Request.Command,
			AgentID:   pa.Request.AgentID,
			Host:      pa.Request.Host,
			CreatedAt: pa.CreatedAt.UnixMilli(),
		})
	}
	b.mu.Unlock()

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"pending": items,
	}))
}

// handleResolve submits a decision for a pending approval.
func (b *ApprovalBridge) handleResolve(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID       string `json:"id"`
		Decision string `json:"decision"` // allow-once | allow-always | deny
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required"))
		return
	}
	switch params.Decision {
	case approvals.DecisionAllowOnce, approvals.DecisionAllowAlways, approvals.DecisionDeny:
	default:
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"decision must be allow-once, allow-always, or deny"))
		return
	}

	b.mu.Lock()
	pa := b.pending[params.ID]
	b.mu.Unlock()
	if pa == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound,
			"no pending approval with id "+params.ID))
		return
	}

	select {
	case pa.decision <- params.Decision:
	default: // already resolved by another client
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"resolved": true,
		"decision": params.Decision,
	}))
}
