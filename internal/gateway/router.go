package gateway

import (
	"context"
	"log/slog"

	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// RPC method names served by the hub itself. Feature packages register
// their own methods on top.
const (
	MethodHealth           = "health"
	MethodStatus           = "status"
	MethodNodeList         = "node.list"
	MethodNodeInvoke       = "node.invoke"
	MethodNodeInvokeResult = "node.invoke.result"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers and gates them by role.
type MethodRouter struct {
	handlers map[string]MethodHandler
	roles    map[string]map[string]bool // method → allowed roles; absent means chat-ui+cli
	server   *Server
	chat     ChatRunner
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		roles:    make(map[string]map[string]bool),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler, callable by chat-ui and cli clients.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// RegisterForRoles adds a handler restricted to the given roles.
func (r *MethodRouter) RegisterForRoles(method string, handler MethodHandler, roles ...string) {
	r.handlers[method] = handler
	set := make(map[string]bool, len(roles))
	for _, role := range roles {
		set[role] = true
	}
	r.roles[method] = set
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}

	if !r.roleAllowed(req.Method, client.role) {
		slog.Warn("method denied by role", "method", req.Method, "role", client.role, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrUnauthorized, "role "+client.role+" may not call "+req.Method))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

// roleAllowed defaults to chat-ui and cli; node clients only reach
// methods explicitly registered for the node role.
func (r *MethodRouter) roleAllowed(method, role string) bool {
	if set, ok := r.roles[method]; ok {
		return set[role]
	}
	return role == protocol.RoleChatUI || role == protocol.RoleCLI
}

func (r *MethodRouter) registerDefaults() {
	r.RegisterForRoles(MethodHealth, r.handleHealth,
		protocol.RoleChatUI, protocol.RoleCLI, protocol.RoleNode)
	r.Register(MethodStatus, r.handleStatus)
	r.Register(MethodNodeList, r.handleNodeList)
	r.Register(MethodNodeInvoke, r.handleNodeInvoke)
	r.RegisterForRoles(MethodNodeInvokeResult, r.handleNodeInvokeResult, protocol.RoleNode)
}

func (r *MethodRouter) handleHealth(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"ok": r.server.healthOK.Load(),
	}))
}

func (r *MethodRouter) handleStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	r.server.mu.RLock()
	clientCount := len(r.server.clients)
	r.server.mu.RUnlock()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"clients":  clientCount,
		"nodes":    r.server.nodes.List(),
		"uptimeMs": r.server.buildHelloOk(client).Snapshot.UptimeMs,
	}))
}
