// Package gateway is the WebSocket hub: it terminates client sockets,
// authenticates hellos, fans out ordered events, and dispatches RPCs.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/nodes"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// ChatRunner accepts chat submissions from hub clients. The session
// orchestrator implements it.
type ChatRunner interface {
	Submit(ctx context.Context, agentID, sessionKey, message, runID string) error
	Abort(sessionKey, runID string) []string
}

// Server owns all hub connections and the per-client event streams.
type Server struct {
	cfg      *config.Config
	router   *MethodRouter
	nodes    *nodes.Registry
	invokes  *nodes.Router
	rate     *RateLimiter
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	byNode  map[string]*Client // node id → its connection

	started       time.Time
	healthOK      atomic.Bool
	presenceVer   atomic.Int64
	healthVer     atomic.Int64
	httpServer    *http.Server
	shuttingDown  atomic.Bool
}

// NewServer wires the hub over its registries. The invoke router is
// created here so its send path targets node connections on this hub.
func NewServer(cfg *config.Config, reg *nodes.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		nodes:   reg,
		rate:    NewRateLimiter(cfg.Gateway.RateLimitRPM, 0),
		clients: make(map[string]*Client),
		byNode:  make(map[string]*Client),
		started: time.Now(),
	}
	s.healthOK.Store(true)
	s.invokes = nodes.NewRouter(reg, s.sendToNode)
	s.router = NewMethodRouter(s)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router exposes the method dispatch table for registration.
func (s *Server) Router() *MethodRouter { return s.router }

// Invokes exposes the node invoke router (exec host=node, RPC methods).
func (s *Server) Invokes() *nodes.Router { return s.invokes }

// Rate exposes the per-client rate limiter for method handlers.
func (s *Server) Rate() *RateLimiter { return s.rate }

// SetChat wires the chat submission path once the orchestrator exists.
func (s *Server) SetChat(chat ChatRunner) { s.router.chat = chat }

// checkOrigin admits non-browser clients (no Origin header) and any
// origin on the configured allowlist. Loopback origins are always fine.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ListenAndServe runs the hub until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	addr := net.JoinHostPort(s.cfg.Gateway.Host, fmt.Sprintf("%d", s.cfg.Gateway.Port))
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	slog.Info("gateway listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

// Shutdown broadcasts the shutdown event and closes all sockets.
func (s *Server) Shutdown() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	s.Broadcast(protocol.EventShutdown, protocol.NewValue(map[string]any{
		"reason": "shutting down",
	}))

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	client := NewClient(conn, s)
	go client.Run(r.Context())
}

// register admits an authenticated client into the hub tables.
func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	if c.role == protocol.RoleNode && c.nodeID != "" {
		s.byNode[c.nodeID] = c
	}
	s.mu.Unlock()
	s.presenceVer.Add(1)
	s.broadcastPresence()
}

// unregister removes a client; node clients start their eviction grace.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	wasNode := c.role == protocol.RoleNode && c.nodeID != "" && s.byNode[c.nodeID] == c
	if wasNode {
		delete(s.byNode, c.nodeID)
	}
	s.mu.Unlock()

	if wasNode {
		s.nodes.Disconnect(c.nodeID)
	}
	if c.authenticated {
		s.presenceVer.Add(1)
		s.broadcastPresence()
	}
}

// sendToNode delivers a node.invoke.request over the node's socket.
func (s *Server) sendToNode(nodeID string, req nodes.InvokeRequest) error {
	s.mu.RLock()
	c := s.byNode[nodeID]
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("node %q has no connection", nodeID)
	}
	c.SendEvent(protocol.EventNodeInvokeReq, protocol.NewValue(req))
	return nil
}

// Broadcast pushes an event to every chat-ui and cli client, stamping
// each copy with that client's next seq.
func (s *Server) Broadcast(event string, payload protocol.Value) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.role == protocol.RoleNode {
			continue
		}
		c.SendEvent(event, payload)
	}
}

func (s *Server) broadcastPresence() {
	s.Broadcast(protocol.EventPresence, protocol.NewValue(map[string]any{
		"presence": s.presence(),
	}))
}

// SetHealth updates the health summary and broadcasts the change.
func (s *Server) SetHealth(ok bool, detail map[string]any) {
	s.healthOK.Store(ok)
	s.healthVer.Add(1)
	s.Broadcast(protocol.EventHealth, protocol.NewValue(map[string]any{
		"ok":     ok,
		"detail": detail,
	}))
}

func (s *Server) presence() []protocol.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.PresenceEntry, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.authenticated {
			continue
		}
		out = append(out, protocol.PresenceEntry{
			ClientID:   c.id,
			Role:       c.role,
			ClientName: c.clientName,
			Platform:   c.platform,
			SinceMs:    c.connectedAt.UnixMilli(),
		})
	}
	return out
}

// buildHelloOk assembles the full state block sent on connect and on
// every seqGap resync.
func (s *Server) buildHelloOk(c *Client) protocol.HelloOk {
	defaults := s.cfg.SessionDefaults()
	snap := protocol.Snapshot{
		Presence: s.presence(),
		Health:   protocol.HealthState{OK: s.healthOK.Load()},
		StateVersion: protocol.StateVersion{
			Presence: s.presenceVer.Load(),
			Health:   s.healthVer.Load(),
		},
		UptimeMs:   time.Since(s.started).Milliseconds(),
		ConfigPath: s.cfg.Path,
		StateDir:   s.cfg.StateDir,
		SessionDefaults: map[string]any{
			"queueDebounceMs": defaults.QueueDebounceMs,
			"queueCap":        defaults.QueueCap,
			"queueDrop":       defaults.QueueDrop,
		},
	}
	hello := protocol.NewHelloOk(
		map[string]string{"name": "clawdbot", "version": Version},
		map[string]bool{"nodes": true, "exec": true, "chat": true},
		snap,
	)
	hello.CanvasHostURL = s.cfg.Gateway.CanvasHostURL
	hello.Auth = &protocol.AuthInfo{Mode: c.authMode, Role: c.role}
	return hello
}

// Version is the reported gateway version.
var Version = "0.3.0"
