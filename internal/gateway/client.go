package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// Client is a single WebSocket connection on the hub. Its first frame
// must be a hello; everything else is rejected until then.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	authenticated bool
	role          string // chat-ui | node | cli
	authMode      string // token | password | open
	clientName    string
	platform      string
	scopes        []string
	nodeID        string // set for role=node
	connectedAt   time.Time

	seq atomic.Int64 // per-client event ordering, starts at 1
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		server:      server,
		send:        make(chan []byte, 256),
		connectedAt: time.Now(),
	}
}

// Run starts the read and write pumps for this client.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

const helloDeadline = 10 * time.Second

// readPump reads frames sequentially, which gives per-client ordering of
// RPC handling.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(helloDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.closeWith(websocket.CloseMessageTooBig, protocol.CloseReasonFrameTooLarge)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if !c.handleFrame(ctx, data) {
			return
		}
	}
}

// writePump writes frames and pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame. Returns false to drop the
// connection.
func (c *Client) handleFrame(ctx context.Context, data []byte) bool {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return true
	}

	if !c.authenticated {
		if frameType != protocol.FrameTypeHello {
			c.sendError("", protocol.ErrUnauthorized, "first frame must be hello")
			return false
		}
		return c.handleHello(data)
	}

	switch frameType {
	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
			return true
		}
		c.server.router.Handle(ctx, c, &req)

	case protocol.FrameTypeSeqGap:
		var gap protocol.SeqGapFrame
		if err := json.Unmarshal(data, &gap); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed seqGap: "+err.Error())
			return true
		}
		slog.Info("client reported seq gap, resyncing",
			"client", c.id, "expected", gap.Expected, "received", gap.Received)
		c.sendSnapshot()

	default:
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
	}
	return true
}

// handleHello authenticates the connection and admits it into the hub.
func (c *Client) handleHello(data []byte) bool {
	var hello protocol.HelloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "malformed hello: "+err.Error())
		return false
	}

	switch hello.Role {
	case protocol.RoleChatUI, protocol.RoleNode, protocol.RoleCLI:
	default:
		c.sendError("", protocol.ErrInvalidRequest, "unknown role: "+hello.Role)
		return false
	}

	mode, ok := c.server.authenticate(hello.Token, hello.Password)
	if !ok {
		c.sendError("", protocol.ErrUnauthorized, "authentication failed")
		return false
	}

	c.role = hello.Role
	c.authMode = mode
	c.clientName = hello.ClientName
	c.platform = hello.Platform
	c.scopes = hello.Scopes
	c.authenticated = true

	if hello.Role == protocol.RoleNode {
		c.nodeID = hello.InstanceID
		if c.nodeID == "" {
			c.nodeID = c.id
		}
		c.server.nodes.Connect(c.nodeID, hello.ClientName, hello.Platform, hello.Commands)
	}

	c.server.register(c)
	c.sendSnapshot()
	slog.Info("client connected",
		"client", c.id, "role", c.role, "name", c.clientName, "auth", mode)
	return true
}

// authenticate checks the shared token (constant time) or the bcrypt
// password hash, per the gateway config. With neither configured the hub
// is open (loopback deployments).
func (s *Server) authenticate(token, password string) (mode string, ok bool) {
	cfgToken := s.cfg.Gateway.Token
	cfgHash := s.cfg.Gateway.PasswordHash

	if cfgToken == "" && cfgHash == "" {
		return "open", true
	}
	if cfgToken != "" && token != "" {
		if subtle.ConstantTimeCompare([]byte(cfgToken), []byte(token)) == 1 {
			return "token", true
		}
		return "", false
	}
	if cfgHash != "" && password != "" {
		if bcrypt.CompareHashAndPassword([]byte(cfgHash), []byte(password)) == nil {
			return "password", true
		}
		return "", false
	}
	return "", false
}

// sendSnapshot pushes the full state block with the client's current seq.
func (c *Client) sendSnapshot() {
	frame := protocol.SnapshotFrame{
		Type:  protocol.FrameTypeSnapshot,
		Hello: c.server.buildHelloOk(c),
		Seq:   c.seq.Add(1),
	}
	c.enqueue(frame)
}

// SendResponse sends an RPC response to this client.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	c.enqueue(resp)
}

// SendEvent pushes an event, stamped with this client's next seq.
func (c *Client) SendEvent(event string, payload protocol.Value) {
	frame := protocol.NewEvent(event, payload)
	frame.Seq = c.seq.Add(1)
	frame.StateVersion = &protocol.StateVersion{
		Presence: c.server.presenceVer.Load(),
		Health:   c.server.healthVer.Load(),
	}
	c.enqueue(frame)
}

// enqueue serializes with Close so a broadcast racing the teardown never
// sends on a closed channel.
func (c *Client) enqueue(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal frame failed", "error", err)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame", "client", c.id)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

func (c *Client) closeWith(code int, reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Role returns the client's hub role.
func (c *Client) Role() string { return c.role }

// NodeID returns the attached node id (role=node only).
func (c *Client) NodeID() string { return c.nodeID }

// Close shuts down the client connection. Safe to call more than once
// and concurrently with enqueue.
func (c *Client) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
