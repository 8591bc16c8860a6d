package approvals

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// Decisions a responder may return.
const (
	DecisionAllowOnce   = "allow-once"
	DecisionAllowAlways = "allow-always"
	DecisionDeny        = "deny"
)

// Request is the approval question sent over the socket.
type Request struct {
	Command      string `json:"command"`
	Cwd          string `json:"cwd,omitempty"`
	Host         string `json:"host,omitempty"`
	Security     string `json:"security,omitempty"`
	Ask          string `json:"ask,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
	ResolvedPath string `json:"resolvedPath,omitempty"`
	SessionKey   string `json:"sessionKey,omitempty"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
}

// requestLine is one line of the request direction.
type requestLine struct {
	Type    string  `json:"type"` // "request"
	Token   string  `json:"token"`
	ID      string  `json:"id"`
	Request Request `json:"request"`
}

// decisionLine is one line of the response direction.
type decisionLine struct {
	Type     string `json:"type"` // "decision"
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

// RequestDecision dials the approval socket and asks for a decision.
// Returns "" (null decision) when no responder answers within the
// request's timeout or the socket is unreachable; the caller then falls
// back per askFallback.
func RequestDecision(ctx context.Context, sock SocketInfo, id string, req Request) (string, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.DialTimeout("unix", sock.Path, time.Until(deadline))
	if err != nil {
		slog.Debug("approval socket unreachable", "path", sock.Path, "error", err)
		return "", nil
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	line, err := json.Marshal(requestLine{Type: "request", Token: sock.Token, ID: id, Request: req})
	if err != nil {
		return "", fmt.Errorf("encode approval request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return "", nil
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		var dec decisionLine
		if err := json.Unmarshal(scanner.Bytes(), &dec); err != nil {
			continue
		}
		if dec.Type == "decision" && dec.ID == id {
			return dec.Decision, nil
		}
	}
	// EOF or timeout without an answer: null decision.
	return "", nil
}

// DecideFunc answers one approval request.
type DecideFunc func(id string, req Request) string

// Responder listens on the approval socket and answers requests with the
// supplied decide callback. Connections presenting a wrong token are
// dropped without a reply.
type Responder struct {
	ln     net.Listener
	token  string
	decide DecideFunc
}

// ListenAndServe starts a responder on sock. The socket file is replaced
// if a stale one exists and created with owner-only permissions.
func ListenAndServe(sock SocketInfo, decide DecideFunc) (*Responder, error) {
	os.Remove(sock.Path)
	ln, err := net.Listen("unix", sock.Path)
	if err != nil {
		return nil, fmt.Errorf("listen approval socket: %w", err)
	}
	if err := os.Chmod(sock.Path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod approval socket: %w", err)
	}

	r := &Responder{ln: ln, token: sock.Token, decide: decide}
	go r.acceptLoop()
	return r, nil
}

// Close stops the responder.
func (r *Responder) Close() error { return r.ln.Close() }

func (r *Responder) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.serve(conn)
	}
}

func (r *Responder) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		var req requestLine
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.Type != "request" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(req.Token), []byte(r.token)) != 1 {
			slog.Warn("approval socket: bad token, dropping connection")
			return
		}

		decision := r.decide(req.ID, req.Request)
		line, err := json.Marshal(decisionLine{Type: "decision", ID: req.ID, Decision: decision})
		if err != nil {
			continue
		}
		if _, err := conn.Write(append(line, '\n')); err != nil {
			return
		}
	}
}
