package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/clawdbot/clawdbot/internal/execsvc"
	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// ExecMethods exposes the exec engine over RPC: run a command through
// the gate pipeline, poll a backgrounded session, kill, and list.
type ExecMethods struct {
	exec *execsvc.Executor
}

func NewExecMethods(exec *execsvc.Executor) *ExecMethods {
	return &ExecMethods{exec: exec}
}

func (m *ExecMethods) Register(router *gateway.MethodRouter) {
	router.Register("exec.run", m.handleRun)
	router.Register("exec.poll", m.handlePoll)
	router.Register("exec.kill", m.handleKill)
	router.Register("exec.list", m.handleList)
}

type execRunParams struct {
	Command    string            `json:"command"`
	Workdir    string            `json:"workdir"`
	Env        map[string]string `json:"env"`
	YieldMs    int               `json:"yieldMs"`
	Background bool              `json:"background"`
	TimeoutSec int               `json:"timeoutSec"`
	PTY        bool              `json:"pty"`
	Elevated   bool              `json:"elevated"`
	Host       string            `json:"host"`
	Security   string            `json:"security"`
	Ask        string            `json:"ask"`
	Node       string            `json:"node"`
	AgentID    string            `json:"agentId"`
	SessionKey string            `json:"sessionKey"`
}

func (m *ExecMethods) handleRun(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params execRunParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.Command == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "command is required"))
		return
	}

	res, err := m.exec.Exec(ctx, execsvc.Params{
		Command:    params.Command,
		Workdir:    params.Workdir,
		Env:        params.Env,
		YieldMs:    params.YieldMs,
		Background: params.Background,
		TimeoutSec: params.TimeoutSec,
		PTY:        params.PTY,
		Elevated:   params.Elevated,
		Host:       params.Host,
		Security:   params.Security,
		Ask:        params.Ask,
		Node:       params.Node,
		AgentID:    params.AgentID,
		SessionKey: params.SessionKey,
	})
	if err != nil {
		var gateErr *execsvc.GateError
		if errors.As(err, &gateErr) {
			// The failing gate travels in the payload, the message in the
			// error shape; partial output is kept when present.
			resp := protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, gateErr.Error())
			if res != nil {
				resp.Error.Details = res
			}
			client.SendResponse(resp)
			return
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, res))
}

func (m *ExecMethods) handlePoll(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	session, ok := m.exec.Registry().Get(params.SessionID)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "exec session not found: "+params.SessionID))
		return
	}

	stdout, stderr := session.DrainPending()
	exited, code := session.Exited()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessionId": session.ID,
		"stdout":    stdout,
		"stderr":    stderr,
		"exited":    exited,
		"exitCode":  code,
	}))
}

func (m *ExecMethods) handleKill(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if err := m.exec.Kill(params.SessionID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"killed": true}))
}

func (m *ExecMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessions": m.exec.Registry().List(),
	}))
}
