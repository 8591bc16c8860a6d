package methods

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/internal/history"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// ChatMethods handles chat.send, chat.history, chat.abort. Submissions
// go through the session orchestrator; replies arrive as chat events.
type ChatMethods struct {
	cfg     *config.Config
	chat    gateway.ChatRunner
	history *history.Store
	rate    *gateway.RateLimiter
}

func NewChatMethods(cfg *config.Config, chat gateway.ChatRunner, hist *history.Store, rl *gateway.RateLimiter) *ChatMethods {
	return &ChatMethods{cfg: cfg, chat: chat, history: hist, rate: rl}
}

func (m *ChatMethods) Register(router *gateway.MethodRouter) {
	router.Register("chat.send", m.handleSend)
	router.Register("chat.history", m.handleHistory)
	router.Register("chat.abort", m.handleAbort)
}

type chatSendParams struct {
	Message    string `json:"message"`
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"`
}

func (m *ChatMethods) handleSend(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.rate != nil && m.rate.Enabled() && !m.rate.Allow(client.ID()) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrResourceExhausted,
			"rate limit exceeded, wait before sending more messages"))
		return
	}

	var params chatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
		return
	}
	if params.AgentID == "" {
		params.AgentID = m.cfg.DefaultAgent()
	}
	sessionKey := params.SessionKey
	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey(params.AgentID, "ws", sessions.ChatDirect, client.ID())
	}

	runID := uuid.NewString()
	if err := m.chat.Submit(ctx, params.AgentID, sessionKey, params.Message, runID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrResourceExhausted, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"runId":      runID,
		"sessionKey": sessionKey,
		"queued":     true,
	}))
}

func (m *ChatMethods) handleHistory(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
		return
	}

	msgs, err := m.history.Messages(ctx, params.SessionKey, params.Limit)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"messages": msgs,
	}))
}

func (m *ChatMethods) handleAbort(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		RunID      string `json:"runId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.SessionKey == "" && params.RunID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey or runId is required"))
		return
	}

	aborted := m.chat.Abort(params.SessionKey, params.RunID)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"ok":      true,
		"aborted": len(aborted) > 0,
		"runIds":  aborted,
	}))
}
