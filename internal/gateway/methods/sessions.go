package methods

import (
	"context"
	"encoding/json"

	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/internal/history"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// SessionMethods handles session.list, session.get, session.patch,
// session.delete over the session store.
type SessionMethods struct {
	store   *sessions.Store
	history *history.Store
}

func NewSessionMethods(store *sessions.Store, hist *history.Store) *SessionMethods {
	return &SessionMethods{store: store, history: hist}
}

func (m *SessionMethods) Register(router *gateway.MethodRouter) {
	router.Register("session.list", m.handleList)
	router.Register("session.get", m.handleGet)
	router.Register("session.patch", m.handlePatch)
	router.Register("session.delete", m.handleDelete)
}

func (m *SessionMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	entries, err := m.store.List()
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessions": entries,
	}))
}

func (m *SessionMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionKey string `json:"sessionKey"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
		return
	}

	entry, err := m.store.Lookup(params.SessionKey)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	if entry == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "session not found: "+params.SessionKey))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"sessionKey": params.SessionKey,
		"session":    entry,
	}))
}

type sessionPatchParams struct {
	SessionKey string `json:"sessionKey"`

	// Model override: provider and model travel together; patching the
	// model clears any auth-profile override, and a null model resets
	// all three.
	Model    *string `json:"model"`
	Provider *string `json:"provider"`

	QueueDebounceMs *int    `json:"queueDebounceMs"`
	QueueCap        *int    `json:"queueCap"`
	QueueDrop       *string `json:"queueDrop"`
	GroupActivation *string `json:"groupActivation"`
}

func (m *SessionMethods) handlePatch(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params sessionPatchParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
		return
	}
	if params.QueueDrop != nil {
		switch *params.QueueDrop {
		case "oldest", "newest", "reject":
		default:
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
				"queueDrop must be oldest, newest, or reject"))
			return
		}
	}

	err := m.store.Mutate(params.SessionKey, func(e *sessions.Entry) {
		if params.Model != nil {
			if *params.Model == "" {
				e.ResetModelOverride()
			} else {
				provider := ""
				if params.Provider != nil {
					provider = *params.Provider
				}
				e.SetModelOverride(provider, *params.Model)
			}
		}
		if params.QueueDebounceMs != nil {
			e.QueueDebounceMs = params.QueueDebounceMs
		}
		if params.QueueCap != nil {
			e.QueueCap = params.QueueCap
		}
		if params.QueueDrop != nil {
			e.QueueDrop = params.QueueDrop
		}
		if params.GroupActivation != nil {
			e.GroupActivation = *params.GroupActivation
		}
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	entry, err := m.store.Lookup(params.SessionKey)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"session": entry,
	}))
}

func (m *SessionMethods) handleDelete(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		SessionKey string `json:"sessionKey"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionKey is required"))
		return
	}

	if err := m.store.Delete(params.SessionKey); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	if m.history != nil {
		m.history.DeleteSession(ctx, params.SessionKey)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"deleted": true,
	}))
}
