package gateway

import (
	"context"
	"encoding/json"

	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// Node RPC surface: listing, invoking with idempotency keys, and the
// result path nodes use to resolve invoke tickets.

func (r *MethodRouter) handleNodeList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"nodes": r.server.nodes.List(),
	}))
}

type nodeInvokeParams struct {
	NodeID         string          `json:"nodeId"`
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotencyKey"`
	TimeoutMs      int             `json:"timeoutMs"`
}

func (r *MethodRouter) handleNodeInvoke(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params nodeInvokeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.Command == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "command is required"))
		return
	}

	res, err := r.server.invokes.InvokeWithKey(ctx,
		params.NodeID, params.Command, params.Params, params.IdempotencyKey, params.TimeoutMs)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	if !res.OK {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, res.Err))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"ok":          true,
		"payloadJSON": res.Payload,
	}))
}

type nodeInvokeResultParams struct {
	ID      string          `json:"id"`
	NodeID  string          `json:"nodeId"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payloadJSON"`
	Error   string          `json:"error"`
}

func (r *MethodRouter) handleNodeInvokeResult(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params nodeInvokeResultParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if params.NodeID != "" && params.NodeID != client.nodeID {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "result for a different node"))
		return
	}

	r.server.nodes.Touch(client.nodeID)
	resolved := r.server.invokes.HandleResult(params.ID, params.OK, params.Payload, params.Error)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"resolved": resolved,
	}))
}
