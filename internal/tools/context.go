package tools

import "context"

// Per-call values ride on the context instead of mutable tool fields so
// one tool instance can serve concurrent sessions.

type ctxKey int

const (
	ctxKeyChannel ctxKey = iota
	ctxKeyChatID
	ctxKeyPeerKind
	ctxKeySandboxKey
	ctxKeyAsyncCB
)

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxKeyChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyChannel).(string)
	return s
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxKeyChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyChatID).(string)
	return s
}

func WithToolPeerKind(ctx context.Context, peerKind string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerKind, peerKind)
}

func ToolPeerKindFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyPeerKind).(string)
	return s
}

func WithToolSandboxKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeySandboxKey, key)
}

func ToolSandboxKeyFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeySandboxKey).(string)
	return s
}

func WithToolAsyncCB(ctx context.Context, cb AsyncCallback) context.Context {
	return context.WithValue(ctx, ctxKeyAsyncCB, cb)
}

func ToolAsyncCBFromCtx(ctx context.Context) AsyncCallback {
	cb, _ := ctx.Value(ctxKeyAsyncCB).(AsyncCallback)
	return cb
}
