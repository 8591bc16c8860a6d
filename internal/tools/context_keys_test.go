package tools

import (
	"context"
	"testing"
)

func TestToolContextStringValues(t *testing.T) {
	tests := []struct {
		name string
		with func(context.Context, string) context.Context
		from func(context.Context) string
		val  string
	}{
		{"channel", WithToolChannel, ToolChannelFromCtx, "telegram"},
		{"chatID", WithToolChatID, ToolChatIDFromCtx, "chat-123"},
		{"peerKind", WithToolPeerKind, ToolPeerKindFromCtx, "group"},
		{"sandboxKey", WithToolSandboxKey, ToolSandboxKeyFromCtx, "agent:main:telegram:direct:123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := tt.from(context.Background()); v != "" {
				t.Errorf("unset %s = %q, want empty", tt.name, v)
			}
			ctx := tt.with(context.Background(), tt.val)
			if v := tt.from(ctx); v != tt.val {
				t.Errorf("%s round trip = %q, want %q", tt.name, v, tt.val)
			}
		})
	}
}

func TestToolContextAsyncCB(t *testing.T) {
	if ToolAsyncCBFromCtx(context.Background()) != nil {
		t.Error("unset context returned a callback")
	}

	called := false
	ctx := WithToolAsyncCB(context.Background(), func(ctx context.Context, result *Result) {
		called = true
	})
	cb := ToolAsyncCBFromCtx(ctx)
	if cb == nil {
		t.Fatal("callback lost in round trip")
	}
	cb(ctx, nil)
	if !called {
		t.Error("returned callback is not the one stored")
	}
}

func TestToolContextValuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ctx = WithToolChannel(ctx, "slack")
	ctx = WithToolChatID(ctx, "C123")
	ctx = WithToolPeerKind(ctx, "direct")
	ctx = WithToolSandboxKey(ctx, "sandbox-1")

	got := [4]string{
		ToolChannelFromCtx(ctx), ToolChatIDFromCtx(ctx),
		ToolPeerKindFromCtx(ctx), ToolSandboxKeyFromCtx(ctx),
	}
	want := [4]string{"slack", "C123", "direct", "sandbox-1"}
	if got != want {
		t.Errorf("context values = %v, want %v", got, want)
	}
}
