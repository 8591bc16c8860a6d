package providers

import (
	"context"
	"log/slog"
)

const (
	dashscopeDefaultBase  = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	dashscopeDefaultModel = "qwen3-max"
)

// DashScopeProvider wraps OpenAIProvider for DashScope's compatible-mode
// endpoint. DashScope rejects tools combined with streaming, so ChatStream
// downgrades to Chat when tools are present.
type DashScopeProvider struct {
	*OpenAIProvider
}

func NewDashScopeProvider(apiKey, apiBase, defaultModel string) *DashScopeProvider {
	if apiBase == "" {
		apiBase = dashscopeDefaultBase
	}
	if defaultModel == "" {
		defaultModel = dashscopeDefaultModel
	}
	return &DashScopeProvider{
		OpenAIProvider: NewOpenAIProvider("dashscope", apiKey, apiBase, defaultModel),
	}
}

func (p *DashScopeProvider) Name() string { return "dashscope" }

// ChatStream streams when it can. With tools in the request it runs a
// blocking Chat and replays the response as synthetic chunks, keeping the
// caller's streaming contract intact.
func (p *DashScopeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if len(req.Tools) == 0 {
		return p.OpenAIProvider.ChatStream(ctx, req, onChunk)
	}

	slog.Debug("dashscope: tools present, falling back to non-streaming Chat")
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	replayAsChunks(resp, onChunk)
	return resp, nil
}

// replayAsChunks emits a completed response through the chunk callback.
func replayAsChunks(resp *ChatResponse, onChunk func(StreamChunk)) {
	if onChunk == nil {
		return
	}
	if resp.Thinking != "" {
		onChunk(StreamChunk{Thinking: resp.Thinking})
	}
	if resp.Content != "" {
		onChunk(StreamChunk{Content: resp.Content})
	}
	onChunk(StreamChunk{Done: true})
}
