package methods

import (
	"context"

	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// ConfigMethods handles config.get and config.reload. Reloads re-read
// the json5 file from disk and broadcast config.reloaded so every
// client refreshes its snapshot.
type ConfigMethods struct {
	server *gateway.Server
	cfg    *config.Config
	apply  func(*config.Config) // swaps the new config into running components
}

func NewConfigMethods(server *gateway.Server, cfg *config.Config, apply func(*config.Config)) *ConfigMethods {
	return &ConfigMethods{server: server, cfg: cfg, apply: apply}
}

func (m *ConfigMethods) Register(router *gateway.MethodRouter) {
	router.Register("config.get", m.handleGet)
	router.Register("config.reload", m.handleReload)
}

func (m *ConfigMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	// The shared token and password hash never leave the gateway.
	masked := *m.cfg
	masked.Gateway.Token = ""
	masked.Gateway.PasswordHash = ""
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"config": masked,
		"path":   m.cfg.Path,
	}))
}

func (m *ConfigMethods) handleReload(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	fresh, err := config.Load(m.cfg.Path)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, "reload failed: "+err.Error()))
		return
	}
	if m.apply != nil {
		m.apply(fresh)
	}

	m.server.Broadcast(protocol.EventConfigReloaded, protocol.NewValue(map[string]any{
		"path": fresh.Path,
	}))
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"ok":   true,
		"path": fresh.Path,
	}))
}
