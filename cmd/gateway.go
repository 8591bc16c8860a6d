package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdbot/clawdbot/internal/agent"
	"github.com/clawdbot/clawdbot/internal/approvals"
	"github.com/clawdbot/clawdbot/internal/config"
	"github.com/clawdbot/clawdbot/internal/execsvc"
	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/internal/gateway/methods"
	"github.com/clawdbot/clawdbot/internal/heartbeat"
	"github.com/clawdbot/clawdbot/internal/history"
	"github.com/clawdbot/clawdbot/internal/nodes"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/internal/tools"
	"github.com/clawdbot/clawdbot/internal/tracing"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the WebSocket gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfg := loadConfig()
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating state dir: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores.
	sessStore := sessions.NewStore(
		filepath.Join(cfg.StateDir, "sessions.json"),
		cfg.Routing.DefaultAgent, cfg.Routing.MainKey)
	hist, err := history.Open(filepath.Join(cfg.StateDir, "history.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history store: %v\n", err)
		os.Exit(1)
	}
	defer hist.Close()
	approvalStore := approvals.NewStore(approvals.DefaultPath(cfg.StateDir))

	// Tracing. The collector always runs; OTLP export joins in when the
	// binary carries the otel tag and telemetry is configured.
	collector := tracing.NewCollector()
	initOTelExporter(ctx, cfg, collector)
	collector.Start()
	defer collector.Stop()

	// Hub and exec engine.
	nodeReg := nodes.NewRegistry()
	server := gateway.NewServer(cfg, nodeReg)
	executor := execsvc.New(cfg, approvalStore, server.Invokes(), nil)

	// Tools.
	registry := tools.NewRegistry()
	registry.Register(tools.NewExecTool(executor, cfg.Routing.DefaultAgent))
	registry.Register(tools.NewProcessTool(executor))
	registry.Register(tools.NewNodesTool(nodeReg, server.Invokes()))
	registry.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	// Orchestrator.
	orch := agent.NewOrchestrator(cfg, sessStore, hist, registry, server)
	orch.SetTracer(collector)
	server.SetChat(orch)

	// Exec exit notifications land in the session transcript and wake the
	// heartbeat early.
	executor.SetNotify(orch.EnqueueSystem)

	// RPC surfaces.
	methods.NewChatMethods(cfg, orch, hist, server.Rate()).Register(server.Router())
	methods.NewSessionMethods(sessStore, hist).Register(server.Router())
	methods.NewExecMethods(executor).Register(server.Router())

	bridge := methods.NewApprovalBridge(server, approvalStore)
	if err := bridge.Start(); err != nil {
		slog.Warn("approval socket unavailable, falling back to file approvals", "error", err)
	} else {
		defer bridge.Close()
	}
	bridge.Register(server.Router())

	configMethods := methods.NewConfigMethods(server, cfg, func(next *config.Config) {
		cfg.Apply(next)
		slog.Info("config applied", "path", cfg.Path)
	})
	configMethods.Register(server.Router())

	// Heartbeat.
	var hb *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		hb = startHeartbeat(cfg, orch, server)
		orch.SetWake(hb.Wake)
		defer hb.Stop()
	}

	// Config hot reload.
	if watcher, err := config.NewWatcher(cfg.Path); err == nil {
		watcher.OnChange(func(next *config.Config) {
			cfg.Apply(next)
			slog.Info("config applied", "path", cfg.Path)
			server.Broadcast(protocol.EventConfigReloaded, protocol.NewValue(map[string]any{
				"path": cfg.Path,
			}))
		})
		if err := watcher.Start(); err != nil {
			slog.Debug("config watcher not started", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	// Periodic health refresh keeps clients' state versions moving and
	// surfaces collector stats.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := collector.Stats()
				server.SetHealth(true, map[string]any{
					"spansEmitted": stats.Emitted,
					"spansDropped": stats.Dropped,
				})
			}
		}
	}()

	if err := server.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		os.Exit(1)
	}
}

func startHeartbeat(cfg *config.Config, orch *agent.Orchestrator, server *gateway.Server) *heartbeat.Service {
	agentID := cfg.Routing.DefaultAgent
	agentCfg := cfg.Agent(agentID)

	interval := heartbeat.DefaultInterval()
	if cfg.Heartbeat.IntervalMs > 0 {
		interval = time.Duration(cfg.Heartbeat.IntervalMs) * time.Millisecond
	}
	var hours *heartbeat.ActiveHours
	if ah := cfg.Heartbeat.ActiveHours; ah != nil {
		hours = &heartbeat.ActiveHours{Start: ah.Start, End: ah.End, Timezone: ah.Timezone}
	}

	svc := heartbeat.NewService(heartbeat.Config{
		AgentID:     agentID,
		Interval:    interval,
		ActiveHours: hours,
		Prompt:      cfg.Heartbeat.Prompt,
		Workspace:   agentCfg.Workspace,
	}, orch.RunSync, func(agentID, content string) {
		server.Broadcast(protocol.EventHeartbeat, protocol.NewValue(map[string]any{
			"agentId": agentID,
			"text":    content,
		}))
	})
	svc.Start()
	return svc
}
