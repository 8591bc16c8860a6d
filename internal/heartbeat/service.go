// Package heartbeat wakes the agent on a timer so it can check on
// standing tasks and surface anything that needs attention. A reply of
// HEARTBEAT_OK is dropped silently; anything else is delivered as a
// heartbeat alert. Exec exit notifications wake the loop immediately.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultPrompt = "Read HEARTBEAT.md if it exists (workspace context). Follow it strictly. " +
	"Do not infer or repeat old tasks from prior chats. " +
	"If nothing needs attention, reply HEARTBEAT_OK."

const (
	defaultInterval    = 30 * time.Minute
	defaultAckMaxChars = 300
	heartbeatOKToken   = "HEARTBEAT_OK"
)

// DefaultInterval returns the default heartbeat interval.
func DefaultInterval() time.Duration { return defaultInterval }

// AgentRunner runs one agent turn and returns the reply text.
type AgentRunner func(ctx context.Context, agentID, sessionKey, message, runID string) (string, error)

// Deliver receives non-OK heartbeat replies.
type Deliver func(agentID, content string)

// ActiveHours restricts when the heartbeat may fire. Zero value means
// no restriction.
type ActiveHours struct {
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string
}

// Config holds resolved runtime config for the heartbeat service.
type Config struct {
	AgentID     string
	Interval    time.Duration
	ActiveHours *ActiveHours
	SessionKey  string
	Prompt      string
	AckMaxChars int
	Workspace   string // for HEARTBEAT.md detection
}

// Service manages the periodic heartbeat loop.
type Service struct {
	cfg     Config
	runner  AgentRunner
	deliver Deliver
	wake    chan struct{}

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	lastContent string
	lastAlertAt time.Time
}

func NewService(cfg Config, runner AgentRunner, deliver Deliver) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if cfg.AckMaxChars <= 0 {
		cfg.AckMaxChars = defaultAckMaxChars
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = fmt.Sprintf("agent:%s:heartbeat:main", cfg.AgentID)
	}

	return &Service{
		cfg:     cfg,
		runner:  runner,
		deliver: deliver,
		wake:    make(chan struct{}, 1),
	}
}

// Start begins the heartbeat loop in a background goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	go s.loop(ctx)
	slog.Info("heartbeat service started",
		"agent", s.cfg.AgentID,
		"interval", s.cfg.Interval,
	)
}

// Stop halts the heartbeat loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	slog.Info("heartbeat service stopped", "agent", s.cfg.AgentID)
}

// IsRunning reports whether the loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wake fires the heartbeat ahead of schedule. System events (exec exit
// notifications) call this so the agent reacts promptly.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) {
	// Wait one full interval before the first tick so startup stays quiet.
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.cfg.Interval)
		case <-s.wake:
			s.tick(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.cfg.ActiveHours != nil && !inActiveHours(s.cfg.ActiveHours, time.Now()) {
		slog.Debug("heartbeat skipped: outside active hours", "agent", s.cfg.AgentID)
		return
	}
	if s.heartbeatFileEmpty() {
		slog.Debug("heartbeat skipped: HEARTBEAT.md empty", "agent", s.cfg.AgentID)
		return
	}

	runID := fmt.Sprintf("heartbeat-%s-%d", s.cfg.AgentID, time.Now().UnixMilli())
	reply, err := s.runner(ctx, s.cfg.AgentID, s.cfg.SessionKey, s.cfg.Prompt, runID)
	if err != nil {
		slog.Warn("heartbeat agent run failed", "agent", s.cfg.AgentID, "error", err)
		return
	}

	content, isOK := stripHeartbeatToken(reply, s.cfg.AckMaxChars)
	if isOK {
		slog.Debug("heartbeat OK", "agent", s.cfg.AgentID)
		return
	}

	// Skip identical alerts within 24h.
	s.mu.Lock()
	if content == s.lastContent && time.Since(s.lastAlertAt) < 24*time.Hour {
		s.mu.Unlock()
		slog.Debug("heartbeat dedup: same content within 24h", "agent", s.cfg.AgentID)
		return
	}
	s.lastContent = content
	s.lastAlertAt = time.Now()
	s.mu.Unlock()

	if s.deliver != nil {
		s.deliver(s.cfg.AgentID, content)
	}
}

// heartbeatFileEmpty reports whether HEARTBEAT.md is missing or carries
// no meaningful content.
func (s *Service) heartbeatFileEmpty() bool {
	if s.cfg.Workspace == "" {
		return true
	}
	data, err := os.ReadFile(filepath.Join(s.cfg.Workspace, "HEARTBEAT.md"))
	if err != nil {
		return true
	}
	return isEffectivelyEmpty(string(data))
}

// isEffectivelyEmpty ignores whitespace, bare markdown headers, empty
// list items, and comments.
func isEffectivelyEmpty(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.TrimLeft(line, "# ") == "" {
				continue
			}
			return false
		}
		if strings.HasPrefix(line, "<!--") {
			continue
		}
		if (strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")) && strings.TrimSpace(line[2:]) == "" {
			continue
		}
		return false
	}
	return true
}

// stripHeartbeatToken returns (remaining content, isOK). The reply is an
// ack when it is the bare token, possibly wrapped in markdown, or when
// the leftover around a leading/trailing token is short enough.
func stripHeartbeatToken(reply string, ackMaxChars int) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == heartbeatOKToken {
		return "", true
	}

	stripped := trimmed
	for _, wrap := range []struct{ prefix, suffix string }{
		{"**", "**"}, {"<b>", "</b>"}, {"<strong>", "</strong>"}, {"`", "`"},
	} {
		stripped = strings.TrimPrefix(stripped, wrap.prefix)
		stripped = strings.TrimSuffix(stripped, wrap.suffix)
	}
	if strings.TrimSpace(stripped) == heartbeatOKToken {
		return "", true
	}

	hasPrefix := strings.HasPrefix(trimmed, heartbeatOKToken)
	hasSuffix := strings.HasSuffix(trimmed, heartbeatOKToken)
	if !hasPrefix && !hasSuffix {
		return trimmed, false
	}

	remaining := trimmed
	if hasPrefix {
		remaining = strings.TrimSpace(strings.TrimPrefix(remaining, heartbeatOKToken))
	}
	if hasSuffix {
		remaining = strings.TrimSpace(strings.TrimSuffix(remaining, heartbeatOKToken))
	}
	if len(remaining) <= ackMaxChars {
		return "", true
	}
	return remaining, false
}

// inActiveHours checks now against the window, handling wrap-around
// ranges like 22:00-06:00.
func inActiveHours(cfg *ActiveHours, now time.Time) bool {
	if cfg == nil || cfg.Start == "" || cfg.End == "" {
		return true
	}
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			now = now.In(loc)
		}
	}

	startH, startM := parseHHMM(cfg.Start)
	endH, endM := parseHHMM(cfg.End)

	currentMin := now.Hour()*60 + now.Minute()
	startMin := startH*60 + startM
	endMin := endH*60 + endM

	if startMin <= endMin {
		return currentMin >= startMin && currentMin < endMin
	}
	return currentMin >= startMin || currentMin < endMin
}

func parseHHMM(s string) (int, int) {
	var h, m int
	fmt.Sscanf(s, "%d:%d", &h, &m)
	return h, m
}
