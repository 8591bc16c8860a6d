package execsvc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/clawdbot/clawdbot/internal/config"
)

const (
	ptyCols = 120
	ptyRows = 30
)

// dsrRequest is the cursor-position report some full-screen programs
// emit on startup; without a reply they hang waiting.
var dsrRequest = []byte("\x1b[6n")

// clampYield bounds the yield window to [10ms, 120s], default 10s.
func clampYield(ms int) time.Duration {
	if ms <= 0 {
		return defaultYield
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minYield {
		return minYield
	}
	if d > maxYield {
		return maxYield
	}
	return d
}

var containerNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sandboxScopeKey derives the container scope for an exec: one container
// per session, per agent, or shared, per the agent's sandbox scope.
func sandboxScopeKey(agentID, sessionKey string, sb config.SandboxConfig) string {
	switch sb.Scope {
	case "session":
		if sessionKey != "" {
			return agentID + "-" + sessionKey
		}
		return agentID
	case "shared":
		return "shared"
	default: // agent
		return agentID
	}
}

func containerName(scopeKey string) string {
	return "clawdbot-sbx-" + containerNameSanitizer.ReplaceAllString(scopeKey, "-")
}

// sandboxWorkdir maps a host workdir into the container mount. Anything
// outside the workspace falls back to the mount root with a warning.
func sandboxWorkdir(workdir string, agentCfg *config.AgentConfig) string {
	const mount = "/workspace"
	if workdir == "" {
		return mount
	}
	if !strings.HasPrefix(workdir, "/") {
		return mount + "/" + strings.TrimPrefix(workdir, "./")
	}
	rel, err := filepath.Rel(agentCfg.Workspace, workdir)
	if err != nil || strings.HasPrefix(rel, "..") {
		slog.Warn("sandbox workdir outside workspace, using mount root", "workdir", workdir)
		return mount
	}
	if rel == "." {
		return mount
	}
	return mount + "/" + rel
}

// spawnAndWait spawns the command for the chosen host and applies the
// yield / background / timeout lifecycle (gates 9-11).
func (e *Executor) spawnAndWait(ctx context.Context, p Params, host string, agentCfg *config.AgentConfig, cwd string, env []string) (*Result, error) {
	session := &Session{
		ID:           uuid.NewString(),
		Command:      p.Command,
		SessionKey:   p.SessionKey,
		StartedAt:    time.Now(),
		Cwd:          cwd,
		notifyOnExit: p.NotifyOnExit,
		done:         make(chan struct{}),
	}
	if e.onUpdate != nil {
		session.onUpdate = func(s *Session) { e.onUpdate(s.Snapshot()) }
	}

	cmd, ptmx, err := e.buildCommand(p, host, agentCfg, cwd, env, session)
	if err != nil {
		return nil, err
	}
	session.cmd = cmd
	if cmd.Process != nil {
		session.PID = cmd.Process.Pid
	}
	e.registry.add(session)

	timeout := defaultTimeout
	if p.TimeoutSec > 0 {
		timeout = time.Duration(p.TimeoutSec) * time.Second
	}
	timeoutTimer := time.AfterFunc(timeout, func() {
		session.mu.Lock()
		session.timedOut = true
		session.mu.Unlock()
		e.killSession(session)
	})

	go e.monitor(session, ptmx, timeoutTimer)

	if p.Background {
		session.mu.Lock()
		session.backgrounded = true
		snap := session.snapshotLocked()
		session.mu.Unlock()
		return runningResult(snap), nil
	}

	yieldTimer := time.NewTimer(clampYield(p.YieldMs))
	defer yieldTimer.Stop()

	select {
	case <-session.done:
		return e.finalResult(session)

	case <-yieldTimer.C:
		session.mu.Lock()
		session.backgrounded = true
		snap := session.snapshotLocked()
		session.mu.Unlock()
		return runningResult(snap), nil

	case <-ctx.Done():
		// Tool-call cancellation kills the child only while the session
		// has not been backgrounded; inside this branch it has not.
		e.killSession(session)
		select {
		case <-session.done:
		case <-time.After(killGrace):
		}
		snap := session.Snapshot()
		return &Result{
			Status:    StatusFailed,
			SessionID: snap.ID,
			Tail:      snap.Tail,
			Reason:    "canceled",
		}, ctx.Err()
	}
}

// buildCommand constructs and starts the process for the host/pty mode.
// Returns the started command and, for PTY sessions, the master side.
func (e *Executor) buildCommand(p Params, host string, agentCfg *config.AgentConfig, cwd string, env []string, session *Session) (*exec.Cmd, *os.File, error) {
	var cmd *exec.Cmd

	if host == HostSandbox {
		scope := sandboxScopeKey(p.AgentID, p.SessionKey, agentCfg.Sandbox)
		session.ScopeKey = scope
		args := []string{"exec"}
		if p.PTY {
			args = append(args, "-it")
		} else {
			args = append(args, "-i")
		}
		args = append(args, "-w", cwd)
		for _, kv := range envOverridesOnly(p.Env) {
			args = append(args, "-e", kv)
		}
		args = append(args, containerName(scope), "sh", "-lc", p.Command)
		cmd = exec.Command("docker", args...)
	} else {
		cmd = exec.Command("/bin/sh", "-c", p.Command)
		cmd.Dir = cwd
		cmd.Env = env
	}

	if p.PTY && host != HostSandbox {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
		if err != nil {
			return nil, nil, fmt.Errorf("start pty: %w", err)
		}
		go e.pumpPTY(session, ptmx)
		return cmd, ptmx, nil
	}

	detachProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("spawn %q: %w", firstToken(p.Command), err)
	}

	go e.pump(session, stdout, false)
	go e.pump(session, stderr, true)
	return cmd, nil, nil
}

// envOverridesOnly flattens only the per-call env (the container keeps
// its own base environment).
func envOverridesOnly(extra map[string]string) []string {
	out := make([]string, 0, len(extra))
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

// pump drains one pipe stream into the session buffers.
func (e *Executor) pump(session *Session, r io.Reader, stderr bool) {
	buf := make([]byte, 16*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			session.appendOutput(stderr, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// pumpPTY drains the PTY master, answering DSR cursor-position requests
// so full-screen programs do not stall.
func (e *Executor) pumpPTY(session *Session, ptmx *os.File) {
	buf := make([]byte, 16*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if bytes.Contains(chunk, dsrRequest) {
				fmt.Fprintf(ptmx, "\x1b[%d;%dR", 1, 1)
			}
			session.appendOutput(false, string(chunk))
		}
		if err != nil {
			return
		}
	}
}

// monitor waits for process exit, records the outcome, and fires the
// exit notification for backgrounded sessions.
func (e *Executor) monitor(session *Session, ptmx *os.File, timeoutTimer *time.Timer) {
	err := session.cmd.Wait()
	timeoutTimer.Stop()
	if ptmx != nil {
		ptmx.Close()
	}

	session.mu.Lock()
	session.exited = true
	session.exitCode = exitCodeOf(err)
	session.exitSignal = exitSignalOf(err)
	shouldNotify := session.notifyOnExit && session.backgrounded && session.SessionKey != "" && !session.exitNotified
	if shouldNotify {
		session.exitNotified = true
	}
	session.mu.Unlock()
	close(session.done)

	if session.onUpdate != nil {
		session.onUpdate(session)
	}

	if shouldNotify && e.notify != nil {
		snap := session.Snapshot()
		status := "completed"
		detail := fmt.Sprintf("%d", snap.ExitCode)
		if snap.ExitCode != 0 || snap.ExitSignal != "" {
			status = "failed"
			if snap.ExitSignal != "" {
				detail = snap.ExitSignal
			}
		}
		text := fmt.Sprintf("Exec %s (%s, %s) :: %s", status, shortID(snap.ID), detail, session.NotifyTail())
		e.notify(session.SessionKey, text)
	}
}

// finalResult converts an exited session into a completed/failed result.
func (e *Executor) finalResult(session *Session) (*Result, error) {
	snap := session.Snapshot()
	out := &Result{
		SessionID: snap.ID,
		ExitCode:  snap.ExitCode,
		Output:    snap.Aggregated,
		Tail:      snap.Tail,
		Truncated: snap.Truncated,
	}

	session.mu.Lock()
	timedOut := session.timedOut
	session.mu.Unlock()

	switch {
	case timedOut:
		out.Status = StatusFailed
		out.Reason = ReasonCommandTimedOut
		return out, denied(ReasonCommandTimedOut, "killed after timeout; output tail: %s", session.NotifyTail())
	case snap.ExitCode != 0:
		out.Status = StatusFailed
		out.Reason = ReasonExitNonZero
		return out, nil
	default:
		out.Status = StatusCompleted
		return out, nil
	}
}

func runningResult(snap Update) *Result {
	return &Result{
		Status:       StatusRunning,
		SessionID:    snap.ID,
		Tail:         snap.Tail,
		Truncated:    snap.Truncated,
		Backgrounded: true,
	}
}

// Kill terminates an exec session by id: TERM to the process group, then
// KILL after the grace window. Used by the process tool and timeouts.
func (e *Executor) Kill(id string) error {
	session, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("exec session %q not found", id)
	}
	e.killSession(session)
	return nil
}

func (e *Executor) killSession(session *Session) {
	session.mu.Lock()
	cmd := session.cmd
	exited := session.exited
	session.mu.Unlock()
	if exited || cmd == nil || cmd.Process == nil {
		return
	}

	terminateProcess(cmd)
	time.AfterFunc(killGrace, func() {
		session.mu.Lock()
		stillRunning := !session.exited
		session.mu.Unlock()
		if stillRunning {
			forceKillProcess(cmd)
		}
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
