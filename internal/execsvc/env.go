package execsvc

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clawdbot/clawdbot/internal/config"
)

// pathProbeTimeoutEnv bounds the login-shell PATH probe subprocess.
const pathProbeTimeoutEnv = "CLAWDBOT_PATH_PROBE_TIMEOUT_MS"

var (
	loginPathOnce sync.Once
	loginPath     string
)

// loginShellPATH probes the user's login shell for its PATH, once. A
// failed or slow probe returns "" and the process PATH stands.
func loginShellPATH() string {
	loginPathOnce.Do(func() {
		timeout := 2 * time.Second
		if raw := os.Getenv(pathProbeTimeoutEnv); raw != "" {
			if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
			}
		}

		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, shell, "-lc", `printf %s "$PATH"`).Output()
		if err != nil {
			return
		}
		loginPath = strings.TrimSpace(string(out))
	})
	return loginPath
}

// buildEnv merges the process environment with the per-call overrides,
// injects the login-shell PATH on the gateway host when the caller did
// not pin one, and prepends the configured pathPrepend entries.
func (e *Executor) buildEnv(host string, extra map[string]string, execCfg config.ExecDefaults) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}

	_, pathPinned := extra["PATH"]
	for k, v := range extra {
		merged[k] = v
	}

	if host == HostGateway && !pathPinned {
		if lp := loginShellPATH(); lp != "" {
			merged["PATH"] = lp
		}
	}
	if len(execCfg.PathPrepend) > 0 {
		parts := append(append([]string{}, execCfg.PathPrepend...), merged["PATH"])
		merged["PATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// envLookup reads a key from an env slice.
func envLookup(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}
