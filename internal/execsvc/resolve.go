package execsvc

import (
	"os"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/clawdbot/clawdbot/internal/approvals"
)

// resolveExecutable extracts the first command token (quotes respected)
// and resolves it to an absolute path for allowlist matching. On the
// sandbox host only the raw token is meaningful; the container resolves
// its own PATH.
func (e *Executor) resolveExecutable(host, command, cwd string, env []string) approvals.Resolution {
	raw := firstToken(command)
	res := approvals.Resolution{
		RawExecutable:  raw,
		ExecutableName: filepath.Base(raw),
	}
	if raw == "" || host == HostSandbox {
		return res
	}

	if strings.ContainsRune(raw, os.PathSeparator) || strings.ContainsRune(raw, '/') {
		p := raw
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		if isExecutable(p) {
			res.ResolvedPath = p
		}
		return res
	}

	path := envLookup(env, "PATH")
	if path == "" {
		path = os.Getenv("PATH")
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, raw)
		if isExecutable(candidate) {
			res.ResolvedPath = candidate
			return res
		}
	}
	return res
}

// firstToken returns the first shell word of a command line, falling back
// to a whitespace split when the line does not tokenize (unbalanced
// quotes and the like).
func firstToken(command string) string {
	parser := shellwords.NewParser()
	words, err := parser.Parse(command)
	if err == nil && len(words) > 0 {
		return stripEnvAssignments(words)
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return stripEnvAssignments(fields)
}

// stripEnvAssignments skips leading VAR=value words so "FOO=1 rg -n x"
// gates on rg, not on the assignment.
func stripEnvAssignments(words []string) string {
	for _, w := range words {
		if i := strings.IndexByte(w, '='); i > 0 && !strings.ContainsAny(w[:i], "/\\ ") {
			continue
		}
		return w
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
