//go:build !windows

package execsvc

import (
	"errors"
	"os/exec"
	"syscall"
)

// exitCodeOf extracts the exit code from a Wait error (0 on success,
// -1 when the process never ran).
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// exitSignalOf names the terminating signal, if any.
func exitSignalOf(err error) string {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ""
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}
