//go:build windows

package execsvc

import (
	"errors"
	"os/exec"
)

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

func exitSignalOf(error) string { return "" }
