//go:build !windows

package execsvc

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the child in its own process group so it survives
// socket churn and can be signalled as a group.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the child's process group.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGTERM)
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
}

// forceKillProcess sends SIGKILL to the child's process group.
func forceKillProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	cmd.Process.Kill()
}
