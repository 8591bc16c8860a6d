//go:build windows

package execsvc

import "os/exec"

// Windows children stay attached; console process groups behave
// differently and kill handles the whole tree via taskkill semantics in
// os.Process.Kill.
func detachProcess(*exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func forceKillProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
