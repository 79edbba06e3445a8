//go:build !windows

package terminal

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

// sigkillDelay is the grace period between SIGTERM and SIGKILL.
const sigkillDelay = 200 * time.Millisecond

func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(c *exec.Cmd, done <-chan struct{}) {
	if c.Process == nil {
		return
	}
	pid := c.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(sigkillDelay):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func exitStatus(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal().String()
		return ExitStatus{Signal: &sig}
	}
	code := ps.ExitCode()
	return ExitStatus{ExitCode: &code}
}
