//go:build windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func killProcess(c *exec.Cmd, _ <-chan struct{}) {
	if c.Process == nil {
		return
	}
	_ = exec.Command("taskkill", "/pid", fmt.Sprint(c.Process.Pid), "/f", "/t").Run()
}

func exitStatus(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{}
	}
	code := ps.ExitCode()
	return ExitStatus{ExitCode: &code}
}
