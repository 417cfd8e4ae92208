//go:build !windows

package coreprocess

import (
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// setDetached puts the child in its own process group so it survives
// the parent and is not killed by a Ctrl-C delivered to our group.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func sendGracefulSignal(p *process.Process) error {
	return p.SendSignal(syscall.SIGTERM)
}
