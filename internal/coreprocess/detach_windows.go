//go:build windows

package coreprocess

import (
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

const createNewProcessGroup = 0x00000200

// setDetached puts the child in its own process group so it survives
// the parent.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// sendGracefulSignal asks the process to exit. Windows processes have
// no SIGTERM equivalent gopsutil can deliver generically, so this falls
// straight through to a normal kill; the two-phase wait still applies.
func sendGracefulSignal(p *process.Process) error {
	return p.Kill()
}
