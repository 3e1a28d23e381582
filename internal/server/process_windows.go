//go:build windows

package server

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// interrupt sends CTRL_BREAK to the server's process group.
func interrupt(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}

func signaled(*exec.ExitError) bool {
	return false
}

// kill terminates the server. Children started by the script are not tracked.
func kill(p *os.Process) error {
	return p.Kill()
}

func groupAlive(*os.Process) bool {
	return false
}
