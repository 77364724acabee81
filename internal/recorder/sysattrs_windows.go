//go:build windows

package recorder

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// terminateGroup has no graceful equivalent on Windows.
func terminateGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
