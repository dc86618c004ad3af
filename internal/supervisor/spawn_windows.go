//go:build windows

package supervisor

import "os/exec"

// setPlatformProcAttr is a no-op on Windows; there is no process-group
// equivalent wired here.
func setPlatformProcAttr(cmd *exec.Cmd) {}

// exitCodeOf reports code 0 for a clean exit and "not ok" for any
// other exit on non-Unix targets: no numeric exit code is recovered
// here, so a failed exit gets a generic exit marker instead of a code.
func exitCodeOf(err error) (code int, ok bool) {
	return 0, err == nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func interruptProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}
