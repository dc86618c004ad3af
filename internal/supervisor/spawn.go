package supervisor

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// resolvePath joins p onto the process's current working directory
// when allowRelative is set and p is not already absolute; otherwise
// p is used verbatim.
func resolvePath(p string, allowRelative bool) (string, error) {
	if filepath.IsAbs(p) || !allowRelative {
		return p, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, p), nil
}

type childPipes struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// spawnChild resolves the command/working directory and starts the
// child with stdin/stdout/stderr all wired as pipes, plus optional
// relative-path resolution. The child inherits the daemon's
// environment unmodified.
func spawnChild(m Model) (*exec.Cmd, *childPipes, error) {
	cmdPath, err := resolvePath(m.Command, m.AllowRelative)
	if err != nil {
		return nil, nil, err
	}
	dir, err := resolvePath(m.Directory, m.AllowRelative)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(cmdPath, m.Args...)
	cmd.Dir = dir

	var pipes childPipes
	if pipes.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, nil, err
	}
	if pipes.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, nil, err
	}
	if pipes.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, nil, err
	}
	setPlatformProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return cmd, &pipes, nil
}
