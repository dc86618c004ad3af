package supervisor

import (
	"bufio"
	"io"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/nullstack/svcd/internal/actionlog"
	"github.com/nullstack/svcd/internal/identity"
)

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

func stripControl(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// runChild is the small supervisory task that owns the stdin pump,
// stdout/stderr readers, and exit-wait sub-tasks, coordinated with
// errgroup.Group. The final state transition is published as soon as
// the child exits or the kill switch fires; the sub-tasks are awaited
// only after that, so the transition does not wait for the pumps.
func (sv *Supervisor) runChild(in *Instance, pipes *childPipes, invoker *identity.PrincipalID) {
	exitCh := make(chan error, 1)
	var g errgroup.Group
	g.Go(func() error { sv.pumpStdin(in, pipes.stdin); return nil })
	g.Go(func() error { sv.pumpReader(in, pipes.stdout, FrameStdout); return nil })
	g.Go(func() error { sv.pumpReader(in, pipes.stderr, FrameStderr); return nil })
	g.Go(func() error {
		exitCh <- in.cmd.Wait()
		return nil
	})

	var waitErr error
	select {
	case <-in.killCh:
		interruptProcessGroup(in.cmd)
		select {
		case waitErr = <-exitCh:
		default:
			killProcessGroup(in.cmd)
			waitErr = <-exitCh
		}
		sv.finishKilled(in, waitErr, invoker)
	case waitErr = <-exitCh:
		sv.finishExit(in, waitErr, invoker)
	}

	close(in.stdinCh)
	g.Wait()
	if in.done != nil {
		close(in.done)
	}
}

func (sv *Supervisor) pumpStdin(in *Instance, w io.WriteCloser) {
	defer w.Close()
	for line := range in.stdinCh {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			in.ring.Push(ConsoleFrame{Kind: FrameState, Data: []byte("stdin write failed: " + err.Error())})
			continue
		}
		in.ring.Push(ConsoleFrame{Kind: FrameStdin, Data: []byte(line)})
	}
}

func (sv *Supervisor) pumpReader(in *Instance, r io.ReadCloser, kind FrameKind) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		in.ring.Push(ConsoleFrame{Kind: kind, Data: []byte(stripControl(sc.Text()))})
	}
}

// finishExit classifies a non-killed child exit
// and decides the next state, via the actor loop so the transition is
// serialized with any concurrent operator command.
func (sv *Supervisor) finishExit(in *Instance, waitErr error, invoker *identity.PrincipalID) {
	code, ok := exitCodeOf(waitErr)
	success := waitErr == nil
	frame := "exit"
	if ok {
		frame = frameForExit(code, success)
	}
	in.ring.Push(ConsoleFrame{Kind: FrameState, Data: []byte(frame)})

	var wasStopping bool
	sv.act(func() {
		in.endTime = timeNow()
		wasStopping = in.State() == Stopping
	})

	if wasStopping {
		sv.act(func() { in.setState(Stopped) })
		sv.alog.Append(in.ID, actionlog.ServiceStopped(), invoker, sv.snapshotIf(in, in.SnapshotOnStop))
		return
	}

	if success {
		sv.act(func() { in.backoffCtr = 0 }) // clean exits reset the backoff counter
		sv.alog.Append(in.ID, actionlog.ServiceEnded(), invoker, nil)
		sv.maybeRestart(in, invoker, in.RestartAlways, EndedBackoff)
		return
	}

	sv.alog.Append(in.ID, actionlog.ServiceCrashed(int32(code)), invoker, sv.snapshotIf(in, in.SnapshotOnCrash))
	sv.maybeRestart(in, invoker, in.Restart, CrashedBackoff)
}

// finishKilled applies the kill-switch path, which always wins over
// exit classification.
func (sv *Supervisor) finishKilled(in *Instance, waitErr error, invoker *identity.PrincipalID) {
	sv.act(func() {
		in.endTime = timeNow()
		in.forceKilledState()
	})
	sv.alog.Append(in.ID, actionlog.ServiceKilled(), invoker, sv.snapshotIf(in, in.SnapshotOnManualKill))
}

func (sv *Supervisor) snapshotIf(in *Instance, want bool) []actionlog.SnapshotFrame {
	if !want {
		return nil
	}
	frames := in.ring.Snapshot()
	out := make([]actionlog.SnapshotFrame, len(frames))
	for i, f := range frames {
		out[i] = actionlog.SnapshotFrame{Kind: uint8(f.Kind), Text: string(f.Data)}
	}
	return out
}

func frameForExit(code int, success bool) string {
	if success {
		return "exited 0"
	}
	return "exited non-zero"
}

var timeNow = defaultTimeNow
