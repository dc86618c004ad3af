package supervisor

import (
	"time"

	"github.com/nullstack/svcd/internal/actionlog"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
)

const defaultRetryBackoffMS uint64 = 10000

// maybeRestart implements the backoff policy: restart reports whether
// the instance's policy wants a restart at all for this termination
// kind (RestartAlways for clean exits, Restart for crashes);
// backoffState is the transient state to publish while waiting
// (EndedBackoff or CrashedBackoff).
func (sv *Supervisor) maybeRestart(in *Instance, invoker *identity.PrincipalID, restart bool, backoffState State) {
	if !restart {
		sv.act(func() { in.setState(terminalFor(backoffState)) })
		return
	}

	sv.act(func() { in.backoffCtr++ })

	var counter int
	var retryMax int
	sv.act(func() {
		counter = in.backoffCtr
		retryMax = in.RetryMax
	})

	if retryMax > 0 && counter >= retryMax {
		sv.act(func() { in.setState(ServiceMaxRetries) })
		sv.alog.Append(in.ID, actionlog.ServiceMaxRetries(uint64(counter)), invoker, nil)
		return
	}

	backoffMS := in.RetryBackoffMS
	if backoffMS == 0 {
		backoffMS = defaultRetryBackoffMS
	}
	delay := time.Duration(backoffMS) * time.Duration(counter) * time.Millisecond

	sv.act(func() {
		in.abortCh = make(chan struct{})
		in.abortFlag.Store(false)
		in.setState(backoffState)
	})

	if delay <= 0 {
		sv.restartSelf(in, invoker)
		return
	}

	go sv.waitBackoff(in, invoker, delay)
}

// waitBackoff sleeps for delay, cancellable via in.abortCh. The
// canceller (Stop/Kill) sets in.abortFlag BEFORE closing in.abortCh,
// closing the race between "delay expired" and "abort just fired".
func (sv *Supervisor) waitBackoff(in *Instance, invoker *identity.PrincipalID, delay time.Duration) {
	tmr := time.NewTimer(delay)
	defer tmr.Stop()
	var abortCh chan struct{}
	sv.act(func() { abortCh = in.abortCh })

	select {
	case <-tmr.C:
	case <-abortCh:
	}

	if in.abortFlag.Load() {
		return
	}
	sv.restartSelf(in, invoker)
}

// restartSelf re-spawns in after a backoff wait. Unlike Start, this is
// not an operator command: it logs only ServiceStarted, never
// ServiceCmdStart, and leaves the backoff counter alone.
func (sv *Supervisor) restartSelf(in *Instance, invoker *identity.PrincipalID) {
	if err := sv.spawnAndRun(in, invoker, false); err != nil {
		sv.lg.Warn("backoff restart failed", log.KVErr(err))
	}
}

// terminalFor maps a would-be backoff state to the resting state used
// when the policy doesn't call for a restart at all.
func terminalFor(backoffState State) State {
	if backoffState == EndedBackoff {
		return Ended
	}
	return Crashed
}

func defaultTimeNow() time.Time { return time.Now() }
