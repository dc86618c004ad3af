package supervisor

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullstack/svcd/internal/config"
	"github.com/nullstack/svcd/internal/identity"
)

// Model is the immutable, config-declared half of a ServiceInstance.
// It never changes after Load.
type Model struct {
	ID            identity.ServiceID
	Name          string
	Enabled       bool
	Command       string
	Directory     string
	Args          []string
	AllowRelative bool
	Autostart     bool
	Restart       bool
	RestartAlways bool
	RetryMax      int
	RetryBackoffMS uint64
	SoftStop      string

	SnapshotOnStop       bool
	SnapshotOnCrash      bool
	SnapshotOnManualStop bool
	SnapshotOnManualKill bool
}

func modelFromConfig(c config.ServiceConfig) Model {
	return Model{
		ID: c.ID, Name: c.Name, Enabled: c.Enabled, Command: c.Command,
		Directory: c.Directory, Args: c.Args, AllowRelative: c.AllowRelative,
		Autostart: c.Autostart, Restart: c.Restart, RestartAlways: c.RestartAlways,
		RetryMax: c.RetryMax, RetryBackoffMS: c.RetryBackoffMS, SoftStop: c.SoftStop,
		SnapshotOnStop: c.SnapshotOnStop, SnapshotOnCrash: c.SnapshotOnCrash,
		SnapshotOnManualStop: c.SnapshotOnManualStop, SnapshotOnManualKill: c.SnapshotOnManualKill,
	}
}

// Instance is one supervised service: an immutable Model plus mutable
// runtime state. Exclusively owned by the Supervisor actor;
// only the ring and the cross-task flags below are shared with the
// spawned I/O tasks, via the handles they close over.
type Instance struct {
	Model

	state      atomic.Int32 // State, packed
	ring       *Ring
	startTime  time.Time
	endTime    time.Time
	backoffCtr int

	lastExitCode int
	killed       atomic.Bool

	cmd       *exec.Cmd
	stdinCh   chan string   // bounded, capacity 16
	killCh    chan struct{} // one-shot kill switch
	killOnce  sync.Once
	abortCh   chan struct{} // backoff cancellation
	abortFlag atomic.Bool
	done      chan struct{} // closed when the pump supervisory task finishes
}

func newInstance(m Model) *Instance {
	return &Instance{Model: m, ring: NewRing(DefaultRingCapacity)}
}

func (in *Instance) State() State { return State(in.state.Load()) }

func (in *Instance) setState(s State) {
	if in.killed.Load() && s != Killed {
		return // kill always wins
	}
	in.state.Store(int32(s))
}

func (in *Instance) forceKilledState() {
	in.killed.Store(true)
	in.state.Store(int32(Killed))
}

// Uptime is (end_time or now) - start_time, or 0 if never started.
func (in *Instance) Uptime() time.Duration {
	if in.startTime.IsZero() {
		return 0
	}
	end := in.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(in.startTime)
}
