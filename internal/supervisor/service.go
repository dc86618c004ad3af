// Package supervisor implements the per-service state machine,
// process lifecycle, stdio plumbing, and bounded-retry backoff for
// every supervised service: multiple concurrently supervised
// processes, independent kill-switch/backoff cancellation, and a
// bounded console ring per instance.
package supervisor

import (
	"sync"
	"time"

	"github.com/nullstack/svcd/internal/actionlog"
	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/config"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
)

// PermissionChecker reports whether a principal holds any permission
// bit on a service; implemented by *auth.Service. Taken as an
// interface for the same message-passing reason actionlog.DisplayNamer
// is.
type PermissionChecker interface {
	GetServicePerm(identity.PrincipalID, identity.ServiceID) (identity.Permission, error)
}

// Supervisor is the process-wide singleton owning every ServiceInstance.
// Like Auth, it is a single-threaded actor: state transitions for any
// instance are serialized through run().
type Supervisor struct {
	perms PermissionChecker
	alog  *actionlog.Service
	lg    *log.Logger

	instances map[identity.ServiceID]*Instance
	order     []identity.ServiceID
	loaded    bool

	actorCh chan func()
	quit    chan struct{}
}

func New(alog *actionlog.Service, perms PermissionChecker, lg *log.Logger) *Supervisor {
	return &Supervisor{
		alog:      alog,
		perms:     perms,
		lg:        lg,
		instances: make(map[identity.ServiceID]*Instance),
		actorCh:   make(chan func(), 64),
		quit:      make(chan struct{}),
	}
}

// Run launches the actor loop. Call once at daemon startup.
func (sv *Supervisor) Run() { go sv.run() }

func (sv *Supervisor) Shutdown() { close(sv.quit) }

func (sv *Supervisor) run() {
	for {
		select {
		case fn := <-sv.actorCh:
			fn()
		case <-sv.quit:
			return
		}
	}
}

func (sv *Supervisor) act(fn func()) {
	done := make(chan struct{})
	sv.actorCh <- func() { fn(); close(done) }
	<-done
}

// Load populates instances from configuration and autostarts the ones
// flagged for it. May only be called once.
func (sv *Supervisor) Load(services []config.ServiceConfig) error {
	var err error
	var autostart []identity.ServiceID
	sv.act(func() {
		if sv.loaded {
			err = apperr.ErrServicesNotEmpty
			return
		}
		for _, c := range services {
			m := modelFromConfig(c)
			sv.instances[m.ID] = newInstance(m)
			sv.order = append(sv.order, m.ID)
			if m.Autostart {
				autostart = append(autostart, m.ID)
			}
		}
		sv.loaded = true
	})
	if err != nil {
		return err
	}
	sv.alog.Append(0, actionlog.SystemStartup(), nil, nil)
	for _, id := range autostart {
		if serr := sv.Start(id, nil); serr != nil {
			sv.lg.Error("autostart failed", log.KV("service_id", id), log.KVErr(serr))
		}
	}
	return nil
}

func (sv *Supervisor) lookup(id identity.ServiceID) (*Instance, error) {
	var in *Instance
	var err error
	sv.act(func() {
		var ok bool
		if in, ok = sv.instances[id]; !ok {
			err = apperr.InvalidInstance(id)
		}
	})
	return in, err
}

// Start spawns id's child process in response to an explicit operator
// command: it logs ServiceCmdStart, then ServiceStarted, and clears
// the backoff counter so a prior run of crashes doesn't carry over.
func (sv *Supervisor) Start(id identity.ServiceID, invoker *identity.PrincipalID) error {
	var in *Instance
	var err error
	sv.act(func() {
		var ok bool
		if in, ok = sv.instances[id]; !ok {
			err = apperr.InvalidInstance(id)
			return
		}
		if in.State() == Running {
			err = apperr.ErrServiceRunning
			return
		}
	})
	if err != nil {
		return err
	}
	sv.alog.Append(id, actionlog.ServiceCmdStart(), invoker, nil)
	return sv.spawnAndRun(in, invoker, true)
}

// spawnAndRun starts in's child process and logs ServiceStarted (or
// ServiceStartFailed). It never logs ServiceCmdStart: that event marks
// only an operator-issued start command, not every process spawn.
// resetBackoff clears the crash counter, which an operator Start wants
// but an automatic backoff restart must not (its counter is what's
// driving the restart in the first place).
func (sv *Supervisor) spawnAndRun(in *Instance, invoker *identity.PrincipalID, resetBackoff bool) error {
	cmd, pipes, serr := spawnChild(in.Model)
	if serr != nil {
		sv.alog.Append(in.ID, actionlog.ServiceStartFailed(serr.Error()), invoker, nil)
		return apperr.StartupIOError(serr)
	}

	sv.act(func() {
		in.cmd = cmd
		in.stdinCh = make(chan string, 16)
		in.killCh = make(chan struct{})
		in.killOnce = sync.Once{}
		in.done = make(chan struct{})
		in.startTime = time.Now()
		in.endTime = time.Time{}
		in.killed.Store(false)
		if resetBackoff {
			in.backoffCtr = 0
		}
		in.setState(Running)
	})
	sv.alog.Append(in.ID, actionlog.ServiceStarted(), invoker, nil)
	go sv.runChild(in, pipes, invoker)
	return nil
}

// Stop requests a graceful stop: cancels a pending
// backoff if one is in flight, otherwise writes the soft-stop line.
func (sv *Supervisor) Stop(id identity.ServiceID, invoker *identity.PrincipalID) error {
	in, err := sv.lookup(id)
	if err != nil {
		return err
	}

	var softStop string
	var stdinCh chan string
	var cancelled, wantWrite bool
	sv.act(func() {
		switch in.State() {
		case EndedBackoff, CrashedBackoff:
			in.abortFlag.Store(true)
			close(in.abortCh)
			in.setState(Stopped)
			cancelled = true
		case Running:
			if in.SoftStop == "" {
				err = apperr.ErrNoSoftStop
				return
			}
			if in.stdinCh == nil {
				err = apperr.ErrNoServiceHandle
				return
			}
			in.setState(Stopping)
			softStop = in.SoftStop
			stdinCh = in.stdinCh
			wantWrite = true
		default:
			err = apperr.ErrServiceStopped
		}
	})
	if err != nil {
		return err
	}

	if wantWrite {
		select {
		case stdinCh <- softStop:
		default:
			return apperr.ErrBrokenPipe
		}
	}
	if cancelled || wantWrite {
		sv.alog.Append(id, actionlog.ServiceCmdStop(), invoker, nil)
	}
	return nil
}

// Kill fires the kill switch, or cancels a pending backoff.
// Kill-switch firing always wins over exit classification.
func (sv *Supervisor) Kill(id identity.ServiceID, invoker *identity.PrincipalID) error {
	in, err := sv.lookup(id)
	if err != nil {
		return err
	}

	var fired bool
	sv.act(func() {
		switch in.State() {
		case EndedBackoff, CrashedBackoff:
			in.abortFlag.Store(true)
			close(in.abortCh)
			in.forceKilledState()
			fired = true
		case Running, Stopping:
			if in.killCh == nil {
				err = apperr.ErrNoServiceHandle
				return
			}
			in.killOnce.Do(func() { close(in.killCh) })
			fired = true
		default:
			err = apperr.ErrNoServiceHandle
		}
	})
	if err != nil {
		return err
	}
	if fired {
		sv.alog.Append(id, actionlog.ServiceCmdKilled(), invoker, nil)
	}
	return nil
}

// SendStdin enqueues a line on the running child's stdin pump.
func (sv *Supervisor) SendStdin(id identity.ServiceID, line string, invoker *identity.PrincipalID) error {
	in, err := sv.lookup(id)
	if err != nil {
		return err
	}
	var ch chan string
	sv.act(func() {
		if in.State() != Running {
			err = apperr.ErrServiceStopped
			return
		}
		if in.stdinCh == nil {
			err = apperr.ErrNoServiceHandle
			return
		}
		ch = in.stdinCh
	})
	if err != nil {
		return err
	}
	select {
	case ch <- line:
	default:
		return apperr.ErrBrokenPipe
	}
	sv.alog.Append(id, actionlog.Stdin(line), invoker, nil)
	return nil
}

// GetOutput returns a snapshot of id's console ring.
func (sv *Supervisor) GetOutput(id identity.ServiceID) ([]ConsoleFrame, error) {
	in, err := sv.lookup(id)
	if err != nil {
		return nil, err
	}
	return in.ring.Snapshot(), nil
}

// ServiceStateView is the public {id, name, State, uptime} projection
// of an instance.
type ServiceStateView struct {
	ID     identity.ServiceID
	Name   string
	State  State
	Uptime time.Duration
}

func (sv *Supervisor) GetServiceState(id identity.ServiceID) (ServiceStateView, error) {
	in, err := sv.lookup(id)
	if err != nil {
		return ServiceStateView{}, err
	}
	return ServiceStateView{ID: in.ID, Name: in.Name, State: in.State(), Uptime: in.Uptime()}, nil
}

// ServicePermSummary is one row of GetUserServicePermsAll's result.
type ServicePermSummary struct {
	ID         identity.ServiceID
	Name       string
	HasAnyPerm bool
}

// GetUserServicePermsAll reports, for every known service, whether uid
// holds any permission on it.
func (sv *Supervisor) GetUserServicePermsAll(uid identity.PrincipalID) ([]ServicePermSummary, error) {
	var ids []identity.ServiceID
	var models map[identity.ServiceID]Model
	sv.act(func() {
		ids = append(ids, sv.order...)
		models = make(map[identity.ServiceID]Model, len(sv.instances))
		for id, in := range sv.instances {
			models[id] = in.Model
		}
	})
	out := make([]ServicePermSummary, 0, len(ids))
	for _, id := range ids {
		mask, err := sv.perms.GetServicePerm(uid, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ServicePermSummary{ID: id, Name: models[id].Name, HasAnyPerm: mask != identity.PermNone})
	}
	return out, nil
}

