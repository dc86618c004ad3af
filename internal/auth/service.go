// Package auth implements the Session + Authentication actor: root
// bootstrap, the three-step login protocol, session lifecycle, and
// permission evaluation. It owns no cache — every read goes through
// internal/store — and runs as a single-threaded actor (a goroutine
// draining a channel of closures) so that state transitions for a
// given principal/session are always serialized.
package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
	"github.com/nullstack/svcd/internal/store"
)

var nowFunc = time.Now

const (
	defaultBcryptCost  = bcrypt.DefaultCost
	defaultSessionLen  = 64
	hashWorkers        = 4
	bootstrapPassLen   = 20
	sweepInterval      = "@every 20m"
)

// Service is the Session+Auth actor.
type Service struct {
	st   *store.Store
	lg   *log.Logger
	trees struct {
		user, email, perm, logins, seen *store.Tree
	}

	sessionMaxAge time.Duration

	actorCh chan func()
	quit    chan struct{}

	hashJobs chan hashJob
	hashWG   struct{ n int }

	cron *cron.Cron
}

type hashJob struct {
	fn   func()
	done chan struct{}
}

// Options configures a new Service.
type Options struct {
	SessionMaxAge time.Duration
	BcryptCost    int
}

func New(st *store.Store, lg *log.Logger, opts Options) (*Service, error) {
	s := &Service{
		st:            st,
		lg:            lg,
		sessionMaxAge: opts.SessionMaxAge,
		actorCh:       make(chan func(), 32),
		quit:          make(chan struct{}),
		hashJobs:      make(chan hashJob, 32),
	}
	if s.sessionMaxAge <= 0 {
		s.sessionMaxAge = 24 * time.Hour
	}
	var err error
	if s.trees.user, err = st.OpenTree(store.TreeUser); err != nil {
		return nil, err
	}
	if s.trees.email, err = st.OpenTree(store.TreeRelEmailUID); err != nil {
		return nil, err
	}
	if s.trees.perm, err = st.OpenTree(store.TreePermService); err != nil {
		return nil, err
	}
	if s.trees.logins, err = st.OpenTree(store.TreeLogins); err != nil {
		return nil, err
	}
	if s.trees.seen, err = st.OpenTree(store.TreeRelLoginSeen); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the actor loop, the bcrypt worker pool, and the
// 20-minute session sweep.
func (s *Service) Start() error {
	go s.run()
	for i := 0; i < hashWorkers; i++ {
		go s.hashWorker()
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(sweepInterval, s.sweepSessions); err != nil {
		return fmt.Errorf("auth: failed to schedule session sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.quit)
}

func (s *Service) run() {
	for {
		select {
		case fn := <-s.actorCh:
			fn()
		case <-s.quit:
			return
		}
	}
}

// act serializes fn through the actor loop and blocks the caller until
// it completes; fn itself must never block.
func (s *Service) act(fn func()) {
	done := make(chan struct{})
	s.actorCh <- func() { fn(); close(done) }
	<-done
}

// runBlocking offloads fn to the bcrypt worker pool, never running it
// inline on the actor loop.
func (s *Service) runBlocking(fn func()) {
	done := make(chan struct{})
	s.hashJobs <- hashJob{fn: fn, done: done}
	<-done
}

func (s *Service) hashWorker() {
	for {
		select {
		case job := <-s.hashJobs:
			job.fn()
			close(job.done)
		case <-s.quit:
			return
		}
	}
}

// Bootstrap creates the root principal if it doesn't exist yet and
// (re)materializes "admin implies all rights" across every known
// service.
func (s *Service) Bootstrap(serviceIDs []identity.ServiceID) error {
	var exists bool
	s.act(func() {
		found, _ := s.trees.user.ContainsKey(store.EncodeUint64(uint64(identity.RootID)))
		exists = found
	})
	if !exists {
		pass, err := randomPrintablePassword(bootstrapPassLen)
		if err != nil {
			return err
		}

		start := nowFunc()
		var hash []byte
		var hashErr error
		s.runBlocking(func() {
			hash, hashErr = bcrypt.GenerateFromPassword([]byte(pass), defaultBcryptCost)
		})
		if d := nowFunc().Sub(start); d > 2*time.Second {
			s.lg.Warn("bootstrap password hash was slow", log.KV("duration", d.String()))
		}
		if hashErr != nil {
			return hashErr
		}

		var createErr error
		s.act(func() {
			p := &identity.Principal{
				ID:           identity.RootID,
				Email:        "root@localhost",
				Name:         "root",
				Admin:        true,
				PasswordHash: hash,
				PasswordCost: defaultBcryptCost,
				TOTPDigits:   totpDigits,
				TOTPHashSHA1: true,
			}
			secret, err := generateTOTPSecret()
			if err != nil {
				createErr = err
				return
			}
			p.TOTPSecret = secret
			createErr = s.st.Transaction([]string{store.TreeUser, store.TreeRelEmailUID}, func(tx *store.Txn) error {
				tx.Tree(store.TreeUser).Insert(store.EncodeUint64(uint64(p.ID)), p.Encode())
				tx.Tree(store.TreeRelEmailUID).Insert([]byte(p.Email), store.EncodeUint64(uint64(p.ID)))
				return nil
			})
			if createErr == nil {
				createErr = s.st.EnsureSeqAtLeast(uint64(identity.RootID))
			}
		})
		if createErr != nil {
			return createErr
		}
		s.lg.Critical("generated root password, shown once", log.KV("password", pass))
		fmt.Printf("root password (shown once): %s\n", pass)
	}
	return s.SetupAdminPermissions(serviceIDs)
}

// SetupAdminPermissions writes the ALL mask into every admin's
// per-service permission entry for every known service.
func (s *Service) SetupAdminPermissions(serviceIDs []identity.ServiceID) error {
	var err error
	s.act(func() {
		kvs, e := s.trees.user.ScanPrefix(nil)
		if e != nil {
			err = e
			return
		}
		for _, kv := range kvs {
			p, e := identity.DecodePrincipal(kv.Value)
			if e != nil {
				continue
			}
			if !p.Admin {
				continue
			}
			for _, sid := range serviceIDs {
				key := store.EncodeKey64_32(uint64(p.ID), sid)
				if e := s.trees.perm.Insert(key, []byte{byte(identity.PermAll)}); e != nil {
					err = e
					return
				}
			}
		}
	})
	return err
}

func randomPrintablePassword(n int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(out), nil
}

// DisplayName resolves a principal id to a display name, used by the
// Supervisor/Action Log to render invoker names without holding a
// direct borrow of Auth's principal map.
func (s *Service) DisplayName(id identity.PrincipalID) (string, error) {
	var name string
	var err error
	s.act(func() {
		v, found, e := s.trees.user.Get(store.EncodeUint64(uint64(id)))
		if e != nil {
			err = e
			return
		}
		if !found {
			err = apperr.InvalidUser(uint64(id))
			return
		}
		p, e := identity.DecodePrincipal(v)
		if e != nil {
			err = apperr.Serialization(e)
			return
		}
		name = p.Name
	})
	return name, err
}
