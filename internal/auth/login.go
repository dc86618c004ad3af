package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
	"github.com/nullstack/svcd/internal/store"
)

// LoginResult is returned by LoginPassword, the first step of the login
// protocol.
type LoginResult struct {
	Token          string
	Phase          identity.LoginPhase
	TOTPSecretB32  string // only set on PhaseAwaitingTOTPSetup, for enrolment display
}

// LoginPassword is step one: verify the password, mint a session token,
// and return whichever TOTP phase applies next.
func (s *Service) LoginPassword(email, password string) (*LoginResult, error) {
	var uid identity.PrincipalID
	var found bool
	s.act(func() {
		v, f, _ := s.trees.email.Get([]byte(email))
		if f && !bytes.Equal(v, emailReserved) {
			uid = identity.PrincipalID(store.DecodeUint64(v))
			found = true
		}
	})
	if !found {
		return nil, apperr.ErrInvalidPassword
	}

	p, err := s.loadPrincipal(uid)
	if err != nil {
		return nil, err
	}
	ok, err := s.verifyPassword(p, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrInvalidPassword
	}

	phase := identity.PhaseAwaitingTOTP
	if !p.TOTPSetupDone {
		phase = identity.PhaseAwaitingTOTPSetup
	}

	token, err := randomSessionToken()
	if err != nil {
		return nil, err
	}
	sess := &identity.Session{Token: token, PrincipalID: uid, Phase: phase}
	s.act(func() {
		s.trees.logins.Insert([]byte(token), sess.Encode())
		s.touchSeen(token)
	})

	res := &LoginResult{Token: token, Phase: phase}
	if phase == identity.PhaseAwaitingTOTPSetup {
		res.TOTPSecretB32 = EncodeTOTPSecretBase32(p.TOTPSecret)
	}
	return res, nil
}

// LoginTOTP is step two (and, on first login, doubles as enrolment
// confirmation): verify the 8-digit code against the session's
// principal, completing the login state machine.
func (s *Service) LoginTOTP(token, code string) (identity.LoginPhase, error) {
	sess, err := s.loadSession(token)
	if err != nil {
		return 0, err
	}
	if sess.Phase == identity.PhaseComplete {
		return identity.PhaseComplete, nil
	}

	p, err := s.loadPrincipal(sess.PrincipalID)
	if err != nil {
		return 0, err
	}
	valid, err := validateTOTPCode(p.TOTPSecret, code)
	if err != nil {
		return 0, err
	}
	if !valid {
		return 0, apperr.ErrInvalidTOTP
	}

	if sess.Phase == identity.PhaseAwaitingTOTPSetup {
		var updErr error
		s.act(func() {
			p.TOTPSetupDone = true
			updErr = s.trees.user.Insert(store.EncodeUint64(uint64(p.ID)), p.Encode())
		})
		if updErr != nil {
			return 0, updErr
		}
	}

	sess.Phase = identity.PhaseComplete
	s.act(func() {
		s.trees.logins.Insert([]byte(token), sess.Encode())
		s.touchSeen(token)
	})
	return identity.PhaseComplete, nil
}

// CheckSession validates a bearer token: it must exist, be fully
// logged in, and not have gone stale beyond sessionMaxAge since its
// last touch.
func (s *Service) CheckSession(token string) (*identity.Session, error) {
	sess, err := s.loadSession(token)
	if err != nil {
		return nil, err
	}
	if sess.Phase != identity.PhaseComplete {
		return nil, apperr.ErrInvalidSession
	}
	var stale bool
	s.act(func() {
		v, found, _ := s.trees.seen.Get([]byte(token))
		if !found {
			stale = true
			return
		}
		last := store.DecodeUint64(v)
		if time.Since(time.Unix(0, int64(last))) > s.sessionMaxAge {
			stale = true
			return
		}
		s.touchSeen(token)
	})
	if stale {
		s.act(func() {
			s.trees.logins.Remove([]byte(token))
			s.trees.seen.Remove([]byte(token))
		})
		return nil, apperr.ErrInvalidSession
	}
	return sess, nil
}

// Logout removes a session immediately regardless of remaining age.
func (s *Service) Logout(token string) {
	s.act(func() {
		s.trees.logins.Remove([]byte(token))
		s.trees.seen.Remove([]byte(token))
	})
}

func (s *Service) loadSession(token string) (*identity.Session, error) {
	var sess *identity.Session
	var err error
	s.act(func() {
		v, found, e := s.trees.logins.Get([]byte(token))
		if e != nil {
			err = e
			return
		}
		if !found {
			err = apperr.ErrInvalidSession
			return
		}
		sess, err = identity.DecodeSession(token, v)
		if err != nil {
			err = apperr.Serialization(err)
		}
	})
	return sess, err
}

// touchSeen must be called from inside the actor loop (act()).
func (s *Service) touchSeen(token string) {
	s.trees.seen.Insert([]byte(token), store.EncodeUint64(uint64(time.Now().UnixNano())))
}

// sweepSessions runs every 20 minutes expiring any
// session whose last-seen timestamp has aged past sessionMaxAge.
func (s *Service) sweepSessions() {
	var expired [][]byte
	s.act(func() {
		kvs, err := s.trees.seen.ScanPrefix(nil)
		if err != nil {
			return
		}
		cutoff := time.Now().Add(-s.sessionMaxAge).UnixNano()
		for _, kv := range kvs {
			last := store.DecodeUint64(kv.Value)
			if int64(last) < cutoff {
				expired = append(expired, kv.Key)
			}
		}
		for _, tok := range expired {
			s.trees.logins.Remove(tok)
			s.trees.seen.Remove(tok)
		}
	})
	if len(expired) > 0 {
		s.lg.Info("expired stale sessions", log.KV("count", len(expired)))
	}
}

func randomSessionToken() (string, error) {
	b := make([]byte, defaultSessionLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
