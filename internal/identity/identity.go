// Package identity holds the value objects owned by the Store and
// manipulated by the Session+Auth service: Principal,
// Session, and ServicePermission. These are pure data + codec methods;
// all I/O lives in internal/auth and internal/store.
package identity

import "github.com/nullstack/svcd/internal/store"

// PrincipalID is never recycled; the root principal holds the
// smallest valid id, fixed at startup.
type PrincipalID uint64

const RootID PrincipalID = 1

type ServiceID = uint32

// Principal is a user account.
type Principal struct {
	ID     PrincipalID
	Email  string // unique, case-sensitive
	Name   string
	Admin  bool

	PasswordHash []byte // bcrypt hash
	PasswordCost int

	TOTPSecret     []byte // 64 random bytes
	TOTPDigits     int    // 8
	TOTPHashSHA1   bool   // hash mode; SHA1
	TOTPSetupDone  bool
}

func (p *Principal) Encode() []byte {
	w := store.NewWriter()
	w.PutUint64(uint64(p.ID))
	w.PutString(p.Email)
	w.PutString(p.Name)
	w.PutBool(p.Admin)
	w.PutBytes(p.PasswordHash)
	w.PutUint32(uint32(p.PasswordCost))
	w.PutBytes(p.TOTPSecret)
	w.PutUint32(uint32(p.TOTPDigits))
	w.PutBool(p.TOTPHashSHA1)
	w.PutBool(p.TOTPSetupDone)
	return w.Bytes()
}

func DecodePrincipal(b []byte) (*Principal, error) {
	r := store.NewReader(b)
	p := &Principal{}
	id, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	p.ID = PrincipalID(id)
	if p.Email, err = r.String(); err != nil {
		return nil, err
	}
	if p.Name, err = r.String(); err != nil {
		return nil, err
	}
	if p.Admin, err = r.Bool(); err != nil {
		return nil, err
	}
	if p.PasswordHash, err = r.Bytes(); err != nil {
		return nil, err
	}
	cost, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	p.PasswordCost = int(cost)
	if p.TOTPSecret, err = r.Bytes(); err != nil {
		return nil, err
	}
	digits, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	p.TOTPDigits = int(digits)
	if p.TOTPHashSHA1, err = r.Bool(); err != nil {
		return nil, err
	}
	if p.TOTPSetupDone, err = r.Bool(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoginPhase is the current step of a session's login state machine.
type LoginPhase uint8

const (
	PhaseAwaitingTOTPSetup LoginPhase = iota
	PhaseAwaitingTOTP
	PhaseComplete
)

func (p LoginPhase) String() string {
	switch p {
	case PhaseAwaitingTOTPSetup:
		return "awaiting-totp-setup"
	case PhaseAwaitingTOTP:
		return "awaiting-totp"
	case PhaseComplete:
		return "complete"
	}
	return "unknown"
}

// Session is the LOGINS tree's value: a token bound to a principal and
// login phase.
type Session struct {
	Token       string
	PrincipalID PrincipalID
	Phase       LoginPhase
}

func (s *Session) Encode() []byte {
	w := store.NewWriter()
	w.PutUint64(uint64(s.PrincipalID))
	w.PutUint8(uint8(s.Phase))
	return w.Bytes()
}

func DecodeSession(token string, b []byte) (*Session, error) {
	r := store.NewReader(b)
	uid, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	phase, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, PrincipalID: PrincipalID(uid), Phase: LoginPhase(phase)}, nil
}

// Permission is the bitmask over {START, STOP, STDIN_ALL, OUTPUT, KILL, LOG}.
// An empty mask is equivalent to an absent PERM_SERVICE entry.
type Permission uint8

const (
	PermStart Permission = 1 << iota
	PermStop
	PermStdinAll
	PermOutput
	PermKill
	PermLog

	PermAll = PermStart | PermStop | PermStdinAll | PermOutput | PermKill | PermLog
	PermNone Permission = 0
)

func (p Permission) Has(bit Permission) bool { return p&bit != 0 }
