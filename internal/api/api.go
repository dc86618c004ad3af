// Package api declares the contracts an HTTP/JSON transport (not
// implemented here) would call against the core services. Every
// method documents the session phase and permission bit an adapter
// must enforce before calling through.
package api

import (
	"github.com/nullstack/svcd/internal/actionlog"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/supervisor"
)

// SupervisorAPI gates each Supervisor operation behind the permission
// bit named in its comment; the session must already be
// identity.PhaseComplete (checked once by AuthAPI.CheckSession before
// any of these are reached).
type SupervisorAPI interface {
	// Start requires identity.PermStart on the target service.
	Start(caller identity.PrincipalID, id identity.ServiceID) error
	// Stop requires identity.PermStop.
	Stop(caller identity.PrincipalID, id identity.ServiceID) error
	// Kill requires identity.PermKill.
	Kill(caller identity.PrincipalID, id identity.ServiceID) error
	// SendStdin requires identity.PermStdinAll.
	SendStdin(caller identity.PrincipalID, id identity.ServiceID, line string) error
	// GetOutput requires identity.PermOutput.
	GetOutput(caller identity.PrincipalID, id identity.ServiceID) ([]supervisor.ConsoleFrame, error)
	// GetServiceState requires any non-empty permission mask on id.
	GetServiceState(caller identity.PrincipalID, id identity.ServiceID) (supervisor.ServiceStateView, error)
	// GetUserServicePermsAll is self-service only: caller must equal
	// the queried uid, or caller must be admin.
	GetUserServicePermsAll(caller, uid identity.PrincipalID) ([]supervisor.ServicePermSummary, error)
}

// AuthAPI gates the login/session/permission-management surface.
type AuthAPI interface {
	// LoginPassword and LoginTOTP require no prior session.
	LoginPassword(email, password string) (*authLoginResult, error)
	LoginTOTP(token, code string) (identity.LoginPhase, error)
	// CheckSession requires a bearer token; returns InvalidSession if
	// absent, stale, or not yet Complete.
	CheckSession(token string) (*identity.Session, error)
	// CreatePrincipal requires admin.
	CreatePrincipal(caller identity.PrincipalID, email, name, password string, admin bool) (identity.PrincipalID, error)
	// ChangeEmail requires the caller's current password when acting on
	// self, or admin when acting on another principal.
	ChangeEmail(caller, target identity.PrincipalID, newEmail, currentPassword string) error
	// DeletePrincipal requires admin; forbidden on self or on root.
	DeletePrincipal(caller, target identity.PrincipalID) error
	// SetServicePerm requires admin.
	SetServicePerm(caller, target identity.PrincipalID, sid identity.ServiceID, mask identity.Permission) error
}

// ActionLogAPI gates the Action Log's query surface behind
// identity.PermLog on the queried service.
type ActionLogAPI interface {
	Latest(caller identity.PrincipalID, sid identity.ServiceID, n int) ([]actionlog.Record, error)
	Range(caller identity.PrincipalID, sid identity.ServiceID, fromMS, toMS int64) ([]actionlog.Record, error)
	MinMax(caller identity.PrincipalID, sid identity.ServiceID) (minMS, maxMS int64, err error)
	Console(caller identity.PrincipalID, sid identity.ServiceID, logID uint64) ([]actionlog.SnapshotFrame, error)
	Details(caller identity.PrincipalID, sid identity.ServiceID, logID uint64) (*actionlog.Record, error)
}

// authLoginResult mirrors auth.LoginResult; declared locally so this
// package documents the contract without importing internal/auth for
// a single return type, keeping the interface file dependency-light.
type authLoginResult struct {
	Token         string
	Phase         identity.LoginPhase
	TOTPSecretB32 string
}
