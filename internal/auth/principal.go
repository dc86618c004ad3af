package auth

import (
	"bytes"

	"golang.org/x/crypto/bcrypt"

	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/store"
)

// emailReserved is the sentinel value CreatePrincipal writes into
// REL_EMAIL_UID while a new principal's row is not yet committed; uid 0
// is never assigned to a real principal, so it can't be confused for a live owner.
var emailReserved = store.EncodeUint64(0)

// CreatePrincipal reserves email, hashes password off the actor loop,
// and commits the new principal plus its email reservation atomically.
func (s *Service) CreatePrincipal(email, name, password string, admin bool) (identity.PrincipalID, error) {
	var reserved bool
	s.act(func() {
		cur, found, _ := s.trees.email.Get([]byte(email))
		if found && !bytes.Equal(cur, emailReserved) {
			reserved = false
			return
		}
		if !found {
			s.trees.email.Insert([]byte(email), emailReserved)
		}
		reserved = true
	})
	if !reserved {
		return 0, apperr.ErrEmailInUse
	}

	var hash []byte
	var hashErr error
	s.runBlocking(func() {
		hash, hashErr = bcrypt.GenerateFromPassword([]byte(password), defaultBcryptCost)
	})
	if hashErr != nil {
		s.act(func() { s.trees.email.Remove([]byte(email)) })
		return 0, hashErr
	}

	secret, err := generateTOTPSecret()
	if err != nil {
		s.act(func() { s.trees.email.Remove([]byte(email)) })
		return 0, err
	}

	var id identity.PrincipalID
	var txErr error
	s.act(func() {
		rawID, e := s.st.GenerateID()
		if e != nil {
			txErr = e
			return
		}
		id = identity.PrincipalID(rawID)
		p := &identity.Principal{
			ID:           id,
			Email:        email,
			Name:         name,
			Admin:        admin,
			PasswordHash: hash,
			PasswordCost: defaultBcryptCost,
			TOTPSecret:   secret,
			TOTPDigits:   totpDigits,
			TOTPHashSHA1: true,
		}
		txErr = s.st.Transaction([]string{store.TreeUser, store.TreeRelEmailUID}, func(tx *store.Txn) error {
			tx.Tree(store.TreeUser).Insert(store.EncodeUint64(uint64(p.ID)), p.Encode())
			tx.Tree(store.TreeRelEmailUID).Insert([]byte(p.Email), store.EncodeUint64(uint64(p.ID)))
			return nil
		})
	})
	if txErr != nil {
		s.act(func() { s.trees.email.Remove([]byte(email)) })
		return 0, txErr
	}
	return id, nil
}

// ChangeEmail claims newEmail for id via compare-and-swap, unlike the
// transaction used for first creation, since only the email reservation
// needs to move atomically with the principal record here.
func (s *Service) ChangeEmail(actor identity.PrincipalID, id identity.PrincipalID, newEmail, currentPassword string) error {
	p, err := s.loadPrincipal(id)
	if err != nil {
		return err
	}
	if actor == id {
		ok, err := s.verifyPassword(p, currentPassword)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidPassword
		}
	} else if !s.isAdmin(actor) {
		return apperr.ErrInvalidPermissions
	}

	var swapped bool
	s.act(func() {
		swapped, _ = s.trees.email.CompareAndSwap([]byte(newEmail), nil, store.EncodeUint64(uint64(id)))
	})
	if !swapped {
		return apperr.ErrEmailInUse
	}

	var updErr error
	s.act(func() {
		oldEmail := p.Email
		p.Email = newEmail
		updErr = s.trees.user.Insert(store.EncodeUint64(uint64(id)), p.Encode())
		if updErr == nil {
			s.trees.email.Remove([]byte(oldEmail))
		}
	})
	return updErr
}

// DeletePrincipal removes a principal; neither self-deletion nor
// deleting root is permitted.
func (s *Service) DeletePrincipal(actor, target identity.PrincipalID) error {
	if actor == target {
		return apperr.ErrCannotDeleteSelf
	}
	if target == identity.RootID {
		return apperr.ErrCannotDeleteRoot
	}
	if !s.isAdmin(actor) {
		return apperr.ErrInvalidPermissions
	}
	p, err := s.loadPrincipal(target)
	if err != nil {
		return err
	}
	var delErr error
	s.act(func() {
		delErr = s.st.Transaction([]string{store.TreeUser, store.TreeRelEmailUID}, func(tx *store.Txn) error {
			tx.Tree(store.TreeUser).Remove(store.EncodeUint64(uint64(target)))
			tx.Tree(store.TreeRelEmailUID).Remove([]byte(p.Email))
			return nil
		})
	})
	return delErr
}

func (s *Service) loadPrincipal(id identity.PrincipalID) (*identity.Principal, error) {
	var p *identity.Principal
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
		p, err = identity.DecodePrincipal(v)
		if err != nil {
			err = apperr.Serialization(err)
		}
	})
	return p, err
}

func (s *Service) isAdmin(id identity.PrincipalID) bool {
	p, err := s.loadPrincipal(id)
	return err == nil && p.Admin
}

func (s *Service) verifyPassword(p *identity.Principal, password string) (bool, error) {
	var err error
	s.runBlocking(func() {
		err = bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(password))
	})
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
