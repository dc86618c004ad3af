package auth

import (
	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/store"
)

// GetAdminPerm reports whether id is an administrator (admins implicitly
// hold every permission on every service).
func (s *Service) GetAdminPerm(id identity.PrincipalID) (bool, error) {
	p, err := s.loadPrincipal(id)
	if err != nil {
		return false, err
	}
	return p.Admin, nil
}

// GetServicePerm returns id's permission mask for a single service.
// Admins always report PermAll regardless of any stored row.
func (s *Service) GetServicePerm(id identity.PrincipalID, sid identity.ServiceID) (identity.Permission, error) {
	p, err := s.loadPrincipal(id)
	if err != nil {
		return identity.PermNone, err
	}
	if p.Admin {
		return identity.PermAll, nil
	}
	var mask identity.Permission
	s.act(func() {
		v, found, _ := s.trees.perm.Get(store.EncodeKey64_32(uint64(id), sid))
		if found && len(v) > 0 {
			mask = identity.Permission(v[0])
		}
	})
	return mask, nil
}

// GetSessionServiceIDs returns every service id the session's principal
// holds any permission bit on, used to build the service list view.
func (s *Service) GetSessionServiceIDs(token string) ([]identity.ServiceID, error) {
	sess, err := s.CheckSession(token)
	if err != nil {
		return nil, err
	}
	return s.servicesVisibleTo(sess.PrincipalID)
}

func (s *Service) servicesVisibleTo(id identity.PrincipalID) ([]identity.ServiceID, error) {
	p, err := s.loadPrincipal(id)
	if err != nil {
		return nil, err
	}
	var ids []identity.ServiceID
	var scanErr error
	s.act(func() {
		kvs, e := s.trees.perm.ScanPrefix(store.PrefixKey64(uint64(id)))
		if e != nil {
			scanErr = e
			return
		}
		for _, kv := range kvs {
			_, sid := store.DecodeKey64_32(kv.Key)
			if p.Admin || (len(kv.Value) > 0 && identity.Permission(kv.Value[0]) != identity.PermNone) {
				ids = append(ids, sid)
			}
		}
	})
	return ids, scanErr
}

// SetServicePerm overwrites id's permission mask for sid. Only an
// admin may grant permissions. An empty mask removes the row entirely
// rather than storing a zero byte, since an empty mask and an absent
// entry are equivalent and a range scan should only ever see rows that
// grant something.
func (s *Service) SetServicePerm(actor, id identity.PrincipalID, sid identity.ServiceID, mask identity.Permission) error {
	if !s.isAdmin(actor) {
		return apperr.ErrInvalidPermissions
	}
	key := store.EncodeKey64_32(uint64(id), sid)
	var err error
	s.act(func() {
		if mask == identity.PermNone {
			err = s.trees.perm.Remove(key)
			return
		}
		err = s.trees.perm.Insert(key, []byte{byte(mask)})
	})
	return err
}

// RequirePermission is the precondition check the Supervisor's public
// API calls before acting on a principal's request. Admins always pass.
func (s *Service) RequirePermission(id identity.PrincipalID, sid identity.ServiceID, need identity.Permission) error {
	mask, err := s.GetServicePerm(id, sid)
	if err != nil {
		return err
	}
	if !mask.Has(need) {
		return apperr.ErrInvalidPermissions
	}
	return nil
}
