package canister

import (
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// AddAdmin adds target to the admin set. Guard: bootstrap (admin set empty)
// OR is_admin(caller). The first-ever call to AddAdmin needs no authorised
// caller at all; every later call does.
func (s *State) AddAdmin(caller, target vts.Principal) error {
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		empty := tx.IsEmpty(vtsstore.RegionAdmins)
		if !empty {
			if err := s.Guard.IsAdmin(caller); err != nil {
				result = err
				return nil
			}
		}
		if _, exists := tx.Get(vtsstore.RegionAdmins, keyP(target)); exists {
			result = vts.NewError(vts.ErrAlreadyExists, "admin already registered")
			return nil
		}
		return tx.Put(vtsstore.RegionAdmins, keyP(target), []byte{1})
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// DeleteAdmin removes target from the admin set. Guard: is_admin(caller). An
// admin may not delete itself.
func (s *State) DeleteAdmin(caller, target vts.Principal) error {
	if err := s.Guard.IsAdmin(caller); err != nil {
		return err
	}
	if caller == target {
		return vts.NewError(vts.ErrInvalidSigner, "an admin may not delete itself")
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		if _, exists := tx.Get(vtsstore.RegionAdmins, keyP(target)); !exists {
			result = vts.NewError(vts.ErrNotFound, "admin not found")
			return nil
		}
		return tx.Delete(vtsstore.RegionAdmins, keyP(target))
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// RegisterUser creates a new user. Guard: is_admin(caller).
func (s *State) RegisterUser(caller, target vts.Principal, email *string) error {
	if err := s.Guard.IsAdmin(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		if _, ok, err := loadUser(tx, target); err != nil {
			return err
		} else if ok {
			result = vts.NewError(vts.ErrAlreadyExists, "user already registered")
			return nil
		}
		return putUser(tx, vts.NewUser(target, email))
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// DeleteUser removes a user. Guard: is_admin(caller).
func (s *State) DeleteUser(caller, target vts.Principal) error {
	if err := s.Guard.IsAdmin(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		if _, ok, err := loadUser(tx, target); err != nil {
			return err
		} else if !ok {
			result = vts.NewError(vts.ErrNotFound, "user not found")
			return nil
		}
		return tx.Delete(vtsstore.RegionUsers, keyP(target))
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// GetUser returns the caller's own record. Guard: is_user(caller).
func (s *State) GetUser(caller vts.Principal) (*vts.User, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out *vts.User
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		u, ok, err := loadUser(tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "user not found")
			return nil
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}
