package canister

import (
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// GetVehicle returns the vehicle record if caller is its customer or (once
// linked) its provider. Guard: is_user(caller).
func (s *State) GetVehicle(caller, id vts.Principal) (*vts.Vehicle, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out *vts.Vehicle
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		v, ok, err := loadVehicle(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "vehicle not found")
			return nil
		}
		isProvider := v.Provider != (vts.Principal{}) && v.Provider == caller
		if v.Customer != caller && !isProvider {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is neither customer nor provider")
			return nil
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}

// TurnOnOffVehicle sets the on/off flag. Only the linked provider may call
// it; a vehicle without a provider cannot be toggled. Guard: is_user(caller).
func (s *State) TurnOnOffVehicle(caller, id vts.Principal, on bool) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		v, ok, err := loadVehicle(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "vehicle not found")
			return nil
		}
		if v.Provider == (vts.Principal{}) || v.Provider != caller {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is not the linked provider")
			return nil
		}
		v.OnOff = on
		return putVehicle(tx, v)
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// GetAggregatedData returns the vehicle's accumulated telemetry tree, subject
// to the same ownership check as GetVehicle. Guard: is_user(caller).
func (s *State) GetAggregatedData(caller, id vts.Principal) (vts.AccumTree, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out vts.AccumTree
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		v, ok, err := loadVehicle(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "vehicle not found")
			return nil
		}
		isProvider := v.Provider != (vts.Principal{}) && v.Provider == caller
		if v.Customer != caller && !isProvider {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is neither customer nor provider")
			return nil
		}
		out = v.AccumulatedTelemetry
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}

// GetVehiclesByAgreement returns the set of vehicle ids linked to agreement
// id. Guard: is_user(caller).
func (s *State) GetVehiclesByAgreement(caller vts.Principal, id vts.U128) (map[vts.Principal]struct{}, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out map[vts.Principal]struct{}
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		a, ok, err := loadAgreement(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "agreement not found")
			return nil
		}
		out = a.Vehicles
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}
