package canister

import (
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// RequestFirmware inserts caller into the firmware-request set. Guard:
// is_user(caller).
func (s *State) RequestFirmware(caller vts.Principal) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		if _, exists := tx.Get(vtsstore.RegionFirmwareRequests, keyP(caller)); exists {
			result = vts.NewError(vts.ErrAlreadyExists, "firmware already requested")
			return nil
		}
		return tx.Put(vtsstore.RegionFirmwareRequests, keyP(caller), []byte{1})
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// GetFirmwareRequests returns one outstanding requester, the first under key
// order (principal byte order stands in for true FIFO, which the design
// allows: "any one principal... suffices"). Guard: is_gateway(caller).
func (s *State) GetFirmwareRequests(caller vts.Principal) (vts.Principal, error) {
	if err := s.Guard.IsGateway(caller); err != nil {
		return vts.Principal{}, err
	}
	var out vts.Principal
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		key, ok := tx.FirstKey(vtsstore.RegionFirmwareRequests)
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "no outstanding firmware requests")
			return nil
		}
		copy(out[:], key)
		return nil
	})
	if err != nil {
		return vts.Principal{}, internalErr(err)
	}
	return out, result
}

// GetFirmwareRequestsByUser is a presence probe for the caller's own
// outstanding request. Guard: is_user(caller).
func (s *State) GetFirmwareRequestsByUser(caller vts.Principal) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		if _, exists := tx.Get(vtsstore.RegionFirmwareRequests, keyP(caller)); !exists {
			result = vts.NewError(vts.ErrNotFound, "no outstanding firmware request")
		}
		return nil
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// UploadFirmware clears customer's outstanding request and creates its
// Vehicle record. Guard: is_gateway(caller).
//
// Unlike the source this is based on, a pre-existing vehicle at the derived
// identity fails with AlreadyExists instead of being silently overwritten —
// overwriting would discard that vehicle's telemetry and invoice history.
func (s *State) UploadFirmware(caller, customer vts.Principal, publicKey []byte, arch string, firmware []byte) error {
	if err := s.Guard.IsGateway(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		if _, exists := tx.Get(vtsstore.RegionFirmwareRequests, keyP(customer)); !exists {
			result = vts.NewError(vts.ErrNotFound, "no outstanding firmware request for customer")
			return nil
		}
		vehicle := vts.NewVehicle(publicKey, customer, arch, firmware)
		if _, exists := tx.Get(vtsstore.RegionVehicles, keyP(vehicle.Identity)); exists {
			result = vts.NewError(vts.ErrAlreadyExists, "vehicle already registered for this public key")
			return nil
		}
		user, ok, err := loadUser(tx, customer)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "customer is not a registered user")
			return nil
		}
		if err := tx.Delete(vtsstore.RegionFirmwareRequests, keyP(customer)); err != nil {
			return err
		}
		if err := putVehicle(tx, vehicle); err != nil {
			return err
		}
		user.Vehicles[vehicle.Identity] = struct{}{}
		return putUser(tx, user)
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}
