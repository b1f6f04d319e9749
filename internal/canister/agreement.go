package canister

import (
	"github.com/shopspring/decimal"

	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// CreateAgreement requires caller (the provider) and vhCustomer to both be
// registered users, validates gasPrice as a decimal, and inserts the new
// agreement id into both users' agreement sets. Guard: is_user(caller).
func (s *State) CreateAgreement(caller vts.Principal, name string, vhCustomer vts.Principal, gasPrice string) (vts.U128, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return vts.U128{}, err
	}
	if _, err := decimal.NewFromString(gasPrice); err != nil {
		return vts.U128{}, vts.NewError(vts.ErrInvalidData, "gas_price is not a valid decimal: %v", err)
	}
	var id vts.U128
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		provider, ok, err := loadUser(tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "provider is not a registered user")
			return nil
		}
		customer, ok, err := loadUser(tx, vhCustomer)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "customer is not a registered user")
			return nil
		}
		id = nextID(tx, vtsstore.CounterAgreement)
		agreement := vts.NewAgreement(id, name, caller, vhCustomer, vts.AgreementConditions{GasPrice: gasPrice})
		if err := putAgreement(tx, agreement); err != nil {
			return err
		}
		provider.Agreements[id] = struct{}{}
		if err := putUser(tx, provider); err != nil {
			return err
		}
		if caller == vhCustomer {
			// provider == customer: the same user record already updated above.
			customer = provider
		}
		customer.Agreements[id] = struct{}{}
		return putUser(tx, customer)
	})
	if err != nil {
		return vts.U128{}, internalErr(err)
	}
	if result != nil {
		return vts.U128{}, result
	}
	return id, nil
}

// SignAgreement transitions an agreement from Unsigned to Signed. Only
// vh_customer may sign; Signed is terminal. Guard: is_user(caller).
func (s *State) SignAgreement(caller vts.Principal, id vts.U128) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		a, ok, err := loadAgreement(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "agreement not found")
			return nil
		}
		if a.VhCustomer != caller {
			result = vts.NewError(vts.ErrInvalidSigner, "only the customer may sign")
			return nil
		}
		if a.State == vts.AgreementSigned {
			result = vts.NewError(vts.ErrAlreadyExists, "agreement already signed")
			return nil
		}
		a.State = vts.AgreementSigned
		return putAgreement(tx, a)
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// LinkVehicle links vehicleID into agreementID as a single transaction across
// the agreement, the vehicle and the provider's user record: either all
// three sides observe the change, or (on any failure) none do. Guard:
// is_user(caller).
func (s *State) LinkVehicle(caller vts.Principal, agreementID vts.U128, vehicleID vts.Principal) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		agreement, ok, err := loadAgreement(tx, agreementID)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "agreement not found")
			return nil
		}
		if agreement.VhCustomer != caller {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is not the agreement's customer")
			return nil
		}
		if _, exists := agreement.Vehicles[vehicleID]; exists {
			result = vts.NewError(vts.ErrAlreadyExists, "vehicle already linked to this agreement")
			return nil
		}

		vehicle, ok, err := loadVehicle(tx, vehicleID)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "vehicle not found")
			return nil
		}
		if vehicle.Customer != caller {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is not the vehicle's customer")
			return nil
		}
		if vehicle.Agreement != nil {
			result = vts.NewError(vts.ErrAlreadyExists, "vehicle is already linked to an agreement")
			return nil
		}

		provider, ok, err := loadUser(tx, agreement.VhProvider)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "agreement's provider is not a registered user")
			return nil
		}

		agreement.Vehicles[vehicleID] = struct{}{}
		id := agreementID
		vehicle.Agreement = &id
		vehicle.Provider = agreement.VhProvider
		provider.Vehicles[vehicleID] = struct{}{}

		if err := putAgreement(tx, agreement); err != nil {
			return err
		}
		if err := putVehicle(tx, vehicle); err != nil {
			return err
		}
		return putUser(tx, provider)
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// GetUserAgreements returns every agreement the caller is a party to (as
// provider or customer). Guard: is_user(caller).
func (s *State) GetUserAgreements(caller vts.Principal) ([]*vts.Agreement, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out []*vts.Agreement
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		user, ok, err := loadUser(tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "user not found")
			return nil
		}
		for id := range user.Agreements {
			a, ok, err := loadAgreement(tx, id)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}
