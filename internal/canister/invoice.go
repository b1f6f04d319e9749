package canister

import (
	"context"

	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// GetInvoice returns the invoice record. Guard: is_user(caller), tightened
// from the source (which let any user read any invoice) to require the
// caller be the invoice's vehicle's customer or provider.
func (s *State) GetInvoice(caller vts.Principal, id vts.U128) (*vts.Invoice, error) {
	if err := s.Guard.IsUser(caller); err != nil {
		return nil, err
	}
	var out *vts.Invoice
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		inv, ok, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "invoice not found")
			return nil
		}
		vehicle, ok, err := loadVehicle(tx, inv.Vehicle)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "invoice's vehicle not found")
			return nil
		}
		if caller != vehicle.Customer && caller != vehicle.Provider {
			result = vts.NewError(vts.ErrInvalidSigner, "caller is neither the vehicle's customer nor provider")
			return nil
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, result
}

// PayForInvoice is the system's only async, externally-calling operation: it
// issues a transfer-from call to the external ledger. Because the handler
// suspends across that call, other handlers may interleave and observe
// state this call read before suspension; per the design's concurrency
// model, the invoice is re-read after the ledger call and before the status
// flip, so a concurrent payer reaching Paid first makes this call's own
// result spurious but still reports success (idempotence). Guard:
// is_user(caller).
func (s *State) PayForInvoice(ctx context.Context, caller vts.Principal, id vts.U128) error {
	if err := s.Guard.IsUser(caller); err != nil {
		return err
	}

	var invoice *vts.Invoice
	var vehicle *vts.Vehicle
	var result error
	err := s.store.View(func(tx *vtsstore.Tx) error {
		inv, ok, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "invoice not found")
			return nil
		}
		if inv.Status == vts.InvoicePaid {
			invoice = inv
			return nil
		}
		veh, ok, err := loadVehicle(tx, inv.Vehicle)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "invoice's vehicle not found")
			return nil
		}
		if veh.Provider == (vts.Principal{}) {
			result = vts.NewError(vts.ErrNotFound, "invoice's vehicle has no provider")
			return nil
		}
		invoice, vehicle = inv, veh
		return nil
	})
	if err != nil {
		return internalErr(err)
	}
	if result != nil {
		return result
	}
	if invoice.Status == vts.InvoicePaid {
		return nil // already paid: idempotent no-op
	}

	// Suspension point: the only outbound call in the whole system.
	if err := s.Ledger.TransferFrom(ctx, caller, vehicle.Provider, invoice.TotalCost); err != nil {
		return vts.NewError(vts.ErrInternal, "ledger transfer failed: %v", err)
	}

	// Re-read and re-check after the suspension: a concurrent payer may have
	// already moved this invoice to Paid while the transfer was in flight.
	err = s.store.Update(func(tx *vtsstore.Tx) error {
		inv, ok, err := loadInvoice(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "invoice not found")
			return nil
		}
		if inv.Status == vts.InvoicePaid {
			return nil // spurious: another caller already settled it
		}
		inv.Status = vts.InvoicePaid
		if err := putInvoice(tx, inv); err != nil {
			return err
		}
		return tx.Put(vtsstore.RegionPaidInvoices, keyID(id), []byte{1})
	})
	if err != nil {
		return internalErr(err)
	}
	return result
}

// InvoiceNotification is the joined view the notifier consumes: enough to
// reach the customer without making it query the canister again.
type InvoiceNotification struct {
	ID            vts.U128
	CustomerEmail string
	Vehicle       vts.Principal
}

// GetPendingInvoices returns the pending-invoice queue, joined through
// invoice -> vehicle -> customer -> email. Guard: is_gateway(caller).
func (s *State) GetPendingInvoices(caller vts.Principal) ([]InvoiceNotification, error) {
	return s.listInvoiceQueue(caller, vtsstore.RegionPendingInvoices)
}

// GetPaidInvoices returns the paid-invoice queue in the same joined shape.
// Guard: is_gateway(caller).
func (s *State) GetPaidInvoices(caller vts.Principal) ([]InvoiceNotification, error) {
	return s.listInvoiceQueue(caller, vtsstore.RegionPaidInvoices)
}

func (s *State) listInvoiceQueue(caller vts.Principal, region []byte) ([]InvoiceNotification, error) {
	if err := s.Guard.IsGateway(caller); err != nil {
		return nil, err
	}
	var out []InvoiceNotification
	err := s.store.View(func(tx *vtsstore.Tx) error {
		it := tx.Iterate(region)
		for it.Next() {
			var id vts.U128
			copy(id[:], it.Key())
			inv, ok, err := loadInvoice(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			vehicle, ok, err := loadVehicle(tx, inv.Vehicle)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			customer, ok, err := loadUser(tx, vehicle.Customer)
			if err != nil {
				return err
			}
			email := ""
			if ok && customer.Email != nil {
				email = *customer.Email
			}
			out = append(out, InvoiceNotification{ID: id, CustomerEmail: email, Vehicle: inv.Vehicle})
		}
		return it.Error()
	})
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// DeletePendingInvoices removes ids from the pending queue; missing ids are
// silently ignored. Guard: is_gateway(caller).
func (s *State) DeletePendingInvoices(caller vts.Principal, ids []vts.U128) error {
	return s.deleteFromQueue(caller, vtsstore.RegionPendingInvoices, ids)
}

// DeletePaidInvoices removes ids from the paid queue; missing ids are
// silently ignored. Guard: is_gateway(caller).
func (s *State) DeletePaidInvoices(caller vts.Principal, ids []vts.U128) error {
	return s.deleteFromQueue(caller, vtsstore.RegionPaidInvoices, ids)
}

func (s *State) deleteFromQueue(caller vts.Principal, region []byte, ids []vts.U128) error {
	if err := s.Guard.IsGateway(caller); err != nil {
		return err
	}
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		for _, id := range ids {
			if err := tx.Delete(region, keyID(id)); err != nil {
				return err
			}
		}
		return nil
	})
	return internalErr(err)
}
