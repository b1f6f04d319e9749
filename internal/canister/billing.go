package canister

import (
	"github.com/shopspring/decimal"

	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// AccumulateTelemetryData folds every vehicle's raw per-day samples into its
// hierarchical accumulated tree, then — if the canister's current day is the
// first of the month — materialises invoices for the month just closed.
// Fold and bill run inside the same call so billing always sees the fully
// folded snapshot. Guard: is_canister(caller) (the recurring timer and the
// manual trigger both call through this one entry point).
func (s *State) AccumulateTelemetryData(caller vts.Principal) error {
	if err := s.Guard.IsCanister(caller); err != nil {
		return err
	}
	now := s.Clock.Now()
	bill := now.Day() == 1
	prevYear, prevMonth := previousMonth(int32(now.Year()), uint8(now.Month()))

	err := s.store.Update(func(tx *vtsstore.Tx) error {
		it := tx.Iterate(vtsstore.RegionVehicles)
		var ids [][]byte
		for it.Next() {
			id := append([]byte(nil), it.Key()...)
			ids = append(ids, id)
		}
		if err := it.Error(); err != nil {
			return err
		}
		for _, rawID := range ids {
			var id vts.Principal
			copy(id[:], rawID)
			vehicle, ok, err := loadVehicle(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue // deleted between listing and loading; nothing to fold
			}
			foldVehicle(vehicle)
			if err := putVehicle(tx, vehicle); err != nil {
				return err
			}
			if bill {
				if err := billVehicle(tx, vehicle, prevYear, prevMonth); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return internalErr(err)
}

// previousMonth computes the calendar month preceding (year, month), rolling
// December of year-1 when month is January.
func previousMonth(year int32, month uint8) (int32, uint8) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// foldVehicle folds every raw sample into the accumulated tree and prunes the
// now-empty raw buckets, bounding memory instead of leaving empty
// intermediate containers behind.
func foldVehicle(v *vts.Vehicle) {
	if v.Telemetry == nil {
		return
	}
	if v.AccumulatedTelemetry == nil {
		v.AccumulatedTelemetry = make(vts.AccumTree)
	}
	for tt, years := range v.Telemetry {
		for year, months := range years {
			for month, days := range months {
				for day, samples := range days {
					for _, sample := range samples {
						v.AccumulatedTelemetry.AddDay(tt, year, month, day, sample)
					}
				}
				delete(months, month)
			}
			if len(months) == 0 {
				delete(years, year)
			}
		}
		if len(years) == 0 {
			delete(v.Telemetry, tt)
		}
	}
}

// billVehicle creates the invoice for (vehicle, prevYear, prevMonth) unless
// one already exists, or the vehicle has no agreement — which this
// redesign treats as "nothing to bill" rather than aborting the whole
// accumulation run over a single malformed vehicle.
func billVehicle(tx *vtsstore.Tx, vehicle *vts.Vehicle, prevYear int32, prevMonth uint8) error {
	for _, invID := range vehicle.Invoices {
		inv, ok, err := loadInvoice(tx, invID)
		if err != nil {
			return err
		}
		if ok && inv.Period.Year == prevYear && inv.Period.Month == prevMonth {
			return nil // already billed this vehicle-month
		}
	}
	if vehicle.Agreement == nil {
		return nil
	}
	agreement, ok, err := loadAgreement(tx, *vehicle.Agreement)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	gasPrice, err := decimal.NewFromString(agreement.Conditions.GasPrice)
	if err != nil {
		return vts.NewError(vts.ErrInvalidData, "agreement gas_price is not a valid decimal: %v", err)
	}

	// Restrict the bill to the month just closed, not every year present in
	// the snapshot (the source sums across all years, which over-bills).
	var usage vts.U128
	if years, ok := vehicle.AccumulatedTelemetry[vts.TelemetryGas]; ok {
		if ya, ok := years[prevYear]; ok {
			if ma, ok := ya.Monthly[prevMonth]; ok {
				usage = ma.Value
			}
		}
	}

	total := decimal.NewFromBigInt(usage.Big(), 0).Mul(gasPrice).Round(0)
	totalU128, err := vts.U128FromBigInt(total.BigInt())
	if err != nil {
		return vts.NewError(vts.ErrInternal, "invoice total does not fit in u128: %v", err)
	}

	id := nextID(tx, vtsstore.CounterInvoice)
	invoice := &vts.Invoice{
		ID:        id,
		Status:    vts.InvoiceUnpaid,
		Vehicle:   vehicle.Identity,
		Agreement: agreement.ID,
		Period:    vts.Period{Year: prevYear, Month: prevMonth},
		TotalCost: totalU128,
	}
	if err := putInvoice(tx, invoice); err != nil {
		return err
	}
	vehicle.Invoices = append(vehicle.Invoices, id)
	if err := putVehicle(tx, vehicle); err != nil {
		return err
	}
	return tx.Put(vtsstore.RegionPendingInvoices, keyID(id), []byte{1})
}
