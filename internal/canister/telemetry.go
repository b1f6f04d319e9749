package canister

import (
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscodec"
	"github.com/vtscanister/vts/internal/vtscrypto"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// TelemetryResponse is the on/off instruction StoreTelemetry replies with.
type TelemetryResponse uint8

const (
	TurnOff TelemetryResponse = iota
	TurnOn
)

// StoreTelemetry verifies and ingests one signed telemetry sample. It is
// open to any caller: authentication is cryptographic (the signature), not
// role-based, so no guard runs before the body.
func (s *State) StoreTelemetry(vehicleID vts.Principal, payload, signature []byte) (TelemetryResponse, error) {
	if _, _, err := vtscrypto.DecodeSignature(signature); err != nil {
		return 0, vts.NewError(vts.ErrInvalidSignatureFormat, "%v", err)
	}

	var response TelemetryResponse
	var result error
	err := s.store.Update(func(tx *vtsstore.Tx) error {
		vehicle, ok, err := loadVehicle(tx, vehicleID)
		if err != nil {
			return err
		}
		if !ok {
			result = vts.NewError(vts.ErrNotFound, "vehicle not found")
			return nil
		}

		pub, err := vtscrypto.DecodeDERPublicKey(vehicle.PublicKey)
		if err != nil {
			result = vts.NewError(vts.ErrInternal, "stored public key is unreadable: %v", err)
			return nil
		}

		valid, err := vtscrypto.Verify(pub, payload, signature)
		if err != nil {
			result = vts.NewError(vts.ErrInvalidSignatureFormat, "%v", err)
			return nil
		}
		if !valid {
			result = vts.NewError(vts.ErrInvalidSignature, "signature does not cover payload")
			return nil
		}

		wire, err := vtscodec.DecodeTelemetry(payload)
		if err != nil {
			result = vts.NewError(vts.ErrDecodeTelemetry, "%v", err)
			return nil
		}
		tt := vts.TelemetryType(wire.TType)
		if !tt.Valid() {
			result = vts.NewError(vts.ErrDecodeTelemetry, "unknown telemetry type %d", wire.TType)
			return nil
		}

		now := s.Clock.Now()
		year, month, day := now.Year(), now.Month(), now.Day()
		if vehicle.Telemetry == nil {
			vehicle.Telemetry = make(vts.RawTree)
		}
		vehicle.Telemetry.Insert(tt, int32(year), uint8(month), uint8(day), vts.U128(wire.Value))

		if err := putVehicle(tx, vehicle); err != nil {
			return err
		}
		if vehicle.OnOff {
			response = TurnOn
		} else {
			response = TurnOff
		}
		return nil
	})
	if err != nil {
		return 0, internalErr(err)
	}
	return response, result
}
