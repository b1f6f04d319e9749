package canister

import (
	"testing"
	"time"

	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscodec"
	"github.com/vtscanister/vts/internal/vtscrypto"
)

func TestStoreTelemetryHappyPath(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	s, _ := newTestState(t, now)
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	customer := principalFor(t, "customer")
	mustRegisterUser(t, s, admin, customer)

	priv, der := newVehicleKeyPair(t)
	gateway := principalFor(t, "gateway")
	s.Guard.AllowGateway(gateway)
	if err := s.RequestFirmware(customer); err != nil {
		t.Fatalf("RequestFirmware: %v", err)
	}
	if err := s.UploadFirmware(gateway, customer, der, "arm64", []byte("fw")); err != nil {
		t.Fatalf("UploadFirmware: %v", err)
	}
	vehicleID := vts.SelfAuthenticatingPrincipal(der)

	payload, err := vtscodec.EncodeTelemetry(vtscodec.TelemetryPayload{Value: u128BytesOf(88), TType: uint8(vts.TelemetryGas)})
	if err != nil {
		t.Fatalf("EncodeTelemetry: %v", err)
	}
	sig, err := vtscrypto.Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	resp, err := s.StoreTelemetry(vehicleID, payload, sig)
	if err != nil {
		t.Fatalf("StoreTelemetry: %v", err)
	}
	if resp != TurnOff {
		t.Fatalf("expected TurnOff for a vehicle with on_off=false, got %v", resp)
	}

	if err := s.AccumulateTelemetryData(s.Self); err != nil {
		t.Fatalf("AccumulateTelemetryData: %v", err)
	}
	accum, err := s.GetAggregatedData(customer, vehicleID)
	if err != nil {
		t.Fatalf("GetAggregatedData: %v", err)
	}
	got := accum[vts.TelemetryGas][2024].Value
	if got.String() != "88" {
		t.Fatalf("accumulated value = %s, want 88", got)
	}
}

func TestStoreTelemetryBadSignatureLeavesTreeUnchanged(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	s, _ := newTestState(t, now)
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	customer := principalFor(t, "customer")
	mustRegisterUser(t, s, admin, customer)

	priv, der := newVehicleKeyPair(t)
	gateway := principalFor(t, "gateway")
	s.Guard.AllowGateway(gateway)
	_ = s.RequestFirmware(customer)
	_ = s.UploadFirmware(gateway, customer, der, "arm64", []byte("fw"))
	vehicleID := vts.SelfAuthenticatingPrincipal(der)

	payload, _ := vtscodec.EncodeTelemetry(vtscodec.TelemetryPayload{Value: u128BytesOf(10), TType: uint8(vts.TelemetryGas)})
	sig, err := vtscrypto.Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[0] ^= 0xFF

	_, err = s.StoreTelemetry(vehicleID, payload, sig)
	wantKind(t, err, vts.ErrInvalidSignature)

	vehicle, err := s.GetVehicle(customer, vehicleID)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if len(vehicle.Telemetry) != 0 {
		t.Fatalf("expected raw tree unchanged, got %+v", vehicle.Telemetry)
	}
}

func TestStoreTelemetryUnknownVehicle(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	unknown := principalFor(t, "ghost-vehicle")
	_, err := s.StoreTelemetry(unknown, []byte{1, 2, 3}, make([]byte, vtscrypto.SignatureLen))
	wantKind(t, err, vts.ErrNotFound)
}

func u128BytesOf(n uint64) vtscodec.U128Bytes {
	var u vtscodec.U128Bytes
	for i := 0; i < 8; i++ {
		u[15-i] = byte(n >> (8 * i))
	}
	return u
}
