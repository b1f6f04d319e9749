package canister

import (
	"testing"
	"time"

	"github.com/vtscanister/vts/internal/vts"
)

func setupProviderCustomer(t *testing.T, s *State, admin vts.Principal) (provider, customer vts.Principal) {
	t.Helper()
	provider = principalFor(t, "provider")
	customer = principalFor(t, "customer")
	mustRegisterUser(t, s, admin, provider)
	mustRegisterUser(t, s, admin, customer)
	return
}

func TestSignTwiceFails(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	provider, customer := setupProviderCustomer(t, s, admin)

	id, err := s.CreateAgreement(provider, "fleet-a", customer, "1.35")
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	if err := s.SignAgreement(customer, id); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	err = s.SignAgreement(customer, id)
	wantKind(t, err, vts.ErrAlreadyExists)
}

func TestWrongSignerCannotSign(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	provider, customer := setupProviderCustomer(t, s, admin)

	id, err := s.CreateAgreement(provider, "fleet-b", customer, "2.00")
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}
	err = s.SignAgreement(provider, id)
	wantKind(t, err, vts.ErrInvalidSigner)

	agreements, err := s.GetUserAgreements(customer)
	if err != nil {
		t.Fatalf("GetUserAgreements: %v", err)
	}
	if len(agreements) != 1 || agreements[0].State != vts.AgreementUnsigned {
		t.Fatalf("expected agreement to remain Unsigned, got %+v", agreements)
	}
}

func TestCreateAgreementRejectsBadDecimal(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	provider, customer := setupProviderCustomer(t, s, admin)

	_, err := s.CreateAgreement(provider, "fleet-c", customer, "not-a-number")
	wantKind(t, err, vts.ErrInvalidData)
}

func TestLinkVehicleTwiceFails(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin")
	bootstrapAdmin(t, s, admin)
	provider, customer := setupProviderCustomer(t, s, admin)

	id, err := s.CreateAgreement(provider, "fleet-d", customer, "1.00")
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}

	vehicleID := uploadVehicleFor(t, s, admin, customer, "veh-1")

	if err := s.LinkVehicle(customer, id, vehicleID); err != nil {
		t.Fatalf("LinkVehicle: %v", err)
	}
	err = s.LinkVehicle(customer, id, vehicleID)
	wantKind(t, err, vts.ErrAlreadyExists)

	vehicle, err := s.GetVehicle(customer, vehicleID)
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	if vehicle.Provider != provider {
		t.Fatalf("got provider %v, want %v", vehicle.Provider, provider)
	}
}

// uploadVehicleFor drives RequestFirmware + UploadFirmware to create a
// vehicle owned by customer, returning its identity.
func uploadVehicleFor(t *testing.T, s *State, admin, customer vts.Principal, seed string) vts.Principal {
	t.Helper()
	gateway := principalFor(t, "gateway")
	s.Guard.AllowGateway(gateway)
	if err := s.RequestFirmware(customer); err != nil {
		t.Fatalf("RequestFirmware: %v", err)
	}
	pub := derPubKeyFor(t, seed)
	if err := s.UploadFirmware(gateway, customer, pub, "arm64", []byte("firmware-bytes")); err != nil {
		t.Fatalf("UploadFirmware: %v", err)
	}
	return vts.SelfAuthenticatingPrincipal(pub)
}
