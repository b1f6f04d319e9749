package canister

import (
	"testing"
	"time"
)

func TestBootstrapFirstAdminNeedsNoAuthorisation(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin-1")
	if err := s.AddAdmin(admin, admin); err != nil {
		t.Fatalf("bootstrap AddAdmin: %v", err)
	}
	ok, err := s.HasAdmin(admin)
	if err != nil || !ok {
		t.Fatalf("expected admin to be registered, ok=%v err=%v", ok, err)
	}
}

func TestSecondAdminRequiresExistingAdmin(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin-1")
	outsider := principalFor(t, "outsider")
	bootstrapAdmin(t, s, admin)

	other := principalFor(t, "admin-2")
	err := s.AddAdmin(outsider, other)
	wantKind(t, err, "Unauthorized")
	if err := s.AddAdmin(admin, other); err != nil {
		t.Fatalf("AddAdmin by existing admin: %v", err)
	}
}

func TestAdminCannotDeleteItself(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin-1")
	bootstrapAdmin(t, s, admin)
	err := s.DeleteAdmin(admin, admin)
	wantKind(t, err, "InvalidSigner")
}

func TestRegisterUserDuplicateFails(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin-1")
	bootstrapAdmin(t, s, admin)
	user := principalFor(t, "user-1")
	mustRegisterUser(t, s, admin, user)
	err := s.RegisterUser(admin, user, nil)
	wantKind(t, err, "AlreadyExists")
}

func TestGetUserRequiresUserRole(t *testing.T) {
	s, _ := newTestState(t, time.Now())
	admin := principalFor(t, "admin-1")
	bootstrapAdmin(t, s, admin)
	_, err := s.GetUser(admin)
	wantKind(t, err, "Unauthorized")

	user := principalFor(t, "user-1")
	mustRegisterUser(t, s, admin, user)
	got, err := s.GetUser(user)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Principal != user {
		t.Fatalf("got %v, want %v", got.Principal, user)
	}
}
