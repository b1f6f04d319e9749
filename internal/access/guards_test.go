package access

import (
	"testing"

	"github.com/vtscanister/vts/internal/vts"
)

type fakeSource struct {
	admins map[vts.Principal]struct{}
	users  map[vts.Principal]struct{}
}

func (f *fakeSource) HasAdmin(p vts.Principal) (bool, error) { _, ok := f.admins[p]; return ok, nil }
func (f *fakeSource) HasUser(p vts.Principal) (bool, error)  { _, ok := f.users[p]; return ok, nil }

func newFixture() (admin, user, gateway, self vts.Principal, g *Guard) {
	admin = vts.SelfAuthenticatingPrincipal([]byte("admin"))
	user = vts.SelfAuthenticatingPrincipal([]byte("user"))
	gateway = vts.SelfAuthenticatingPrincipal([]byte("gateway"))
	self = vts.SelfAuthenticatingPrincipal([]byte("canister"))
	src := &fakeSource{
		admins: map[vts.Principal]struct{}{admin: {}},
		users:  map[vts.Principal]struct{}{user: {}},
	}
	g = NewGuard(src, self)
	g.AllowGateway(gateway)
	return
}

func TestIsAdmin(t *testing.T) {
	admin, user, _, _, g := newFixture()
	if err := g.IsAdmin(admin); err != nil {
		t.Fatalf("expected admin to pass: %v", err)
	}
	if err := g.IsAdmin(user); vts.KindOf(err) != vts.ErrUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestIsUser(t *testing.T) {
	_, user, gateway, _, g := newFixture()
	if err := g.IsUser(user); err != nil {
		t.Fatalf("expected user to pass: %v", err)
	}
	if err := g.IsUser(gateway); vts.KindOf(err) != vts.ErrUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestIsGatewayClosedAllowList(t *testing.T) {
	_, user, gateway, _, g := newFixture()
	if err := g.IsGateway(gateway); err != nil {
		t.Fatalf("expected allow-listed gateway to pass: %v", err)
	}
	if err := g.IsGateway(user); vts.KindOf(err) != vts.ErrUnauthorized {
		t.Fatalf("expected Unauthorized for non-allow-listed caller, got %v", err)
	}
}

func TestIsCanisterOnlySelf(t *testing.T) {
	admin, _, _, self, g := newFixture()
	if err := g.IsCanister(self); err != nil {
		t.Fatalf("expected self to pass: %v", err)
	}
	if err := g.IsCanister(admin); vts.KindOf(err) != vts.ErrUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}
