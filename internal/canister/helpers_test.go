package canister

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/vtscanister/vts/internal/ledgerclient"
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscrypto"
)

// fakeClock lets tests pin "now" to exercise billing's day-of-month branch.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestState(t *testing.T, now time.Time) (*State, *ledgerclient.Mock) {
	t.Helper()
	self := vts.SelfAuthenticatingPrincipal([]byte("canister-self"))
	ledger := ledgerclient.NewMock()
	s, err := New(filepath.Join(t.TempDir(), "vts.db"), self, ledger, &fakeClock{now: now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, ledger
}

func principalFor(t *testing.T, seed string) vts.Principal {
	t.Helper()
	return vts.SelfAuthenticatingPrincipal([]byte(seed))
}

// bootstrapAdmin registers the first admin (empty-set bootstrap rule).
func bootstrapAdmin(t *testing.T, s *State, admin vts.Principal) {
	t.Helper()
	if err := s.AddAdmin(admin, admin); err != nil {
		t.Fatalf("bootstrap AddAdmin: %v", err)
	}
}

func mustRegisterUser(t *testing.T, s *State, admin, user vts.Principal) {
	t.Helper()
	if err := s.RegisterUser(admin, user, nil); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
}

// newVehicleKeyPair returns a fresh secp256k1 keypair plus its DER encoding,
// the form vehicles persist and firmware signs with.
func newVehicleKeyPair(t *testing.T) (*secp256k1.PrivateKey, []byte) {
	t.Helper()
	priv, err := vtscrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := vtscrypto.EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		t.Fatalf("EncodeDERPublicKey: %v", err)
	}
	return priv, der
}

// derPubKeyFor returns a fresh DER-encoded public key; seed only documents
// intent in call sites that don't need the matching private key.
func derPubKeyFor(t *testing.T, seed string) []byte {
	t.Helper()
	_, der := newVehicleKeyPair(t)
	return der
}

func wantKind(t *testing.T, err error, kind vts.ErrorKind) {
	t.Helper()
	if vts.KindOf(err) != kind {
		t.Fatalf("got error kind %q (%v), want %q", vts.KindOf(err), err, kind)
	}
}
