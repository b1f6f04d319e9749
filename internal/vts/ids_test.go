package vts

import "testing"

func TestU128RoundTripAndNext(t *testing.T) {
	u := U128FromUint64(41)
	if u.String() != "41" {
		t.Fatalf("got %s, want 41", u)
	}
	n := u.Next()
	if n.String() != "42" {
		t.Fatalf("got %s, want 42", n)
	}
	if u.Cmp(n) >= 0 {
		t.Fatalf("expected u < n")
	}
}

func TestU128FromBigIntRejectsOverflowAndNegative(t *testing.T) {
	big128 := U128FromUint64(1).Big()
	big128.Lsh(big128, 128)
	if _, err := U128FromBigInt(big128); err == nil {
		t.Fatal("expected overflow error")
	}
	neg := U128FromUint64(1).Big()
	neg.Neg(neg)
	if _, err := U128FromBigInt(neg); err == nil {
		t.Fatal("expected negative error")
	}
}

func TestSelfAuthenticatingPrincipal(t *testing.T) {
	der := []byte("a fake DER-encoded public key")
	p1 := SelfAuthenticatingPrincipal(der)
	p2 := SelfAuthenticatingPrincipal(der)
	if p1 != p2 {
		t.Fatal("derivation must be deterministic")
	}
	if !p1.IsSelfAuthenticating() {
		t.Fatal("expected self-authenticating tag")
	}
	other := SelfAuthenticatingPrincipal([]byte("different key"))
	if other == p1 {
		t.Fatal("different keys must yield different principals")
	}
}

func TestParsePrincipalRoundTrip(t *testing.T) {
	der := []byte("another key")
	p := SelfAuthenticatingPrincipal(der)
	parsed, err := ParsePrincipal(p.String())
	if err != nil {
		t.Fatalf("ParsePrincipal: %v", err)
	}
	if parsed != p {
		t.Fatalf("got %s, want %s", parsed, p)
	}
}
