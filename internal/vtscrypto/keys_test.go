package vtscrypto

import (
	"path/filepath"
	"testing"
)

func TestDERPublicKeyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		t.Fatalf("EncodeDERPublicKey: %v", err)
	}
	pub, err := DecodeDERPublicKey(der)
	if err != nil {
		t.Fatalf("DecodeDERPublicKey: %v", err)
	}
	if !pub.IsEqual(priv.PubKey()) {
		t.Fatal("decoded public key does not match original")
	}
}

func TestDecodeDERPublicKeyRejectsGarbage(t *testing.T) {
	if _, err := DecodeDERPublicKey([]byte("not der at all")); err == nil {
		t.Fatal("expected error decoding garbage DER")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("payload bytes covered by the signature")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureLen {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLen)
	}
	ok, err := Verify(priv.PubKey(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	priv, _ := GenerateKey()
	msg := []byte("payload")
	sig, _ := Sign(priv, msg)
	sig[0] ^= 0xFF
	ok, err := Verify(priv.PubKey(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestDecodeSignatureRejectsWrongLength(t *testing.T) {
	if _, _, err := DecodeSignature([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func TestLoadOrCreateKeyFileCreatesThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	first, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyFile (create): %v", err)
	}
	second, err := LoadOrCreateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyFile (load): %v", err)
	}
	if !first.PubKey().IsEqual(second.PubKey()) {
		t.Fatal("reloaded key does not match originally generated key")
	}
}
