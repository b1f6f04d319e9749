// Package vtscrypto wraps secp256k1 key handling for the vehicle-telemetry
// system: DER encoding of public keys and the fixed-layout ECDSA signatures
// firmware attaches to telemetry payloads.
package vtscrypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// secp256k1OID is the ASN.1 object identifier for the secp256k1 curve,
// RFC 5480's namedCurve arc, used to tag the SubjectPublicKeyInfo wrapper.
var secp256k1OID = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

// ecPublicKeyOID identifies the id-ecPublicKey algorithm.
var ecPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

// GenerateKey returns a fresh secp256k1 keypair.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// EncodeDERPublicKey wraps the SEC1-encoded (uncompressed) public key in an
// X.509 SubjectPublicKeyInfo structure, which is what vehicles persist and
// what store_telemetry parses back out.
func EncodeDERPublicKey(pub *secp256k1.PublicKey) ([]byte, error) {
	spki := subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: ecPublicKeyOID, Parameters: secp256k1OID},
		PublicKey: asn1.BitString{Bytes: pub.SerializeUncompressed(), BitLength: len(pub.SerializeUncompressed()) * 8},
	}
	return asn1.Marshal(spki)
}

// DecodeDERPublicKey is the inverse of EncodeDERPublicKey. It fails with a
// plain error (callers translate it to the Internal error kind, per the
// store_telemetry contract: a corrupt stored key is the canister's fault, not
// the caller's).
func DecodeDERPublicKey(der []byte) (*secp256k1.PublicKey, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("vtscrypto: trailing bytes after public key DER")
	}
	if !spki.Algorithm.Algorithm.Equal(ecPublicKeyOID) {
		return nil, errors.New("vtscrypto: unexpected public key algorithm")
	}
	return secp256k1.ParsePubKey(spki.PublicKey.Bytes)
}

// SignatureLen is the fixed width of the compact r||s encoding used on the
// wire: firmware never emits DER signatures.
const SignatureLen = 64

// DecodeSignature parses a fixed-layout 64-byte r||s ECDSA signature.
func DecodeSignature(sig []byte) (r, s *big.Int, err error) {
	if len(sig) != SignatureLen {
		return nil, nil, errors.New("vtscrypto: signature must be 64 bytes")
	}
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:])
	return r, s, nil
}

// EncodeSignature is the inverse of DecodeSignature.
func EncodeSignature(r, s *big.Int) []byte {
	out := make([]byte, SignatureLen)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[32-len(rb):32], rb)
	copy(out[64-len(sb):64], sb)
	return out
}

// Sign produces a fixed-layout signature over the sha256 hash of msg.
func Sign(priv *secp256k1.PrivateKey, msg []byte) ([]byte, error) {
	hash := hashMessage(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv.ToECDSA(), hash)
	if err != nil {
		return nil, err
	}
	return EncodeSignature(r, s), nil
}

// Verify reports whether sig is a valid signature by pub over msg.
func Verify(pub *secp256k1.PublicKey, msg, sig []byte) (bool, error) {
	r, s, err := DecodeSignature(sig)
	if err != nil {
		return false, err
	}
	hash := hashMessage(msg)
	return ecdsa.Verify(pub.ToECDSA(), hash, r, s), nil
}

func hashMessage(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// LoadOrCreateKeyFile reads a hex-encoded secp256k1 private key from path,
// generating and persisting a fresh one if the file does not exist. This is
// the process-identity bootstrap for the canister, gateway and firmware
// binaries: a stable keypair across restarts without a TLS/PEM certificate
// store, which is out of scope for this system.
func LoadOrCreateKeyFile(path string) (*secp256k1.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		keyBytes, decErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil {
			return nil, decErr
		}
		return secp256k1.PrivKeyFromBytes(keyBytes), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	priv, genErr := GenerateKey()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, []byte(hex.EncodeToString(priv.Serialize())), 0o600); writeErr != nil {
		return nil, writeErr
	}
	return priv, nil
}
