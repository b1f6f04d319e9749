package vtscodec

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// TelemetryPayload is the value the wire codec encodes and decodes: the
// sample value plus its type tag. It mirrors vts.TelemetryType without
// importing the vts package, keeping the codec a leaf dependency.
type TelemetryPayload struct {
	Value U128Bytes
	TType uint8
}

// U128Bytes is a 128-bit value as a fixed 16-byte big-endian array. On the
// wire RLP carries it as a minimal integer; decode accepts any value of at
// most 16 bytes.
type U128Bytes [16]byte

func (u U128Bytes) bigInt() *big.Int { return new(big.Int).SetBytes(u[:]) }

// wireForm is the RLP projection of TelemetryPayload. RLP canonicalises
// *big.Int encoding (no leading zero bytes), which combined with a fixed
// field order makes EncodeTelemetry deterministic: the same value always
// produces the same bytes, a prerequisite for the signature covering it.
type wireForm struct {
	Value *big.Int
	TType uint8
}

// EncodeTelemetry deterministically encodes a telemetry sample. It is the
// payload firmware signs and the gateway/canister verify against.
func EncodeTelemetry(p TelemetryPayload) ([]byte, error) {
	return rlp.EncodeToBytes(&wireForm{Value: p.Value.bigInt(), TType: p.TType})
}

// DecodeTelemetry decodes bytes produced by EncodeTelemetry. Any malformed
// input (including a value that would not fit in 128 bits) is reported as an
// error, translated by the canister to the DecodeTelemetry error kind.
func DecodeTelemetry(data []byte) (TelemetryPayload, error) {
	var w wireForm
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return TelemetryPayload{}, err
	}
	if w.Value == nil || w.Value.Sign() < 0 {
		return TelemetryPayload{}, errors.New("vtscodec: telemetry value missing or negative")
	}
	b := w.Value.Bytes()
	if len(b) > 16 {
		return TelemetryPayload{}, errors.New("vtscodec: telemetry value overflows u128")
	}
	var u U128Bytes
	copy(u[16-len(b):], b)
	return TelemetryPayload{Value: u, TType: w.TType}, nil
}
