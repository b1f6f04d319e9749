// Package vtscodec implements the two codecs the canister relies on: a
// generic persistence codec for stored records, and a deterministic wire
// codec for the signed telemetry payload.
package vtscodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Storable is implemented by every record kept in the persistent KV store.
// Unlike the candid-style codec this system is modelled on, the schema is
// not length-prefixed by hand: encoding/gob already frames each value and
// tolerates the "old bytes readable by new code" requirement because it
// decodes by field name and silently drops fields the target struct lacks
// (and leaves newly-added fields at their zero value when reading old
// bytes). No third-party library in the reference set offers a schemaless
// generic-struct codec with that additive-evolution property without
// requiring .proto/.capnp code generation, so this layer is stdlib; the
// telemetry wire codec (wire.go) uses a third-party encoder, RLP.
type Storable interface {
	MarshalRecord() ([]byte, error)
	UnmarshalRecord([]byte) error
}

// Encode serialises v for storage. Fail-fast is the caller's job: Encode
// itself only fails if v contains a type gob cannot represent, which would
// be a programming error, not a data error.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("vtscodec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserialises bytes produced by Encode into v, which must be a
// pointer. Decode failures mean the stored bytes are unreadable — the
// canister is corrupt — and the caller should treat that as an Internal
// error, never attempt a partial recovery.
func Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("vtscodec: decode: %w", err)
	}
	return nil
}
