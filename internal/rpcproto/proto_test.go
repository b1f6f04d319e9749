package rpcproto

import (
	"bytes"
	"testing"

	"github.com/vtscanister/vts/internal/vts"
)

func TestFrameRoundTrip(t *testing.T) {
	req := Request{Op: OpGetUser, Args: []byte("hello world")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Op != req.Op || !bytes.Equal(got.Args, req.Args) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	var req Request
	if err := ReadFrame(&buf, &req); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}

func TestEncodeDecodeArgsRoundTrip(t *testing.T) {
	args := StoreTelemetryArgs{
		VehicleID: vts.Principal{1, 2, 3},
		Payload:   []byte{9, 9, 9},
		Signature: []byte{4, 4, 4},
	}
	blob, err := Encode(args)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got StoreTelemetryArgs
	if err := Decode(blob, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.VehicleID != args.VehicleID || !bytes.Equal(got.Payload, args.Payload) || !bytes.Equal(got.Signature, args.Signature) {
		t.Fatalf("decoded args mismatch: got %+v, want %+v", got, args)
	}
}
