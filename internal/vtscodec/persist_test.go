package vtscodec

import "testing"

type sampleRecord struct {
	Name  string
	Value int
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleRecord{Name: "vehicle", Value: 42}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out sampleRecord
	if err := Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestDecodeRejectsUnreadableBytes(t *testing.T) {
	var out sampleRecord
	if err := Decode([]byte("not a gob stream"), &out); err == nil {
		t.Fatal("expected decode error for garbage bytes")
	}
}
