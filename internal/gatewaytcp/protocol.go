// Package gatewaytcp implements the external, firmware-facing wire protocol:
// newline-delimited frames over a persistent TCP connection. The only
// request variant is StoreTelemetry; the response is a single-byte tagged
// enum, {TurnOff, TurnOn}.
package gatewaytcp

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RequestTag discriminates request frame variants. StoreTelemetry is
// currently the only one defined; the tag byte exists so a second variant
// can be added without breaking the framing.
type RequestTag uint8

const RequestStoreTelemetry RequestTag = 0

// ResponseTag is the gateway's one-byte reply.
type ResponseTag uint8

const (
	ResponseTurnOff ResponseTag = 0
	ResponseTurnOn  ResponseTag = 1
)

// frameTerminator is the line terminator the protocol frames on.
const frameTerminator = '\n'

// StoreTelemetryRequest is the sole request variant's payload.
type StoreTelemetryRequest struct {
	VehicleID          [29]byte
	Payload, Signature []byte
}

// EncodeRequest serialises a StoreTelemetry request as one newline-delimited
// frame. The frame body is base64-encoded so that arbitrary signature and
// payload bytes — which may themselves contain 0x0A — never corrupt the
// line framing; the body is a tag byte, the vehicle id, then the payload and
// the signature, each with a 4-byte big-endian length prefix.
func EncodeRequest(req StoreTelemetryRequest) []byte {
	var body []byte
	body = append(body, byte(RequestStoreTelemetry))
	body = append(body, req.VehicleID[:]...)
	body = appendLenPrefixed(body, req.Payload)
	body = appendLenPrefixed(body, req.Signature)

	encoded := base64.RawStdEncoding.EncodeToString(body)
	out := make([]byte, 0, len(encoded)+1)
	out = append(out, encoded...)
	out = append(out, frameTerminator)
	return out
}

// DecodeRequest parses one line (without its trailing terminator) back into
// a StoreTelemetryRequest.
func DecodeRequest(line []byte) (StoreTelemetryRequest, error) {
	var req StoreTelemetryRequest
	body, err := base64.RawStdEncoding.DecodeString(string(line))
	if err != nil {
		return req, fmt.Errorf("gatewaytcp: bad base64 frame: %w", err)
	}
	if len(body) < 1+29 {
		return req, errors.New("gatewaytcp: frame too short for tag and vehicle id")
	}
	if RequestTag(body[0]) != RequestStoreTelemetry {
		return req, fmt.Errorf("gatewaytcp: unknown request tag %d", body[0])
	}
	copy(req.VehicleID[:], body[1:30])
	rest := body[30:]

	payload, rest, err := readLenPrefixed(rest)
	if err != nil {
		return req, err
	}
	sig, rest, err := readLenPrefixed(rest)
	if err != nil {
		return req, err
	}
	if len(rest) != 0 {
		return req, errors.New("gatewaytcp: trailing bytes after signature")
	}
	req.Payload, req.Signature = payload, sig
	return req, nil
}

// EncodeResponse writes resp as a single byte; no terminator is needed since
// the reader knows to expect exactly one byte per request.
func EncodeResponse(resp ResponseTag) []byte { return []byte{byte(resp)} }

func appendLenPrefixed(dst, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, field...)
}

func readLenPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errors.New("gatewaytcp: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, errors.New("gatewaytcp: length prefix exceeds remaining frame")
	}
	return b[:n], b[n:], nil
}

// newFrameScanner wraps r in a bufio.Scanner splitting on frameTerminator,
// with a generous max token size: base64-encoded telemetry frames are small,
// but firmware payloads are arbitrary length in principle.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	scanner.Split(bufio.ScanLines)
	return scanner
}
