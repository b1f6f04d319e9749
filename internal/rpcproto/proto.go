// Package rpcproto defines the wire protocol the gateway (and any other
// direct caller) uses to invoke canister operations across the process
// boundary. Frames are length-prefixed gob blobs, the same codec the
// persistence layer uses, chosen for the same reason: a single uniform
// encode/decode path instead of one hand-rolled format per operation.
package rpcproto

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"io"

	"github.com/vtscanister/vts/internal/vts"
)

// Op tags which canister operation a Request carries.
type Op uint8

const (
	OpAddAdmin Op = iota
	OpDeleteAdmin
	OpRegisterUser
	OpDeleteUser
	OpGetUser
	OpRequestFirmware
	OpGetFirmwareRequests
	OpGetFirmwareRequestsByUser
	OpUploadFirmware
	OpCreateAgreement
	OpSignAgreement
	OpLinkVehicle
	OpGetUserAgreements
	OpGetVehicle
	OpTurnOnOffVehicle
	OpGetVehiclesByAgreement
	OpGetAggregatedData
	OpStoreTelemetry
	OpAccumulateTelemetryData
	OpGetInvoice
	OpPayForInvoice
	OpGetPendingInvoices
	OpGetPaidInvoices
	OpDeletePendingInvoices
	OpDeletePaidInvoices
)

// Request is one RPC call: Op selects the operation, Args is the
// gob-encoded per-operation argument struct.
type Request struct {
	Op   Op
	Args []byte
}

// Response carries either a gob-encoded per-operation result struct, or an
// error kind/detail pair on failure — the same split *vts.Error uses.
type Response struct {
	OK        bool
	ErrKind   string
	ErrDetail string
	Result    []byte
}

// maxFrameLen bounds a single frame, guarding against a corrupt or hostile
// peer sending an unbounded length prefix.
const maxFrameLen = 16 << 20

// WriteFrame gob-encodes v and writes it to w as a 4-byte big-endian length
// prefix followed by the payload.
func WriteFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame from r and gob-decodes it into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameLen {
		return errors.New("rpcproto: frame exceeds maximum length")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}

// Encode gob-encodes v, for use inside a Request.Args or Response.Result.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes b into v.
func Decode(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// Per-operation argument and result structs. Every argument struct carries
// Caller explicitly: unlike an in-process call, the RPC boundary has no
// ambient identity, so the caller's principal travels with every request and
// the canister's guards evaluate it exactly as they would a direct call.

type AddAdminArgs struct{ Caller, Target vts.Principal }
type DeleteAdminArgs struct{ Caller, Target vts.Principal }
type RegisterUserArgs struct {
	Caller, Target vts.Principal
	Email          *string
}
type DeleteUserArgs struct{ Caller, Target vts.Principal }
type GetUserArgs struct{ Caller vts.Principal }
type GetUserResult struct{ User vts.User }

type RequestFirmwareArgs struct{ Caller vts.Principal }
type GetFirmwareRequestsArgs struct{ Caller vts.Principal }
type GetFirmwareRequestsResult struct{ Customer vts.Principal }
type GetFirmwareRequestsByUserArgs struct{ Caller vts.Principal }
type UploadFirmwareArgs struct {
	Caller, Customer vts.Principal
	PublicKey        []byte
	Arch             string
	Firmware         []byte
}

type CreateAgreementArgs struct {
	Caller     vts.Principal
	Name       string
	VhCustomer vts.Principal
	GasPrice   string
}
type CreateAgreementResult struct{ ID vts.U128 }
type SignAgreementArgs struct {
	Caller vts.Principal
	ID     vts.U128
}
type LinkVehicleArgs struct {
	Caller      vts.Principal
	AgreementID vts.U128
	VehicleID   vts.Principal
}
type GetUserAgreementsArgs struct{ Caller vts.Principal }
type GetUserAgreementsResult struct{ Agreements []vts.Agreement }

type GetVehicleArgs struct{ Caller, ID vts.Principal }
type GetVehicleResult struct{ Vehicle vts.Vehicle }
type TurnOnOffVehicleArgs struct {
	Caller, ID vts.Principal
	On         bool
}
type GetVehiclesByAgreementArgs struct {
	Caller vts.Principal
	ID     vts.U128
}
type GetVehiclesByAgreementResult struct{ Vehicles []vts.Principal }
type GetAggregatedDataArgs struct{ Caller, ID vts.Principal }
type GetAggregatedDataResult struct{ Tree vts.AccumTree }

type StoreTelemetryArgs struct {
	VehicleID          vts.Principal
	Payload, Signature []byte
}
type StoreTelemetryResult struct{ TurnOn bool }

type AccumulateTelemetryDataArgs struct{ Caller vts.Principal }

type GetInvoiceArgs struct {
	Caller vts.Principal
	ID     vts.U128
}
type GetInvoiceResult struct{ Invoice vts.Invoice }
type PayForInvoiceArgs struct {
	Caller vts.Principal
	ID     vts.U128
}
type InvoicesArgs struct{ Caller vts.Principal }
type InvoiceNotification struct {
	ID            vts.U128
	CustomerEmail string
	Vehicle       vts.Principal
}
type InvoicesResult struct{ Invoices []InvoiceNotification }
type DeleteInvoicesArgs struct {
	Caller vts.Principal
	IDs    []vts.U128
}
