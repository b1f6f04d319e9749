package vts

import "github.com/vtscanister/vts/internal/vtscodec"

// TelemetryType tags the kind of sample a vehicle reports. The wire codec
// encodes it as a single byte, so new types must be appended, never inserted.
type TelemetryType uint8

const (
	TelemetryGas TelemetryType = iota
	TelemetrySpeed
	TelemetryTemperature
	TelemetryOdometer
)

func (t TelemetryType) Valid() bool { return t <= TelemetryOdometer }

// AgreementState is the two-state lifecycle of an Agreement.
type AgreementState uint8

const (
	AgreementUnsigned AgreementState = iota
	AgreementSigned
)

// InvoiceStatus is the two-state lifecycle of an Invoice.
type InvoiceStatus uint8

const (
	InvoiceUnpaid InvoiceStatus = iota
	InvoicePaid
)

// Admin is a principal granted unrestricted operator access.
type Admin struct {
	Principal Principal
}

// User is a registered identity that may act as agreement provider/customer.
type User struct {
	Principal  Principal
	Vehicles   map[Principal]struct{}
	Agreements map[U128]struct{}
	Email      *string
}

// NewUser returns an empty User for principal p.
func NewUser(p Principal, email *string) *User {
	return &User{
		Principal:  p,
		Vehicles:   make(map[Principal]struct{}),
		Agreements: make(map[U128]struct{}),
		Email:      email,
	}
}

// Clone deep-copies u so callers can mutate a working copy before committing
// it back to the store.
func (u *User) Clone() *User {
	out := &User{Principal: u.Principal, Vehicles: make(map[Principal]struct{}, len(u.Vehicles)), Agreements: make(map[U128]struct{}, len(u.Agreements))}
	for k := range u.Vehicles {
		out.Vehicles[k] = struct{}{}
	}
	for k := range u.Agreements {
		out.Agreements[k] = struct{}{}
	}
	if u.Email != nil {
		email := *u.Email
		out.Email = &email
	}
	return out
}

// Vehicle is a firmware-bearing device, named by the self-authenticating
// principal derived from its public key.
type Vehicle struct {
	Identity             Principal
	PublicKey            []byte // DER-encoded SEC1 public key
	Customer             Principal
	Provider             Principal // zero until linked to an agreement
	Agreement            *U128     // nil until linked
	Arch                 string
	Firmware             []byte
	OnOff                bool
	Telemetry            RawTree
	AccumulatedTelemetry AccumTree
	Invoices             []U128
}

// NewVehicle returns a Vehicle named after its own public key.
func NewVehicle(publicKey []byte, customer Principal, arch string, firmware []byte) *Vehicle {
	return &Vehicle{
		Identity:             SelfAuthenticatingPrincipal(publicKey),
		PublicKey:            publicKey,
		Customer:             customer,
		Arch:                 arch,
		Firmware:             firmware,
		Telemetry:            make(RawTree),
		AccumulatedTelemetry: make(AccumTree),
	}
}

// Clone deep-copies v, including its telemetry trees.
func (v *Vehicle) Clone() *Vehicle {
	out := *v
	out.PublicKey = append([]byte(nil), v.PublicKey...)
	out.Firmware = append([]byte(nil), v.Firmware...)
	if v.Agreement != nil {
		a := *v.Agreement
		out.Agreement = &a
	}
	out.Invoices = append([]U128(nil), v.Invoices...)
	out.Telemetry = v.Telemetry.Clone()
	out.AccumulatedTelemetry = v.AccumulatedTelemetry.Clone()
	return &out
}

// AgreementConditions is the priced terms of an Agreement.
type AgreementConditions struct {
	GasPrice string // arbitrary-precision decimal, validated at creation
}

// Agreement links a provider and a customer at a fixed unit price.
type Agreement struct {
	ID         U128
	Name       string
	VhProvider Principal
	VhCustomer Principal
	State      AgreementState
	Conditions AgreementConditions
	Vehicles   map[Principal]struct{}
}

// NewAgreement returns an Unsigned Agreement with the next id.
func NewAgreement(id U128, name string, provider, customer Principal, conditions AgreementConditions) *Agreement {
	return &Agreement{
		ID:         id,
		Name:       name,
		VhProvider: provider,
		VhCustomer: customer,
		State:      AgreementUnsigned,
		Conditions: conditions,
		Vehicles:   make(map[Principal]struct{}),
	}
}

func (a *Agreement) Clone() *Agreement {
	out := *a
	out.Vehicles = make(map[Principal]struct{}, len(a.Vehicles))
	for k := range a.Vehicles {
		out.Vehicles[k] = struct{}{}
	}
	return &out
}

// Period identifies a billed calendar month.
type Period struct {
	Year  int32
	Month uint8 // 1..=12
}

// Invoice is a priced monthly settlement for one vehicle under one agreement.
type Invoice struct {
	ID        U128
	Status    InvoiceStatus
	Vehicle   Principal
	Agreement U128
	Period    Period
	TotalCost U128
}

// The record types below implement vtscodec.Storable so the KV store can
// persist them uniformly; every entity kind gob-encodes itself the same way.

func (a *Admin) MarshalRecord() ([]byte, error) { return vtscodec.Encode(*a) }
func (a *Admin) UnmarshalRecord(b []byte) error { return vtscodec.Decode(b, a) }

func (u *User) MarshalRecord() ([]byte, error) { return vtscodec.Encode(*u) }
func (u *User) UnmarshalRecord(b []byte) error { return vtscodec.Decode(b, u) }

func (v *Vehicle) MarshalRecord() ([]byte, error) { return vtscodec.Encode(*v) }
func (v *Vehicle) UnmarshalRecord(b []byte) error { return vtscodec.Decode(b, v) }

func (a *Agreement) MarshalRecord() ([]byte, error) { return vtscodec.Encode(*a) }
func (a *Agreement) UnmarshalRecord(b []byte) error { return vtscodec.Decode(b, a) }

func (i *Invoice) MarshalRecord() ([]byte, error) { return vtscodec.Encode(*i) }
func (i *Invoice) UnmarshalRecord(b []byte) error { return vtscodec.Decode(b, i) }
