// Package canister implements the state canister: the authoritative model of
// users, vehicles, agreements, telemetry and invoices, and the transactional
// handlers that mutate it. Every handler runs inside a single vtsstore.Tx so
// it is atomic end-to-end, matching the cooperative single-threaded
// scheduling model the design assumes.
package canister

import (
	"time"

	"github.com/vtscanister/vts/internal/access"
	"github.com/vtscanister/vts/internal/ledgerclient"
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtsstore"
)

// Clock abstracts wall-clock access so the accumulation/billing handler can
// be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// State is the single owned container every handler operates on — no hidden
// singletons, no per-collection globals. Handlers may be called from several
// goroutines at once (cmd/canister serves each RPC connection on its own
// goroutine next to the accumulation ticker): each handler's writes happen
// inside one store transaction, and the store runs read-write transactions
// one at a time. Guard.AllowGateway is not synchronised.
type State struct {
	store  *vtsstore.Store
	Guard  *access.Guard
	Self   vts.Principal
	Clock  Clock
	Ledger ledgerclient.Ledger
}

// New opens (or creates) the canister's database at dbPath and wires up the
// guard and clock. self is the canister's own principal, used by IsCanister.
func New(dbPath string, self vts.Principal, ledger ledgerclient.Ledger, clock Clock) (*State, error) {
	store, err := vtsstore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	s := &State{store: store, Self: self, Clock: clock, Ledger: ledger}
	s.Guard = access.NewGuard(s, self)
	return s, nil
}

// Close releases the underlying database.
func (s *State) Close() error { return s.store.Close() }

func keyP(p vts.Principal) []byte { return p[:] }
func keyID(id vts.U128) []byte    { return id[:] }

// HasAdmin implements access.Source.
func (s *State) HasAdmin(p vts.Principal) (bool, error) {
	var ok bool
	err := s.store.View(func(tx *vtsstore.Tx) error {
		_, ok = tx.Get(vtsstore.RegionAdmins, keyP(p))
		return nil
	})
	return ok, err
}

// HasUser implements access.Source.
func (s *State) HasUser(p vts.Principal) (bool, error) {
	var ok bool
	err := s.store.View(func(tx *vtsstore.Tx) error {
		_, ok = tx.Get(vtsstore.RegionUsers, keyP(p))
		return nil
	})
	return ok, err
}

// loadUser reads and decodes a user record inside an open transaction.
func loadUser(tx *vtsstore.Tx, p vts.Principal) (*vts.User, bool, error) {
	raw, ok := tx.Get(vtsstore.RegionUsers, keyP(p))
	if !ok {
		return nil, false, nil
	}
	u := &vts.User{Principal: p}
	if err := u.UnmarshalRecord(raw); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func putUser(tx *vtsstore.Tx, u *vts.User) error {
	raw, err := u.MarshalRecord()
	if err != nil {
		return err
	}
	return tx.Put(vtsstore.RegionUsers, keyP(u.Principal), raw)
}

func loadVehicle(tx *vtsstore.Tx, id vts.Principal) (*vts.Vehicle, bool, error) {
	raw, ok := tx.Get(vtsstore.RegionVehicles, keyP(id))
	if !ok {
		return nil, false, nil
	}
	v := &vts.Vehicle{}
	if err := v.UnmarshalRecord(raw); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func putVehicle(tx *vtsstore.Tx, v *vts.Vehicle) error {
	raw, err := v.MarshalRecord()
	if err != nil {
		return err
	}
	return tx.Put(vtsstore.RegionVehicles, keyP(v.Identity), raw)
}

func loadAgreement(tx *vtsstore.Tx, id vts.U128) (*vts.Agreement, bool, error) {
	raw, ok := tx.Get(vtsstore.RegionAgreements, keyID(id))
	if !ok {
		return nil, false, nil
	}
	a := &vts.Agreement{}
	if err := a.UnmarshalRecord(raw); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func putAgreement(tx *vtsstore.Tx, a *vts.Agreement) error {
	raw, err := a.MarshalRecord()
	if err != nil {
		return err
	}
	return tx.Put(vtsstore.RegionAgreements, keyID(a.ID), raw)
}

func loadInvoice(tx *vtsstore.Tx, id vts.U128) (*vts.Invoice, bool, error) {
	raw, ok := tx.Get(vtsstore.RegionInvoices, keyID(id))
	if !ok {
		return nil, false, nil
	}
	i := &vts.Invoice{}
	if err := i.UnmarshalRecord(raw); err != nil {
		return nil, false, err
	}
	return i, true, nil
}

func putInvoice(tx *vtsstore.Tx, i *vts.Invoice) error {
	raw, err := i.MarshalRecord()
	if err != nil {
		return err
	}
	return tx.Put(vtsstore.RegionInvoices, keyID(i.ID), raw)
}

// nextID reads, increments and persists a monotonically increasing counter.
func nextID(tx *vtsstore.Tx, counter []byte) vts.U128 {
	var cur vts.U128
	copy(cur[:], tx.GetCounter(counter))
	next := cur.Next()
	_ = tx.SetCounter(counter, next[:])
	return next
}

func internalErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*vts.Error); ok {
		return err
	}
	return vts.NewError(vts.ErrInternal, "%v", err)
}
