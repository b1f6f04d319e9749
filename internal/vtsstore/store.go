// Package vtsstore is the persistent KV layer: one bbolt bucket per entity
// family, each under a fixed, never-renamed name, plus two counter cells.
// bbolt's buckets are already ordered maps with point lookup and first-key
// access, so they stand in directly for the "region in stable memory"
// primitive the design calls for — no bespoke storage engine is written here.
package vtsstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Region names are part of the on-disk compatibility contract: once chosen
// they must never change, or existing databases become unreadable. The
// numeric prefixes mirror the fixed region-id assignment in the design.
var (
	RegionAdmins           = []byte("01_admins")
	RegionUsers            = []byte("02_users")
	RegionAgreements       = []byte("03_agreements")
	RegionFirmwareRequests = []byte("04_firmware_requests")
	RegionVehicles         = []byte("05_vehicles")
	RegionInvoices         = []byte("06_invoices")
	RegionPendingInvoices  = []byte("07_pending_invoices")
	RegionPaidInvoices     = []byte("08_paid_invoices")
	regionCounters         = []byte("99_counters")
)

var allRegions = [][]byte{
	RegionAdmins, RegionUsers, RegionAgreements, RegionFirmwareRequests,
	RegionVehicles, RegionInvoices, RegionPendingInvoices, RegionPaidInvoices,
	regionCounters,
}

// Counter cell keys, stored inside regionCounters.
var (
	CounterAgreement = []byte("agreement_id")
	CounterInvoice   = []byte("invoice_id")
)

// Store is a handle to the on-disk database. It exposes no transactional API
// of its own: callers obtain atomicity by performing every mutation of one
// handler inside a single Update call.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database at path, ensuring every region exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("vtsstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, region := range allRegions {
			if _, err := tx.CreateBucketIfNotExists(region); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vtsstore: initialise regions: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Iterator walks a region in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
}

type boltIterator struct {
	cursor  *bolt.Cursor
	started bool
	k, v    []byte
	err     error
}

func (it *boltIterator) Next() bool {
	if !it.started {
		it.started = true
		it.k, it.v = it.cursor.First()
	} else {
		it.k, it.v = it.cursor.Next()
	}
	return it.k != nil
}
func (it *boltIterator) Key() []byte   { return it.k }
func (it *boltIterator) Value() []byte { return it.v }
func (it *boltIterator) Error() error  { return it.err }

// Tx is a single read-write handler transaction. Every canister handler body
// runs inside exactly one Tx, which is how the design's "synchronous handlers
// are atomic end-to-end" rule is implemented: either every Put/Delete in the
// closure lands, or (on a returned error) none of them do.
type Tx struct {
	tx *bolt.Tx
}

// Update runs fn inside a single read-write transaction. If fn returns an
// error, every mutation made through tx during the call is rolled back.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

func (t *Tx) bucket(region []byte) *bolt.Bucket {
	b := t.tx.Bucket(region)
	if b == nil {
		panic(fmt.Sprintf("vtsstore: unknown region %q", region))
	}
	return b
}

// Get returns the value stored under key in region, or ok=false if absent.
// The returned slice is only valid for the lifetime of the transaction;
// callers that need to keep it past Update/View must copy it.
func (t *Tx) Get(region, key []byte) (value []byte, ok bool) {
	v := t.bucket(region).Get(key)
	if v == nil {
		return nil, false
	}
	return v, true
}

// Put inserts or overwrites key in region.
func (t *Tx) Put(region, key, value []byte) error {
	return t.bucket(region).Put(key, value)
}

// Delete removes key from region. Deleting an absent key is a no-op.
func (t *Tx) Delete(region, key []byte) error {
	return t.bucket(region).Delete(key)
}

// IsEmpty reports whether region holds no entries.
func (t *Tx) IsEmpty(region []byte) bool {
	k, _ := t.bucket(region).Cursor().First()
	return k == nil
}

// FirstKey returns the lowest key in region in byte order, or ok=false if
// region is empty.
func (t *Tx) FirstKey(region []byte) (key []byte, ok bool) {
	k, _ := t.bucket(region).Cursor().First()
	if k == nil {
		return nil, false
	}
	return k, true
}

// Iterate returns an Iterator over region in key order.
func (t *Tx) Iterate(region []byte) Iterator {
	return &boltIterator{cursor: t.bucket(region).Cursor()}
}

// GetCounter reads a counter cell, defaulting to the zero value if unset.
func (t *Tx) GetCounter(name []byte) []byte {
	v, ok := t.Get(regionCounters, name)
	if !ok {
		return make([]byte, 16)
	}
	return v
}

// SetCounter writes a counter cell.
func (t *Tx) SetCounter(name, value []byte) error {
	return t.Put(regionCounters, name, value)
}
