package vtsstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(tx *Tx) error {
		return tx.Put(RegionUsers, []byte("alice"), []byte("data"))
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got []byte
	var ok bool
	_ = s.View(func(tx *Tx) error {
		got, ok = tx.Get(RegionUsers, []byte("alice"))
		return nil
	})
	if !ok || string(got) != "data" {
		t.Fatalf("got (%q, %v), want (data, true)", got, ok)
	}

	_ = s.Update(func(tx *Tx) error { return tx.Delete(RegionUsers, []byte("alice")) })
	_ = s.View(func(tx *Tx) error {
		_, ok = tx.Get(RegionUsers, []byte("alice"))
		return nil
	})
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	wantErr := errTest
	err := s.Update(func(tx *Tx) error {
		if err := tx.Put(RegionUsers, []byte("bob"), []byte("x")); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	_ = s.View(func(tx *Tx) error {
		if _, ok := tx.Get(RegionUsers, []byte("bob")); ok {
			t.Fatal("expected rollback to discard the put")
		}
		return nil
	})
}

func TestIsEmptyAndFirstKey(t *testing.T) {
	s := openTestStore(t)
	_ = s.View(func(tx *Tx) error {
		if !tx.IsEmpty(RegionAgreements) {
			t.Fatal("expected fresh region to be empty")
		}
		return nil
	})
	_ = s.Update(func(tx *Tx) error {
		_ = tx.Put(RegionAgreements, []byte("b"), []byte("2"))
		_ = tx.Put(RegionAgreements, []byte("a"), []byte("1"))
		return nil
	})
	_ = s.View(func(tx *Tx) error {
		key, ok := tx.FirstKey(RegionAgreements)
		if !ok || string(key) != "a" {
			t.Fatalf("got (%q, %v), want (a, true)", key, ok)
		}
		return nil
	})
}

func TestIterateIsOrdered(t *testing.T) {
	s := openTestStore(t)
	_ = s.Update(func(tx *Tx) error {
		_ = tx.Put(RegionVehicles, []byte("c"), []byte("3"))
		_ = tx.Put(RegionVehicles, []byte("a"), []byte("1"))
		_ = tx.Put(RegionVehicles, []byte("b"), []byte("2"))
		return nil
	})
	var keys []string
	_ = s.View(func(tx *Tx) error {
		it := tx.Iterate(RegionVehicles)
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		return it.Error()
	})
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestCounterDefaultsToZero(t *testing.T) {
	s := openTestStore(t)
	_ = s.View(func(tx *Tx) error {
		v := tx.GetCounter(CounterAgreement)
		for _, b := range v {
			if b != 0 {
				t.Fatalf("expected zero counter, got %v", v)
			}
		}
		return nil
	})
}

type testError string

func (e testError) Error() string { return string(e) }

var errTest = testError("boom")
