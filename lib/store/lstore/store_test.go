package lstore

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/badger"
	"github.com/ValentinKolb/pKV/lib/db/engines/maple"
	"github.com/ValentinKolb/pKV/lib/store"
	storetesting "github.com/ValentinKolb/pKV/lib/store/testing"
)

func newStore(t *testing.T, factory store.DBFactory) store.IStore {
	s, err := NewLocalStore(factory)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return s
}

func TestLocalStore(t *testing.T) {
	storetesting.RunStoreTests(t, "Maple", func() store.IStore {
		return newStore(t, func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil })
	})

	storetesting.RunStoreTests(t, "Badger", func() store.IStore {
		dir := t.TempDir()
		return newStore(t, func() (db.KVDB, error) { return badger.NewBadgerDB(badger.Options{Dir: dir}) })
	})
}

// limitedDB hides every feature except Set and Get
type limitedDB struct {
	db.KVDB
}

func (l limitedDB) SupportsFeature(feature db.Feature) bool {
	return (db.FeatureSet|db.FeatureGet)&feature == feature
}

func TestUnsupportedOperation(t *testing.T) {
	s := newStore(t, func() (db.KVDB, error) { return limitedDB{maple.NewMapleDB(nil)}, nil })
	defer s.Close()

	if _, _, err := s.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"Delete", func() error { _, _, err := s.Delete("a"); return err }},
		{"MDelete", func() error { _, _, err := s.MDelete([]string{"a"}); return err }},
		{"Has", func() error { _, err := s.Has("a"); return err }},
		{"MHas", func() error { _, err := s.MHas([]string{"a"}); return err }},
		{"GetAll", func() error { _, _, err := s.GetAll(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, store.ErrUnsupportedOperation) {
				t.Fatalf("expected ErrUnsupportedOperation, got %v", err)
			}
			var storeErr *store.Error
			if !errors.As(err, &storeErr) || storeErr.Code != store.RetCUnsupportedOperation {
				t.Errorf("expected a *store.Error with code UnsupportedOperation, got %v", err)
			}
		})
	}
}

// failingDB fails every read
type failingDB struct {
	db.KVDB
}

var errDisk = errors.New("disk on fire")

func (f failingDB) Get(string) ([]byte, bool, error) {
	return nil, false, errDisk
}

func TestBackendError(t *testing.T) {
	s := newStore(t, func() (db.KVDB, error) { return failingDB{maple.NewMapleDB(nil)}, nil })
	defer s.Close()

	_, _, err := s.Get("a")
	if !errors.Is(err, store.ErrInternal) {
		t.Errorf("expected ErrInternal, got %v", err)
	}
	if !errors.Is(err, errDisk) {
		t.Errorf("expected the engine error to be wrapped, got %v", err)
	}
}

func TestFactoryError(t *testing.T) {
	_, err := NewLocalStore(func() (db.KVDB, error) { return nil, errDisk })
	if !errors.Is(err, errDisk) {
		t.Errorf("expected the factory error, got %v", err)
	}
}
