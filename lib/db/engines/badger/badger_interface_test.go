package badger

import (
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
	dbtesting "github.com/ValentinKolb/pKV/lib/db/testing"
)

func factory(tb testing.TB) dbtesting.DBFactory {
	return func() db.KVDB {
		database, err := NewBadgerDB(Options{Dir: tb.TempDir()})
		if err != nil {
			tb.Fatalf("failed to open badger: %v", err)
		}
		return database
	}
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "BadgerDB", factory(t))
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "BadgerDB", factory(b))
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	first, err := NewBadgerDB(Options{Dir: dir})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, _, err := first.Set("survivor", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !first.SupportsFeature(db.FeaturePersistent) {
		t.Errorf("expected an on-disk instance to be persistent")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewBadgerDB(Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	value, loaded, err := second.Get("survivor")
	if err != nil || !loaded || string(value) != "value" {
		t.Errorf("expected the value to survive a reopen, got %q (loaded=%v, err=%v)", value, loaded, err)
	}
}

func TestInMemory(t *testing.T) {
	database, err := NewBadgerDB(Options{InMemory: true})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer database.Close()

	if database.SupportsFeature(db.FeaturePersistent) {
		t.Errorf("an in-memory instance must not report persistence")
	}
	if _, _, err := database.Set("", []byte("empty key")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if info := database.GetInfo(); info.Keys != 1 || info.DbType != db.ImplBadger {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestMissingDir(t *testing.T) {
	if _, err := NewBadgerDB(Options{}); err == nil {
		t.Errorf("expected an error without a data directory")
	}
}
