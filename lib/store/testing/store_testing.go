package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/pKV/lib/store"
)

// StoreFactory creates a new, empty store
type StoreFactory func() store.IStore

// RunStoreTests runs the conformance suite for an IStore implementation
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SetGet", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("MultiKey", func(t *testing.T) {
			testMultiKey(t, factory())
		})

		t.Run("MSetLengthMismatch", func(t *testing.T) {
			testMSetLengthMismatch(t, factory())
		})

		t.Run("GetAll", func(t *testing.T) {
			testGetAll(t, factory())
		})

		t.Run("Values", func(t *testing.T) {
			testValues(t, factory())
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

func closeStore(t *testing.T, s store.IStore) {
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func testSetGet(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	if _, loaded, err := s.Get("a"); err != nil || loaded {
		t.Fatalf("expected a miss on an empty store, got loaded=%v err=%v", loaded, err)
	}

	prev, loaded, err := s.Set("a", []byte("1"))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if loaded || len(prev) != 0 {
		t.Errorf("expected no previous value, got %q (loaded=%v)", prev, loaded)
	}

	prev, loaded, err = s.Set("a", []byte("2"))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !loaded || string(prev) != "1" {
		t.Errorf("expected previous value 1, got %q (loaded=%v)", prev, loaded)
	}

	value, loaded, err := s.Get("a")
	if err != nil || !loaded || string(value) != "2" {
		t.Errorf("expected value 2, got %q (loaded=%v, err=%v)", value, loaded, err)
	}
}

func testDelete(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	if _, _, err := s.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	prev, loaded, err := s.Delete("a")
	if err != nil || !loaded || string(prev) != "1" {
		t.Errorf("expected Delete to return 1, got %q (loaded=%v, err=%v)", prev, loaded, err)
	}

	prev, loaded, err = s.Delete("a")
	if err != nil || loaded || len(prev) != 0 {
		t.Errorf("expected a second Delete to miss, got %q (loaded=%v, err=%v)", prev, loaded, err)
	}

	if _, loaded, _ := s.Get("a"); loaded {
		t.Errorf("expected the key to be gone")
	}
}

func testHas(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	if _, _, err := s.Set("present", nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"present", true},
		{"missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := s.Has(tt.key)
			if err != nil {
				t.Fatalf("Has failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func testMultiKey(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	if _, _, err := s.Set("b", []byte("old-b")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	prevs, loaded, err := s.MSet([]string{"a", "b", "c"}, [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	if err != nil {
		t.Fatalf("MSet failed: %v", err)
	}
	if len(prevs) != 3 || len(loaded) != 3 {
		t.Fatalf("expected 3 results, got %d/%d", len(prevs), len(loaded))
	}
	if loaded[0] || !loaded[1] || loaded[2] || string(prevs[1]) != "old-b" {
		t.Errorf("unexpected MSet results %q %v", prevs, loaded)
	}

	values, loaded, err := s.MGet([]string{"c", "missing", "a"})
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if !loaded[0] || loaded[1] || !loaded[2] || string(values[0]) != "3" || string(values[2]) != "1" {
		t.Errorf("unexpected MGet results %q %v", values, loaded)
	}

	has, err := s.MHas([]string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("MHas failed: %v", err)
	}
	if !has[0] || has[1] || !has[2] {
		t.Errorf("unexpected MHas results %v", has)
	}

	prevs, loaded, err = s.MDelete([]string{"a", "missing"})
	if err != nil {
		t.Fatalf("MDelete failed: %v", err)
	}
	if !loaded[0] || loaded[1] || string(prevs[0]) != "1" {
		t.Errorf("unexpected MDelete results %q %v", prevs, loaded)
	}

	// empty batches are valid
	if values, loaded, err := s.MGet(nil); err != nil || len(values) != 0 || len(loaded) != 0 {
		t.Errorf("expected an empty MGet to succeed, got %v %v %v", values, loaded, err)
	}
}

func testMSetLengthMismatch(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	_, _, err := s.MSet([]string{"a", "b"}, [][]byte{[]byte("1")})
	if !errors.Is(err, store.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if has, _ := s.Has("a"); has {
		t.Errorf("a rejected MSet must not write anything")
	}
}

func testGetAll(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	keys, values, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(keys) != 0 || len(values) != 0 {
		t.Errorf("expected an empty store, got %d keys", len(keys))
	}

	want := []string{"", "a", "b", "z", "ä"}
	for i := len(want) - 1; i >= 0; i-- {
		if _, _, err := s.Set(want[i], []byte("v-"+want[i])); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	keys, values, err = s.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("expected sorted keys, got %q", keys)
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %q", len(want), keys)
	}
	for i, key := range keys {
		if key != want[i] || string(values[i]) != "v-"+key {
			t.Errorf("entry %d = %q:%q, want %q:%q", i, key, values[i], want[i], "v-"+want[i])
		}
	}
}

func testValues(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"EmptyKey", "", []byte("empty key")},
		{"EmptyValue", "empty-value", []byte{}},
		{"Binary", "binary", binary},
		{"Compressible", "compressible", bytes.Repeat([]byte("pkv "), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			value, loaded, err := s.Get(tt.key)
			if err != nil || !loaded {
				t.Fatalf("Get failed: loaded=%v err=%v", loaded, err)
			}
			if !bytes.Equal(value, tt.value) {
				t.Errorf("value mismatch: got %d bytes, want %d bytes", len(value), len(tt.value))
			}
		})
	}
}

func testConcurrent(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	const workers = 8
	const keysPerWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keysPerWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if _, _, err := s.Set(key, []byte(key)); err != nil {
					t.Errorf("Set failed: %v", err)
					return
				}
				value, loaded, err := s.Get(key)
				if err != nil || !loaded || string(value) != key {
					t.Errorf("Get(%s) = %q (loaded=%v, err=%v)", key, value, loaded, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	keys, _, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(keys) != workers*keysPerWorker {
		t.Errorf("expected %d keys, got %d", workers*keysPerWorker, len(keys))
	}
}

func testInfo(t *testing.T, s store.IStore) {
	defer closeStore(t, s)

	if _, _, err := s.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	info, err := s.GetDBInfo()
	if errors.Is(err, store.ErrUnsupportedOperation) {
		t.Skip("store does not expose database info")
	}
	if err != nil {
		t.Fatalf("GetDBInfo failed: %v", err)
	}
	if info.DbType == "" {
		t.Errorf("expected a database type in %+v", info)
	}
}
