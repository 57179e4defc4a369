package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("AtomicSwap", func(t *testing.T) {
			testAtomicSwap(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustSet(t testing.TB, database db.KVDB, key string, value []byte) ([]byte, bool) {
	t.Helper()
	prev, loaded, err := database.Set(key, value)
	if err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
	return prev, loaded
}

func mustGet(t testing.TB, database db.KVDB, key string) ([]byte, bool) {
	t.Helper()
	value, loaded, err := database.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return value, loaded
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	prev, loaded := mustSet(t, database, testKey, testValue1)
	if loaded || prev != nil {
		t.Errorf("Expected no previous value on first Set, got %q (loaded=%v)", prev, loaded)
	}

	result, exists := mustGet(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	prev, loaded = mustSet(t, database, testKey, testValue2)
	if !loaded || !bytes.Equal(prev, testValue1) {
		t.Errorf("Expected previous value %s, got %q (loaded=%v)", testValue1, prev, loaded)
	}

	result, _ = mustGet(t, database, testKey)
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists := mustGet(t, database, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// Get returns a copy
	retrievedValue, _ := mustGet(t, database, testKey)
	retrievedValue[0] = 'X'
	originalValue, _ := mustGet(t, database, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// Set copies its input
	input := []byte("input-value")
	mustSet(t, database, "copy-key", input)
	input[0] = 'X'
	if stored, _ := mustGet(t, database, "copy-key"); !bytes.Equal(stored, []byte("input-value")) {
		t.Errorf("Set should copy the value, stored value changed to %s", stored)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	mustSet(t, database, "delete-key", []byte("value"))

	prev, loaded, err := database.Delete("delete-key")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !loaded || !bytes.Equal(prev, []byte("value")) {
		t.Errorf("Expected Delete to return the removed value, got %q (loaded=%v)", prev, loaded)
	}

	if _, exists := mustGet(t, database, "delete-key"); exists {
		t.Errorf("Expected key to be gone after Delete")
	}

	// deleting again is a no-op
	prev, loaded, err = database.Delete("delete-key")
	if err != nil {
		t.Fatalf("Second Delete failed: %v", err)
	}
	if loaded || prev != nil {
		t.Errorf("Expected second Delete to be a miss, got %q (loaded=%v)", prev, loaded)
	}

	// the key can be written again
	if _, loaded := mustSet(t, database, "delete-key", []byte("again")); loaded {
		t.Errorf("Expected no previous value after Delete")
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas|db.FeatureDelete)

	tests := []struct {
		name  string
		setup func()
		key   string
		want  bool
	}{
		{"Missing", func() {}, "has-missing", false},
		{"Present", func() { mustSet(t, database, "has-present", []byte("v")) }, "has-present", true},
		{"EmptyValue", func() { mustSet(t, database, "has-empty", nil) }, "has-empty", true},
		{"Deleted", func() {
			mustSet(t, database, "has-deleted", []byte("v"))
			_, _, _ = database.Delete("has-deleted")
		}, "has-deleted", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			got, err := database.Has(tt.key)
			if err != nil {
				t.Fatalf("Has failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func testRange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureRange)

	want := map[string]string{}
	for i := 0; i < 100; i++ {
		key, value := fmt.Sprintf("range-%03d", i), fmt.Sprintf("value-%d", i)
		want[key] = value
		mustSet(t, database, key, []byte(value))
	}

	got := map[string]string{}
	if err := database.Range(func(key string, value []byte) bool {
		got[key] = string(value)
		return true
	}); err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(got), len(want))
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("Range returned %q for %s, want %q", got[key], key, value)
		}
	}

	// stop early
	visited := 0
	if err := database.Range(func(string, []byte) bool {
		visited++
		return visited < 10
	}); err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if visited != 10 {
		t.Errorf("Range visited %d entries after returning false, want 10", visited)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		mustSet(t, database, key, value)
	}
	mustSet(t, database, "", []byte("empty key survives"))

	// a key that only exists in the target must be gone after Load
	mustSet(t, database2, "stale-key", []byte("stale"))

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		actualValue, exists := mustGet(t, database2, originalKeys[i])
		if !exists {
			t.Errorf("Key %s not found after Load", originalKeys[i])
			continue
		}
		if !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", originalKeys[i], originalValues[i], actualValue)
		}
	}
	if value, exists := mustGet(t, database2, ""); !exists || string(value) != "empty key survives" {
		t.Errorf("Empty key not restored, got %q (exists=%v)", value, exists)
	}
	if _, exists := mustGet(t, database2, "stale-key"); exists {
		t.Errorf("Load should replace the content of the database")
	}

	// the source is untouched
	for i := 0; i < numEntries; i++ {
		actualValue, exists := mustGet(t, database, originalKeys[i])
		if !exists || !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch in original database for key %s", originalKeys[i])
		}
	}

	// garbage is rejected
	if err := database2.Load(bytes.NewReader([]byte("definitely not a snapshot"))); err == nil {
		t.Errorf("Expected Load to fail on garbage input")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"EmptyKey", "", []byte("value for empty key")},
		{"EmptyValue", "empty-value-key", []byte{}},
		{"NilValue", "nil-value-key", nil},
		{"BinaryKey", "\x00\xff\x01key", []byte("binary")},
		{"UnicodeKey", "schlüssel-鍵", []byte("unicode")},
		{"LargeKey", string(bytes.Repeat([]byte("k"), 1000)), []byte("value for large key")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustSet(t, database, tt.key, tt.value)
			result, exists := mustGet(t, database, tt.key)
			if !exists {
				t.Fatalf("Key not found after Set")
			}
			if !bytes.Equal(result, tt.value) {
				t.Errorf("Value mismatch: got %q, want %q", result, tt.value)
			}
		})
	}

	if t.Failed() {
		return
	}

	largeValue := make([]byte, 4*1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}
	mustSet(t, database, "large-value-key", largeValue)

	result, exists := mustGet(t, database, "large-value-key")
	if !exists {
		t.Errorf("Key for large value not found after Set")
	} else if !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch (got %d bytes, want %d bytes)", len(result), len(largeValue))
	}
}

// testAtomicSwap checks that concurrent writers to one key each observe a
// distinct previous value: every written value is returned exactly once,
// either as someone's previous value or as the final value.
func testAtomicSwap(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	const writers = 16
	const writesPerWriter = 50

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		prevs []string
		fresh int
	)
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writesPerWriter; i++ {
				prev, loaded, err := database.Set("swap-key", []byte(fmt.Sprintf("%d-%d", w, i)))
				if err != nil {
					t.Errorf("Set failed: %v", err)
					return
				}
				mu.Lock()
				if loaded {
					prevs = append(prevs, string(prev))
				} else {
					fresh++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("Expected exactly one Set without a previous value, got %d", fresh)
	}

	final, _ := mustGet(t, database, "swap-key")
	seen := map[string]int{string(final): 1}
	for _, p := range prevs {
		seen[p]++
	}
	if len(seen) != writers*writesPerWriter {
		t.Errorf("Expected %d distinct values, got %d", writers*writesPerWriter, len(seen))
	}
	for value, n := range seen {
		if n != 1 {
			t.Errorf("Value %s was observed %d times", value, n)
		}
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "set"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		var key string
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		} else {
			key = fmt.Sprintf("key-%d", i)
		}

		var value []byte
		if op == "set" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)
			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
		}

		operations[i] = operation{op, key, value}
	}

	allKeys := make(map[string]bool)
	for _, op := range operations {
		allKeys[op.key] = true
	}

	numWorkers := 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	opsPerWorker := numOperations / numWorkers

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			start := workerId * opsPerWorker
			end := start + opsPerWorker

			for i := start; i < end; i++ {
				op := operations[i]

				var err error
				switch op.op {
				case "set":
					_, _, err = database.Set(op.key, op.value)
				case "get":
					_, _, err = database.Get(op.key)
				case "delete":
					_, _, err = database.Delete(op.key)
				}
				if err != nil {
					t.Errorf("%s %s failed: %v", op.op, op.key, err)
					return
				}
			}
		}(w)
	}

	wg.Wait()

	// Get and Has agree on every key once the writers are done
	for key := range allKeys {
		_, exists := mustGet(t, database, key)
		has, err := database.Has(key)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if exists != has {
			t.Errorf("Consistency error: Get and Has disagree for key %s", key)
		}
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)

	for i := 0; i < 10; i++ {
		mustSet(t, database, fmt.Sprintf("info-%d", i), []byte("value"))
	}

	info := database.GetInfo()
	if info.DbType == "" {
		t.Errorf("Expected a database type")
	}
	if len(info.SupportedFeatures) == 0 {
		t.Errorf("Expected at least one supported feature")
	}
	features := make([]string, 0, len(info.SupportedFeatures))
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("Feature %s listed but not supported", f)
		}
		features = append(features, f.String())
	}
	sort.Strings(features)
	t.Logf("%s supports %v", info.DbType, features)
}
