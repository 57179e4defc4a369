// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - RunKVDBTests: a conformance suite for the KVDB contract (previous values
//     on Set and Delete, copies on read, Range, Save/Load, atomic swaps)
//   - RunKVDBBenchmarks: throughput benchmarks for the common operations
//
// Tests for features an implementation does not report through
// SupportsFeature are skipped.
//
// Example usage:
//
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
