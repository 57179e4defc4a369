// Package db provides a standardized interface for key-value database implementations.
// It defines the KVDB interface that allows for consistent interaction
// with various database backends while abstracting implementation details.
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     Write operations (Set, Delete) return the previous value of the key, so that
//     callers can report what a command replaced or removed without a second lookup.
//     Queries are Get, Has and Range; Save and Load move whole snapshots.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     advertise through the SupportsFeature method. This allows the store layer to
//     reject unsupported operations with a typed error instead of failing later.
//
//   - Implementation Identifiers: "maple" (sharded in-memory) and "badger"
//     (embedded on-disk, github.com/dgraph-io/badger/v4).
//
//   - Database Information: The DatabaseInfo structure reports the size, the
//     number of keys, the implementation and implementation specific metadata.
//
// Related Packages:
//
// The engines/maple package provides the in-memory implementation, engines/badger
// the persistent one.
//
// The testing package (github.com/ValentinKolb/pKV/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
