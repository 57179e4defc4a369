// Package lstore implements a local, single-node key-value store based on the
// store.IStore interface. It is a thin wrapper around any db.KVDB
// implementation and the storage side of the pKV server.
//
// Implementation Details:
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations return a store.Error with the code
//     RetCUnsupportedOperation rather than failing silently.
//
//   - Multi-key Operations: MGet, MSet, MDelete and MHas apply the single key
//     operation per key in order. Every single key operation is atomic, the
//     batch as a whole is not.
//
//   - GetAll: Collects the entries with db.KVDB.Range and sorts them by key.
//
//   - Composition Architecture: The store.DBFactory function injects the
//     underlying db.KVDB implementation, the persistence of the store is the
//     persistence of its engine (maple is in-memory, badger is on disk).
//
// Thread Safety:
//
//	All operations are thread-safe as long as the underlying db.KVDB is.
//
// Usage Example:
//
//	factory := func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil }
//	s, err := lstore.NewLocalStore(factory)
//
//	prev, replaced, err := s.Set("session:123", sessionData)
//	value, exists, err := s.Get("session:123")
package lstore
