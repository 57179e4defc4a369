// Package badger implements the db.KVDB interface on top of the embedded
// LSM database github.com/dgraph-io/badger/v4.
//
// Every user key is stored with a one byte prefix so the empty key is a
// valid key. Set and Delete read the previous value and write in the same
// serializable transaction and are retried on badger.ErrConflict, so
// concurrent writers to one key observe distinct previous values.
//
// Snapshots consist of the magic "BADGERKV", a version byte and a badger
// backup stream. A persistent instance runs the value log gc periodically.
package badger
