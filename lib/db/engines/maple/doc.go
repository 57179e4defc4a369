// Package maple implements an in-memory key-value database (KVDB) that
// satisfies the db.KVDB interface with a focus on concurrent throughput.
//
// Key Components:
//
//   - mapleImpl: The database structure implementing db.KVDB. It owns a fixed
//     number of shards and routes every key to one of them.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Shards
//     operate independently so writers to different keys rarely contend.
//
// Internal Mechanisms:
//
//   - Sharding Strategy: String keys are hashed to 64-bit integers with the
//     seeded FNV-1a function util.HashString and util.ShardIndex picks the
//     shard from the high bits of the hash.
//
//   - Atomic Swaps: Set and Delete run inside xsync.MapOf.Compute, so the
//     previous value they return is exactly the value their write replaced.
//     Concurrent writers to one key each observe a different previous value.
//
//   - Value Ownership: Set stores a copy of its input and Get and Range hand out
//     copies, callers never share memory with the stored entries.
//
//   - Persistence Format: Save writes a compact binary snapshot:
//     1. Magic number "MAPLEDB\x00" to identify the file format
//     2. Version number (currently 4)
//     3. Number of entries (uint64)
//     4. For each entry: key length (uint32), key, value length (uint32), value
//     All integers are little endian. The snapshot is fuzzy, writes during Save
//     may or may not be part of it. Load fills fresh shards and swaps them in
//     only once the whole snapshot was read, a broken snapshot leaves the
//     database untouched.
//
//   - Metrics: GetInfo reports the exact key count and payload size together
//     with the shard distribution to detect imbalances.
//
// Maple is not persistent. It is the default engine of the pKV server and
// serves caches, session stores and other data that may be lost on restart.
package maple
