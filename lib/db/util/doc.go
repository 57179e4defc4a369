// Package util provides helpers shared by the db.KVDB engines.
//
// The package contains:
//   - GenerateSeed: a random seed for per-instance hash distribution
//   - HashString: a seeded FNV-1a hash used to route keys to shards
//   - ShardIndex: maps a key hash onto a shard
//   - NewDistributionStats: how evenly keys are spread over shards
package util
