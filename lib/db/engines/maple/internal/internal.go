package internal

import (
	"github.com/ValentinKolb/pKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// Shard is one partition of the keyspace.
// Stored values are never modified in place, a write always stores a new slice.
type Shard struct {
	Data *xsync.MapOf[string, []byte]
}

// Shards is a fixed set of partitions together with the seed used to route keys
type Shards struct {
	seed   uint64
	shards []*Shard
}

// NewShards creates n empty shards routed by seed
func NewShards(n int, seed uint64) *Shards {
	s := &Shards{seed: seed, shards: make([]*Shard, n)}
	for i := range s.shards {
		s.shards[i] = &Shard{Data: xsync.NewMapOf[string, []byte]()}
	}
	return s
}

// For returns the shard owning key. Safe for concurrent use.
func (s *Shards) For(key string) *Shard {
	return s.shards[util.ShardIndex(util.HashString(key, s.seed), len(s.shards))]
}

// All returns every shard in routing order
func (s *Shards) All() []*Shard {
	return s.shards
}
