package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed returns a random per-instance seed for key hashing
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// KeyHash is the seeded hash of a key
type KeyHash uint64

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// HashString hashes s with FNV-1a, the offset basis is mixed with seed so
// that two instances do not route keys the same way
func HashString(s string, seed uint64) KeyHash {
	h := uint64(fnvOffset) ^ seed
	for i := 0; i < len(s); i++ {
		h = (h ^ uint64(s[i])) * fnvPrime
	}
	return KeyHash(h)
}

// ShardIndex maps h onto one of n shards. The low bits of FNV-1a are the
// weakest, they are dropped before the modulo.
func ShardIndex(h KeyHash, n int) int {
	if n <= 1 {
		return 0
	}
	return int((uint64(h) >> 7) % uint64(n))
}
