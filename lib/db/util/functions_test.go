package util

import (
	"fmt"
	"testing"
)

func TestHashString(t *testing.T) {
	// FNV-1a test vectors with a zero seed
	tests := []struct {
		in   string
		want KeyHash
	}{
		{"", 0xcbf29ce484222325},
		{"a", 0xaf63dc4c8601ec8c},
		{"foobar", 0x85944171f73967e8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			if got := HashString(tt.in, 0); got != tt.want {
				t.Errorf("HashString(%q, 0) = %#x, want %#x", tt.in, uint64(got), uint64(tt.want))
			}
		})
	}

	if HashString("key", 1) == HashString("key", 2) {
		t.Error("different seeds produced the same hash")
	}
}

func TestShardIndex(t *testing.T) {
	for _, n := range []int{0, 1, 3, 16} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			counts := make(map[int]int)
			for i := 0; i < 10000; i++ {
				idx := ShardIndex(HashString(fmt.Sprintf("key-%d", i), 42), n)
				if idx < 0 || (n > 1 && idx >= n) || (n <= 1 && idx != 0) {
					t.Fatalf("ShardIndex out of range for n=%d: %d", n, idx)
				}
				counts[idx]++
			}
			if n > 1 && len(counts) != n {
				t.Errorf("expected keys on all %d shards, got %d", n, len(counts))
			}
		})
	}
}
