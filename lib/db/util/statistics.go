package util

import "math"

// Stats summarizes a set of sizes
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and the extremes of values
func NewStats[T int | int64 | float64](values []T) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := float64(values[0]), float64(values[0])
	var sum float64
	for _, v := range values {
		f := float64(v)
		sum += f
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	mean := sum / float64(len(values))

	var squared float64
	for _, v := range values {
		d := float64(v) - mean
		squared += d * d
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(squared / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// DistributionStats rates how evenly keys are spread over shards
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0
	// when a few shards hold all keys
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes the distribution quality of shard sizes
func NewDistributionStats[T int | int64 | float64](shardSizes []T) DistributionStats {
	stats := NewStats(shardSizes)

	// coefficient of variation
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}
