package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   Stats
	}{
		{"Empty", nil, Stats{}},
		{"Single", []int{4}, Stats{Min: 4, Max: 4, Mean: 4, MinMaxRatio: 1}},
		{"Spread", []int{2, 4, 4, 4, 5, 5, 7, 9}, Stats{StdDeviation: 2, Min: 2, Max: 9, Mean: 5, MinMaxRatio: 2.0 / 9.0}},
		{"Zeros", []int{0, 0}, Stats{MinMaxRatio: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStats(tt.values)
			if math.Abs(got.StdDeviation-tt.want.StdDeviation) > 1e-9 ||
				got.Min != tt.want.Min || got.Max != tt.want.Max || got.Mean != tt.want.Mean ||
				math.Abs(got.MinMaxRatio-tt.want.MinMaxRatio) > 1e-9 {
				t.Errorf("NewStats(%v) = %+v, want %+v", tt.values, got, tt.want)
			}
		})
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]int{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("expected quality 1 for an even spread, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]int{0, 0, 0, 40})
	if skewed.DistributionQuality >= 0.5 {
		t.Errorf("expected a low quality for a skewed spread, got %f", skewed.DistributionQuality)
	}
}
