// Package tally turns per-view measurements into a per-frame verdict and
// drives analysis over whole sessions.
package tally

import (
	"math"

	"pointcloud-tally/internal/frame"

	"gonum.org/v1/gonum/stat"
)

// ViewCounts holds one point count per view, indexed by frame.Section.
type ViewCounts [3]int

// Get returns the count of one view.
func (c ViewCounts) Get(s frame.Section) int { return c[s.Index()] }

func (c ViewCounts) floats() []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = float64(v)
	}
	return out
}

// Max returns the largest count.
func (c ViewCounts) Max() int {
	return max(c[0], c[1], c[2])
}

// Variation returns the coefficient of variation (population standard
// deviation over mean). An all-zero set has no variation.
func (c ViewCounts) Variation() float64 {
	mean, std := stat.PopMeanStdDev(c.floats(), nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

// AggregateCounts reduces three view counts to one. Counts further than one
// population standard deviation from the mean are discarded and the rest are
// averaged, truncating toward zero. When nothing survives the largest raw
// count is returned.
func AggregateCounts(counts ViewCounts) int {
	mean, std := stat.PopMeanStdDev(counts.floats(), nil)

	sum, n := 0, 0
	for _, c := range counts {
		if math.Abs(float64(c)-mean) <= std {
			sum += c
			n++
		}
	}
	if n == 0 {
		return counts.Max()
	}
	return sum / n
}
