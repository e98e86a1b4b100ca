package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// meanStd returns the mean and sample standard deviation. A single value has
// zero spread.
func meanStd(xs []float64) (mean, std float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	mean, std = stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// median averages the two middle values for even-length input.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
