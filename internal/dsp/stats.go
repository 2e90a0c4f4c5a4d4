package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between order statistics. It returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q := math.Min(math.Max(p/100, 0), 1)
	return stat.Quantile(q, stat.LinInterp, sorted, nil)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Max returns the largest value, or 0 for an empty slice.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values)
}

// NormalizeMax scales a copy of values so its maximum is 1. All-zero or empty
// input is returned as zeros.
func NormalizeMax(values []float64) []float64 {
	out := append([]float64(nil), values...)
	peak := Max(out)
	if peak <= 0 {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	floats.Scale(1/peak, out)
	return out
}

// WeightedMedian returns the value at which the cumulative weight first
// reaches half of the total. Values with non-positive weight are ignored.
func WeightedMedian(values, weights []float64) float64 {
	type pair struct{ v, w float64 }
	pairs := make([]pair, 0, len(values))
	var total float64
	for i, v := range values {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		if w <= 0 {
			continue
		}
		pairs = append(pairs, pair{v, w})
		total += w
	}
	if len(pairs) == 0 {
		return Median(values)
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })
	var acc float64
	for _, p := range pairs {
		acc += p.w
		if acc >= total/2 {
			return p.v
		}
	}
	return pairs[len(pairs)-1].v
}

// ParabolicPeak fits a parabola through (−1,a), (0,b), (1,c) and returns the
// offset of its vertex from the centre sample together with the vertex value.
// The offset is clamped to [-0.5, 0.5].
func ParabolicPeak(a, b, c float64) (float64, float64) {
	denom := a - 2*b + c
	if denom == 0 {
		return 0, b
	}
	offset := 0.5 * (a - c) / denom
	offset = math.Max(-0.5, math.Min(0.5, offset))
	return offset, b - 0.25*(a-c)*offset
}
