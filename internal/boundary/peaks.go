package boundary

import "notescribe/internal/dsp"

// PeakParams are frame-count windows for PickPeaks.
type PeakParams struct {
	PreMax  int
	PostMax int
	PreAvg  int
	PostAvg int
	Delta   float64
	Wait    int
}

// PickPeaks returns frames i where x[i] is the maximum of
// x[i-PreMax : i+PostMax], at least Delta above the median of
// x[i-PreAvg : i+PostAvg], positive, and more than Wait frames after the
// previously picked peak.
func PickPeaks(x []float64, p PeakParams) []int {
	var peaks []int
	last := -p.Wait - 1
	window := make([]float64, 0, p.PreAvg+p.PostAvg+1)
	for i, v := range x {
		if v <= 0 {
			continue
		}
		if !isLocalMax(x, i, p.PreMax, p.PostMax) {
			continue
		}
		window = window[:0]
		for j := i - p.PreAvg; j <= i+p.PostAvg; j++ {
			if j >= 0 && j < len(x) {
				window = append(window, x[j])
			}
		}
		if v < dsp.Median(window)+p.Delta {
			continue
		}
		if i-last <= p.Wait {
			continue
		}
		peaks = append(peaks, i)
		last = i
	}
	return peaks
}

func isLocalMax(x []float64, i, pre, post int) bool {
	for j := i - pre; j <= i+post; j++ {
		if j < 0 || j >= len(x) || j == i {
			continue
		}
		if x[j] > x[i] {
			return false
		}
	}
	return true
}
