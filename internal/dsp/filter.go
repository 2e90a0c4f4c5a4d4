package dsp

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Median returns the median of values without modifying them. It returns 0
// for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// MedianFilter applies a centred running median. Windows are truncated at the
// edges rather than padded.
func MedianFilter(x []float64, size int) []float64 {
	out := make([]float64, len(x))
	if size <= 1 {
		copy(out, x)
		return out
	}
	half := size / 2
	window := make([]float64, 0, size)
	for i := range x {
		window = window[:0]
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < len(x) {
				window = append(window, x[j])
			}
		}
		out[i] = Median(window)
	}
	return out
}

// SavitzkyGolayCoefficients returns the smoothing kernel for a centred window
// of the given odd size fitting a polynomial of the given order.
func SavitzkyGolayCoefficients(size, order int) ([]float64, error) {
	if size < 1 || size%2 == 0 {
		return nil, errors.New("savitzky-golay: window must be a positive odd number")
	}
	if order < 0 || order >= size {
		return nil, errors.New("savitzky-golay: order must be in [0, window)")
	}
	half := size / 2
	cols := order + 1
	design := mat.NewDense(size, cols, nil)
	for i := 0; i < size; i++ {
		x := float64(i - half)
		v := 1.0
		for j := 0; j < cols; j++ {
			design.Set(i, j, v)
			v *= x
		}
	}
	var normal mat.Dense
	normal.Mul(design.T(), design)
	var inv mat.Dense
	if err := inv.Inverse(&normal); err != nil {
		return nil, err
	}
	var proj mat.Dense
	proj.Mul(&inv, design.T())
	coeffs := make([]float64, size)
	for i := range coeffs {
		coeffs[i] = proj.At(0, i)
	}
	return coeffs, nil
}

// SavitzkyGolay smooths x with a least-squares polynomial filter. The first
// and last window/2 samples are returned unchanged, as is any input shorter
// than the window.
func SavitzkyGolay(x []float64, size, order int) ([]float64, error) {
	out := append([]float64(nil), x...)
	if size <= 1 || len(x) < size {
		return out, nil
	}
	coeffs, err := SavitzkyGolayCoefficients(size, order)
	if err != nil {
		return nil, err
	}
	half := size / 2
	for i := half; i < len(x)-half; i++ {
		var acc float64
		for j, c := range coeffs {
			acc += c * x[i-half+j]
		}
		out[i] = acc
	}
	return out, nil
}
