package boundary

import (
	"math"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
)

const (
	// hpssKernel is the median length, in frames and in bins, used to split
	// harmonic from percussive energy.
	hpssKernel = 17
	// logCompression scales magnitudes before log1p in the onset envelope.
	logCompression = 100
)

// HarmonicOnsetStrength returns the log-compressed positive flux of the
// harmonic component of spec, averaged over bins. The harmonic component is
// obtained with a median-filter soft mask.
func HarmonicOnsetStrength(spec [][]float64) []float64 {
	harmonic := HarmonicComponent(spec)
	out := make([]float64, len(harmonic))
	for t := 1; t < len(harmonic); t++ {
		var sum float64
		for k := range harmonic[t] {
			cur := math.Log1p(logCompression * harmonic[t][k])
			prev := math.Log1p(logCompression * harmonic[t-1][k])
			if d := cur - prev; d > 0 {
				sum += d
			}
		}
		if n := len(harmonic[t]); n > 0 {
			out[t] = sum / float64(n)
		}
	}
	return out
}

// HarmonicComponent applies the soft mask H²/(H²+P²) to spec, where H is the
// time-direction median and P the frequency-direction median.
func HarmonicComponent(spec [][]float64) [][]float64 {
	frames := len(spec)
	if frames == 0 {
		return nil
	}
	bins := len(spec[0])

	harm := make([][]float64, frames)
	perc := make([][]float64, frames)
	for t := range spec {
		harm[t] = make([]float64, bins)
		perc[t] = dsp.MedianFilter(spec[t], hpssKernel)
	}
	column := make([]float64, frames)
	for k := 0; k < bins; k++ {
		for t := 0; t < frames; t++ {
			column[t] = spec[t][k]
		}
		filtered := dsp.MedianFilter(column, hpssKernel)
		for t := 0; t < frames; t++ {
			harm[t][k] = filtered[t]
		}
	}

	out := make([][]float64, frames)
	for t := range spec {
		row := make([]float64, bins)
		for k := range row {
			h2 := harm[t][k] * harm[t][k]
			p2 := perc[t][k] * perc[t][k]
			if h2+p2 == 0 {
				continue
			}
			row[k] = spec[t][k] * h2 / (h2 + p2)
		}
		out[t] = row
	}
	return out
}

// SpectralFlux returns Σ max(0, |X_t| − |X_{t−1}|) per frame. Frame 0 is 0.
func SpectralFlux(spec [][]float64) []float64 {
	out := make([]float64, len(spec))
	for t := 1; t < len(spec); t++ {
		var sum float64
		for k, m := range spec[t] {
			if d := m - spec[t-1][k]; d > 0 {
				sum += d
			}
		}
		out[t] = sum
	}
	return out
}

// EnergyDifference returns the rectified first difference of energy.
func EnergyDifference(energy []float64) []float64 {
	out := make([]float64, len(energy))
	for t := 1; t < len(energy); t++ {
		if d := energy[t] - energy[t-1]; d > 0 {
			out[t] = d
		}
	}
	return out
}

// Combine max-normalizes each curve and returns their weighted sum using the
// onset, flux and energy weights from cfg. Curves must share a length; a
// shorter curve contributes zero past its end.
func Combine(cfg analysis.Config, onset, flux, energy []float64) []float64 {
	n := len(onset)
	if len(flux) > n {
		n = len(flux)
	}
	if len(energy) > n {
		n = len(energy)
	}
	out := make([]float64, n)
	add := func(curve []float64, weight float64) {
		norm := dsp.NormalizeMax(curve)
		for i, v := range norm {
			out[i] += weight * v
		}
	}
	add(onset, cfg.OnsetWeight)
	add(flux, cfg.FluxWeight)
	add(energy, cfg.EnergyWeight)
	return out
}
