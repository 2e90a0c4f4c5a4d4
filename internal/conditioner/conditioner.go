// Package conditioner normalizes and denoises the decoded waveform before any
// analysis runs.
package conditioner

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
	"notescribe/internal/logging"
)

// ErrDenoiseUnavailable reports that spectral gating could not run on the input.
var ErrDenoiseUnavailable = errors.New("denoise unavailable")

// noiseFloorMargin is the minimum distance (as an RMS ratio) between the quiet
// frames and the median frame for a noise floor to be considered separable.
const noiseFloorMargin = 0.1

// residueLevel is the sample magnitude below which resynthesized output is
// treated as exact silence.
const residueLevel = 1e-9

// Result is the conditioned waveform plus any non-fatal warning raised while
// producing it.
type Result struct {
	Waveform analysis.Waveform
	Peak     float64
	Denoised bool
	Warning  error
}

// Condition peak-normalizes the waveform and applies stationary noise gating.
// The returned waveform never aliases the input. Denoise failures are
// reported through Result.Warning and fall back to the normalized signal.
func Condition(wave analysis.Waveform, cfg analysis.Config, logger *slog.Logger) Result {
	logger = logging.NewComponentLogger(logger, "conditioner")
	normalized, peak := Normalize(wave, cfg.NormalizePeak)
	res := Result{Waveform: normalized, Peak: peak}
	if !cfg.Denoise {
		logger.Debug("denoise disabled")
		return res
	}

	denoised, applied, err := Denoise(normalized, cfg)
	if err != nil {
		logging.WarnWithContext(logger, "denoise failed; using normalized signal", "denoise_fallback",
			logging.Error(err),
			logging.String(logging.FieldImpact, "background noise is not suppressed"),
		)
		res.Warning = err
		return res
	}
	res.Waveform = denoised
	res.Denoised = applied
	logger.Debug("signal conditioned",
		logging.Float64("input_peak", peak),
		logging.Bool("denoised", applied),
	)
	return res
}

// Normalize scales a copy of the waveform so its absolute peak equals target.
// Silent input is copied unchanged.
func Normalize(wave analysis.Waveform, target float64) (analysis.Waveform, float64) {
	out := wave.Clone()
	var peak float64
	for _, s := range out.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return out, 0
	}
	gain := target / peak
	for i := range out.Samples {
		out.Samples[i] *= gain
	}
	return out, peak
}

// Denoise applies spectral gating using a noise profile taken from the
// quietest frames. The bool result reports whether gating was applied; it is
// false when no separable noise floor exists.
func Denoise(wave analysis.Waveform, cfg analysis.Config) (analysis.Waveform, bool, error) {
	size := cfg.FrameLength
	hop := size / 4
	if hop < 1 {
		hop = 1
	}
	if len(wave.Samples) < size {
		return wave, false, fmt.Errorf("%w: %d samples is shorter than one %d-sample frame", ErrDenoiseUnavailable, len(wave.Samples), size)
	}

	spec := dsp.STFT(wave.Samples, size, hop)
	mags := dsp.Magnitudes(spec)
	rms := dsp.FrameRMS(wave.Samples, size, hop)

	quiet := quietestFrames(rms, cfg.NoiseQuantile)
	var quietLevel float64
	for _, idx := range quiet {
		quietLevel += rms[idx]
	}
	quietLevel /= float64(len(quiet))
	median := dsp.Median(rms)
	if !(quietLevel < median*noiseFloorMargin) {
		return wave, false, nil
	}

	bins := len(mags[0])
	profile := make([]float64, bins)
	for _, idx := range quiet {
		for k, m := range mags[idx] {
			profile[k] += m
		}
	}
	for k := range profile {
		profile[k] = profile[k] / float64(len(quiet)) * cfg.NoiseGateFactor
	}

	for i, row := range spec {
		for k := range row {
			m := mags[i][k]
			if m == 0 {
				continue
			}
			ratio := profile[k] / m
			gain := 1 - ratio*ratio
			if gain <= 0 {
				row[k] = 0
				continue
			}
			row[k] *= complex(math.Sqrt(gain), 0)
		}
	}

	samples := dsp.ISTFT(spec, size, hop, len(wave.Samples))
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return wave, false, fmt.Errorf("%w: non-finite sample at %d after resynthesis", ErrDenoiseUnavailable, i)
		}
		if math.Abs(s) < residueLevel {
			samples[i] = 0
		}
	}
	return analysis.Waveform{Samples: samples, SampleRate: wave.SampleRate}, true, nil
}

func quietestFrames(rms []float64, quantile float64) []int {
	idx := make([]int, len(rms))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return rms[idx[a]] < rms[idx[b]] })
	n := int(math.Ceil(float64(len(rms)) * quantile))
	if n < 1 {
		n = 1
	}
	if n > len(idx) {
		n = len(idx)
	}
	return idx[:n]
}
