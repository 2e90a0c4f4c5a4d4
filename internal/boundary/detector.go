// Package boundary finds the onset and offset instants that split a
// conditioned waveform into candidate note segments.
package boundary

import (
	"log/slog"
	"math"
	"sort"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
	"notescribe/internal/logging"
)

// silenceRatio scales cfg.EnergyFloor down to the frame energy treated as
// silence when walking onsets back and searching for offsets.
const silenceRatio = 0.1

// Result holds the pruned boundary set together with the raw onset and offset
// candidates that produced it.
type Result struct {
	Boundaries []float64
	Onsets     []float64
	Offsets    []float64
	// Novelty is the combined, weighted onset curve on the hop grid.
	Novelty []float64
}

// Detect computes segment boundaries for wave. The returned boundary slice
// always has at least two entries, starts at 0, ends at the waveform
// duration, and is strictly increasing.
func Detect(wave analysis.Waveform, cfg analysis.Config, logger *slog.Logger) Result {
	logger = logging.NewComponentLogger(logger, "boundary")
	duration := wave.Duration()
	if len(wave.Samples) == 0 || wave.SampleRate <= 0 {
		return Result{Boundaries: []float64{0, math.Max(duration, 0)}}
	}

	hop := cfg.HopLength
	spec := dsp.Magnitudes(dsp.STFT(wave.Samples, cfg.FrameLength, hop))
	energy := dsp.FrameRMS(wave.Samples, cfg.FrameLength, hop)
	times := dsp.FrameTimes(len(energy), hop, wave.SampleRate)

	novelty := Combine(cfg,
		HarmonicOnsetStrength(spec),
		SpectralFlux(spec),
		EnergyDifference(energy),
	)

	peaks := PickPeaks(novelty, PeakParams{
		PreMax:  cfg.PeakPreMax,
		PostMax: cfg.PeakPostMax,
		PreAvg:  cfg.PeakPreAvg,
		PostAvg: cfg.PeakPostAvg,
		Delta:   cfg.PeakDelta,
		Wait:    cfg.PeakWait,
	})
	silence := cfg.EnergyFloor * silenceRatio
	if cfg.Backtrack {
		peaks = Backtrack(peaks, energy, silence)
	}
	onsets := framesToTimes(peaks, times)
	offsets := framesToTimes(OffsetFrames(energy, cfg.OffsetPercentile, silence), times)

	candidates := make([]float64, 0, len(onsets)+len(offsets)+2)
	candidates = append(candidates, 0, duration)
	candidates = append(candidates, onsets...)
	candidates = append(candidates, offsets...)
	boundaries := Prune(candidates, duration, cfg.MinGapSeconds)

	logger.Debug("boundaries detected",
		logging.Int("onsets", len(onsets)),
		logging.Int("offsets", len(offsets)),
		logging.Int("boundaries", len(boundaries)),
		logging.Float64("duration_seconds", duration),
	)
	return Result{Boundaries: boundaries, Onsets: onsets, Offsets: offsets, Novelty: novelty}
}

// Prune sorts and de-duplicates candidates, clamps them to [0, duration], and
// walks left to right keeping a boundary only when it lies at least minGap
// after the previously kept one. 0 and duration are always kept, so the
// final pair may be closer than minGap.
func Prune(candidates []float64, duration, minGap float64) []float64 {
	if duration <= 0 {
		return []float64{0, 0}
	}
	sorted := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		if math.IsNaN(c) || c <= 0 || c >= duration {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.Float64s(sorted)

	out := []float64{0}
	for _, c := range sorted {
		last := out[len(out)-1]
		if c <= last || c-last < minGap {
			continue
		}
		out = append(out, c)
	}
	return append(out, duration)
}

// Backtrack moves each onset frame to the closest preceding frame at which
// energy stops falling, so segments begin at the attack rather than its peak.
// The walk never enters frames at or below the silence level.
func Backtrack(frames []int, energy []float64, silence float64) []int {
	out := make([]int, 0, len(frames))
	seen := make(map[int]struct{}, len(frames))
	for _, f := range frames {
		j := f
		if j >= len(energy) {
			j = len(energy) - 1
		}
		for j > 0 && energy[j-1] < energy[j] && energy[j-1] > silence {
			j--
		}
		if _, ok := seen[j]; ok {
			continue
		}
		seen[j] = struct{}{}
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// OffsetFrames flags frames whose energy is strictly below the previous frame,
// not above the next, and no higher than the given global percentile. The
// first frame to fall to the silence level is always flagged; frames that
// follow an already silent frame never are.
func OffsetFrames(energy []float64, percentile, silence float64) []int {
	if len(energy) < 3 {
		return nil
	}
	floor := dsp.Percentile(energy, percentile)
	var out []int
	for i := 1; i < len(energy)-1; i++ {
		e, prev := energy[i], energy[i-1]
		if prev <= silence {
			continue
		}
		if e <= silence || (e < prev && e <= energy[i+1] && e <= floor) {
			out = append(out, i)
		}
	}
	return out
}

func framesToTimes(frames []int, times []float64) []float64 {
	out := make([]float64, 0, len(frames))
	for _, f := range frames {
		if f >= 0 && f < len(times) {
			out = append(out, times[f])
		}
	}
	return out
}
