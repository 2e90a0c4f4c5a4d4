// Package segment resolves each boundary interval to a single dominant pitch
// and loudness, or rejects it.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
	"notescribe/internal/logging"
)

// Rejection reasons. Resolve wraps one of these; callers test with errors.Is.
var (
	ErrTooShort      = errors.New("segment shorter than minimum")
	ErrLowEnergy     = errors.New("segment energy below noise floor")
	ErrTooFewFrames  = errors.New("too few valid pitch frames")
	ErrLowConfidence = errors.New("dominant pitch confidence below cutoff")
)

// Resolve picks the dominant pitch and volume of frames in [start, end).
func Resolve(frames analysis.FrameSeries, start, end float64, cfg analysis.Config) (analysis.Segment, error) {
	if end-start < cfg.MinSegmentSeconds {
		return analysis.Segment{}, fmt.Errorf("%w: %.3fs", ErrTooShort, end-start)
	}
	lo, hi := frames.Range(start, end)
	if hi <= lo {
		return analysis.Segment{}, fmt.Errorf("%w: no frames", ErrTooFewFrames)
	}

	energy := frames.Energy[lo:hi]
	peak, mean := dsp.Max(energy), dsp.Mean(energy)
	if peak < cfg.EnergyFloor || mean < cfg.EnergyFloor/2 {
		return analysis.Segment{}, fmt.Errorf("%w: peak %.4f mean %.4f", ErrLowEnergy, peak, mean)
	}

	var semis, weights []float64
	for i := lo; i < hi; i++ {
		if !validFrame(frames, i, cfg) {
			continue
		}
		semis = append(semis, analysis.HzToSemitones(frames.F0[i]))
		weights = append(weights, frames.Confidence[i])
	}
	if len(semis) < cfg.MinValidFrames || len(semis) == 0 {
		return analysis.Segment{}, fmt.Errorf("%w: %d of %d", ErrTooFewFrames, len(semis), hi-lo)
	}

	pitch, confidence := dominantPitch(semis, weights, cfg)
	if confidence < cfg.SegmentConfidenceCutoff {
		return analysis.Segment{}, fmt.Errorf("%w: %.2f", ErrLowConfidence, confidence)
	}

	return analysis.Segment{
		Start:      start,
		End:        end,
		PitchHz:    analysis.SemitonesToHz(pitch),
		Confidence: confidence,
		Volume:     Volume(dsp.Percentile(energy, cfg.VolumePercentile), cfg),
	}, nil
}

// Trim narrows seg to the frames that carry a usable pitch. The start moves to
// the first such frame and the end to halfway between the last one and the
// frame after it. A segment with fewer than two such frames is returned as is.
func Trim(seg analysis.Segment, frames analysis.FrameSeries, cfg analysis.Config) analysis.Segment {
	lo, hi := frames.Range(seg.Start, seg.End)
	first, last := -1, -1
	for i := lo; i < hi; i++ {
		if !validFrame(frames, i, cfg) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 || last <= first {
		return seg
	}
	out := seg
	out.Start = math.Max(seg.Start, frames.Times[first])
	if last+1 < frames.Len() {
		out.End = math.Min(seg.End, (frames.Times[last]+frames.Times[last+1])/2)
	}
	if !(out.End > out.Start) {
		return seg
	}
	return out
}

func validFrame(frames analysis.FrameSeries, i int, cfg analysis.Config) bool {
	f0, conf := frames.F0[i], frames.Confidence[i]
	return f0 >= cfg.PitchMinHz && f0 <= cfg.PitchMaxHz && conf > cfg.ConfidenceCutoff
}

func dominantPitch(semis, weights []float64, cfg analysis.Config) (float64, float64) {
	if len(semis) < cfg.MinClusterPoints {
		return dsp.WeightedMedian(semis, weights), 1.0
	}
	distinct := make(map[float64]struct{}, len(semis))
	for _, s := range semis {
		distinct[math.Round(s)] = struct{}{}
	}
	k := cfg.MaxClusters
	if len(distinct) < k {
		k = len(distinct)
	}
	best, ok := Dominant(Cluster1D(semis, weights, k))
	if !ok {
		return dsp.WeightedMedian(semis, weights), 1.0
	}
	return best.Centroid, float64(best.Size) / float64(len(semis))
}

// Volume maps an energy value linearly from [VolumeEnergyLow,
// VolumeEnergyHigh] onto [MinVolume, MaxVolume], clipping outside the range.
func Volume(energy float64, cfg analysis.Config) float64 {
	span := cfg.VolumeEnergyHigh - cfg.VolumeEnergyLow
	frac := 0.0
	if span > 0 {
		frac = (energy - cfg.VolumeEnergyLow) / span
	}
	frac = math.Max(0, math.Min(1, frac))
	return analysis.MinVolume + frac*(analysis.MaxVolume-analysis.MinVolume)
}

// ResolveAll resolves every interval between consecutive boundaries, trims
// each accepted segment to its pitched frames and returns them in time order. An empty result is normal for
// recordings without pitched content.
func ResolveAll(frames analysis.FrameSeries, boundaries []float64, cfg analysis.Config, logger *slog.Logger) []analysis.Segment {
	logger = logging.NewComponentLogger(logger, "segment")
	var out []analysis.Segment
	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]
		seg, err := Resolve(frames, start, end, cfg)
		if err != nil {
			logger.Debug("segment rejected",
				logging.Float64("start", start),
				logging.Float64("end", end),
				logging.String("reason", err.Error()),
			)
			continue
		}
		out = append(out, Trim(seg, frames, cfg))
	}
	logger.Debug("segments resolved",
		logging.Int("candidates", max(len(boundaries)-1, 0)),
		logging.Int("accepted", len(out)),
	)
	return out
}
