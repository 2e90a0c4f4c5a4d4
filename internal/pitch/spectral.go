package pitch

import (
	"context"
	"math"
	"sort"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
)

const (
	salienceCents    = 20
	harmonicCount    = 10
	harmonicDecay    = 0.8
	toleranceCents   = 25
	matchCents       = 50
	maxSpectralPeaks = 20
	// peakRelativeFloor discards spectral peaks more than ~26 dB below the
	// frame maximum, which also drops Hann sidelobes.
	peakRelativeFloor = 0.05
	// amplitudeFloor is the smallest sinusoid amplitude treated as signal.
	amplitudeFloor = 1e-3
)

// Spectral is a harmonic-template pitch classifier. Each frame's spectral
// peaks are scored against a 20-cent grid of fundamental candidates using
// decaying harmonic weights; confidence is the share of peak energy explained
// by the winning harmonic comb.
type Spectral struct {
	// HopSeconds is the native frame step; cfg.SecondaryHopSeconds is used
	// when zero.
	HopSeconds float64
}

// Name implements Estimator.
func (Spectral) Name() string { return "spectral" }

type spectralPeak struct {
	freq float64
	amp  float64
}

// Estimate implements Estimator. The returned track is on the estimator's
// native grid; callers resample it with Resample.
func (s Spectral) Estimate(ctx context.Context, wave analysis.Waveform, cfg analysis.Config) (Track, error) {
	hopSeconds := s.HopSeconds
	if hopSeconds <= 0 {
		hopSeconds = cfg.SecondaryHopSeconds
	}
	hop := int(math.Round(hopSeconds * float64(wave.SampleRate)))
	if hop < 1 {
		hop = 1
	}
	size := cfg.FrameLength
	spec := dsp.STFT(wave.Samples, size, hop)
	track := newTrack(len(spec))
	copy(track.Times, dsp.FrameTimes(len(spec), hop, wave.SampleRate))

	grid := candidateGrid(cfg.PitchMinHz, cfg.PitchMaxHz)
	nyquist := float64(wave.SampleRate) / 2
	mags := make([]float64, size/2+1)
	// A Hann window sums to size/2, so a unit sinusoid peaks at size/4.
	floor := amplitudeFloor * float64(size) / 4

	for i, row := range spec {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return Track{}, err
			}
		}
		for k, c := range row {
			mags[k] = math.Hypot(real(c), imag(c))
		}
		peaks := findPeaks(mags, size, wave.SampleRate, floor)
		if len(peaks) == 0 {
			continue
		}
		f0, conf := classify(peaks, grid, nyquist)
		if f0 < cfg.PitchMinHz || f0 > cfg.PitchMaxHz {
			continue
		}
		track.F0[i] = f0
		track.Confidence[i] = conf
	}
	return track, nil
}

func candidateGrid(minHz, maxHz float64) []float64 {
	var grid []float64
	step := math.Pow(2, salienceCents/1200.0)
	for f := minHz; f <= maxHz; f *= step {
		grid = append(grid, f)
	}
	return grid
}

func findPeaks(mags []float64, size, sampleRate int, floor float64) []spectralPeak {
	top := dsp.Max(mags)
	if top < floor {
		return nil
	}
	threshold := math.Max(top*peakRelativeFloor, floor)
	var peaks []spectralPeak
	for k := 1; k < len(mags)-1; k++ {
		m := mags[k]
		if m < threshold || m <= mags[k-1] || m < mags[k+1] {
			continue
		}
		offset, amp := dsp.ParabolicPeak(mags[k-1], m, mags[k+1])
		peaks = append(peaks, spectralPeak{
			freq: (float64(k) + offset) * float64(sampleRate) / float64(size),
			amp:  amp,
		})
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].amp > peaks[j].amp })
	if len(peaks) > maxSpectralPeaks {
		peaks = peaks[:maxSpectralPeaks]
	}
	return peaks
}

func cents(a, b float64) float64 {
	return 1200 * math.Log2(a/b)
}

func classify(peaks []spectralPeak, grid []float64, nyquist float64) (float64, float64) {
	best, bestScore := 0.0, 0.0
	for _, f := range grid {
		var score float64
		weight := 1.0
		for h := 1; h <= harmonicCount; h++ {
			target := f * float64(h)
			if target >= nyquist {
				break
			}
			for _, p := range peaks {
				c := cents(p.freq, target)
				if math.Abs(c) > 3*toleranceCents {
					continue
				}
				score += weight * p.amp * math.Exp(-(c*c)/(2*toleranceCents*toleranceCents))
			}
			weight *= harmonicDecay
		}
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	if best == 0 {
		return 0, 0
	}

	var num, den, matched, total float64
	for _, p := range peaks {
		energy := p.amp * p.amp
		total += energy
		h := math.Round(p.freq / best)
		if h < 1 || h > harmonicCount {
			continue
		}
		if math.Abs(cents(p.freq, best*h)) > matchCents {
			continue
		}
		matched += energy
		num += p.amp * p.freq / h
		den += p.amp
	}
	if den == 0 || total == 0 {
		return 0, 0
	}
	conf := matched / total
	return num / den, math.Max(0, math.Min(1, conf))
}
