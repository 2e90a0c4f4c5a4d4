package pitch

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat/distuv"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
)

const (
	pyinThresholds = 100
	// noTroughWeight scales the vote given to the global minimum when no
	// trough falls under a threshold.
	noTroughWeight = 0.01
	maxCandidates  = 8
	// switchProb is the per-frame probability of toggling between voiced and
	// unvoiced states.
	switchProb = 0.01
	// jumpCost is the log-probability penalty per semitone of pitch movement
	// between consecutive voiced frames.
	jumpCost = 0.35
	maxJump  = 24
)

// PYIN is a probabilistic YIN estimator. Each frame's cumulative mean
// normalized difference function is thresholded at many levels weighted by a
// Beta(2,18) prior, and the resulting period candidates are decoded with a
// Viterbi pass that penalizes pitch jumps and voicing changes.
type PYIN struct{}

// Name implements Estimator.
func (PYIN) Name() string { return "pyin" }

type candidate struct {
	f0   float64
	prob float64
}

// Estimate implements Estimator. Frames are centred on multiples of
// cfg.HopLength, matching the rest of the analysis grid.
func (PYIN) Estimate(ctx context.Context, wave analysis.Waveform, cfg analysis.Config) (Track, error) {
	sr := float64(wave.SampleRate)
	frames := dsp.FrameCount(len(wave.Samples), cfg.HopLength)
	track := newTrack(frames)
	copy(track.Times, dsp.FrameTimes(frames, cfg.HopLength, wave.SampleRate))
	if frames == 0 {
		return track, nil
	}

	size := cfg.FrameLength
	window := size / 2
	tauMax := int(math.Ceil(sr / cfg.PitchMinHz))
	if tauMax > size-window-1 {
		tauMax = size - window - 1
	}
	tauMin := int(math.Floor(sr / cfg.PitchMaxHz))
	if tauMin < 2 {
		tauMin = 2
	}

	prior := thresholdPrior()
	diff := newDifference(size, window)
	cands := make([][]candidate, frames)
	voicedProb := make([]float64, frames)
	buf := make([]float64, size)
	half := size / 2

	for i := 0; i < frames; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return Track{}, err
			}
		}
		start := i*cfg.HopLength - half
		for k := range buf {
			idx := start + k
			if idx >= 0 && idx < len(wave.Samples) {
				buf[k] = wave.Samples[idx]
			} else {
				buf[k] = 0
			}
		}
		cmnd := cumulativeMeanNormalized(diff.compute(buf, tauMax))
		cands[i] = frameCandidates(cmnd, tauMin, tauMax, prior, sr)
		for _, c := range cands[i] {
			voicedProb[i] += c.prob
		}
	}

	path := viterbi(cands, voicedProb)
	for i, state := range path {
		if state < 0 {
			continue
		}
		track.F0[i] = cands[i][state].f0
		track.Confidence[i] = math.Min(1, voicedProb[i])
	}
	return track, nil
}

// thresholdPrior returns the probability mass of each threshold k/100 under
// Beta(2,18).
func thresholdPrior() []float64 {
	beta := distuv.Beta{Alpha: 2, Beta: 18}
	out := make([]float64, pyinThresholds)
	prev := 0.0
	for k := range out {
		cdf := beta.CDF(float64(k+1) / pyinThresholds)
		out[k] = cdf - prev
		prev = cdf
	}
	return out
}

// difference computes the YIN difference function
// d(τ) = Σ_{j<W} (x[j] − x[j+τ])² through FFT cross-correlation.
type difference struct {
	size   int
	window int
	plan   *fourier.FFT
	padded []float64
	head   []float64
	out    []float64
}

func newDifference(size, window int) *difference {
	n := 2 * size
	return &difference{
		size:   size,
		window: window,
		plan:   fourier.NewFFT(n),
		padded: make([]float64, n),
		head:   make([]float64, n),
		out:    make([]float64, n),
	}
}

func (d *difference) compute(x []float64, tauMax int) []float64 {
	n := len(d.padded)
	copy(d.padded, x)
	for i := len(x); i < n; i++ {
		d.padded[i] = 0
	}
	for i := range d.head {
		if i < d.window {
			d.head[i] = x[i]
		} else {
			d.head[i] = 0
		}
	}
	fx := d.plan.Coefficients(nil, d.padded)
	fh := d.plan.Coefficients(nil, d.head)
	for k := range fx {
		fx[k] *= complex(real(fh[k]), -imag(fh[k]))
	}
	corr := d.plan.Sequence(d.out, fx)
	scale := 1 / float64(n)

	// prefix[i] = Σ_{j<i} x[j]²
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v*v
	}
	energyHead := prefix[d.window]
	out := make([]float64, tauMax+1)
	for tau := 0; tau <= tauMax; tau++ {
		shifted := prefix[tau+d.window] - prefix[tau]
		v := energyHead + shifted - 2*corr[tau]*scale
		if v < 0 {
			v = 0
		}
		out[tau] = v
	}
	return out
}

// cumulativeMeanNormalized returns d'(τ) with d'(0) = 1. A zero running sum
// yields 1, so silent frames never produce troughs.
func cumulativeMeanNormalized(d []float64) []float64 {
	out := make([]float64, len(d))
	if len(d) == 0 {
		return out
	}
	out[0] = 1
	var running float64
	for tau := 1; tau < len(d); tau++ {
		running += d[tau]
		if running <= 1e-12 {
			out[tau] = 1
			continue
		}
		out[tau] = d[tau] * float64(tau) / running
	}
	return out
}

func frameCandidates(cmnd []float64, tauMin, tauMax int, prior []float64, sr float64) []candidate {
	var troughs []int
	for tau := tauMin; tau < tauMax && tau+1 < len(cmnd); tau++ {
		if cmnd[tau] < cmnd[tau-1] && cmnd[tau] <= cmnd[tau+1] {
			troughs = append(troughs, tau)
		}
	}
	if len(troughs) == 0 {
		return nil
	}
	globalMin := troughs[0]
	for _, tau := range troughs {
		if cmnd[tau] < cmnd[globalMin] {
			globalMin = tau
		}
	}

	mass := make(map[int]float64, len(troughs))
	for k, p := range prior {
		threshold := float64(k+1) / pyinThresholds
		picked := -1
		for _, tau := range troughs {
			if cmnd[tau] < threshold {
				picked = tau
				break
			}
		}
		if picked < 0 {
			mass[globalMin] += p * noTroughWeight
			continue
		}
		mass[picked] += p
	}

	out := make([]candidate, 0, len(mass))
	for _, tau := range troughs {
		p, ok := mass[tau]
		if !ok || p <= 0 {
			continue
		}
		offset, _ := dsp.ParabolicPeak(cmnd[tau-1], cmnd[tau], cmnd[tau+1])
		period := float64(tau) + offset
		if period <= 0 {
			continue
		}
		out = append(out, candidate{f0: sr / period, prob: p})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].prob > out[j].prob })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// viterbi returns, per frame, the index of the chosen candidate or -1 for the
// unvoiced state.
func viterbi(cands [][]candidate, voicedProb []float64) []int {
	frames := len(cands)
	path := make([]int, frames)
	if frames == 0 {
		return path
	}
	const floor = 1e-12
	logSwitch := math.Log(switchProb)
	logStay := math.Log(1 - switchProb)

	emission := func(i, s int) float64 {
		if s < 0 {
			return math.Log(math.Max(1-voicedProb[i], floor))
		}
		return math.Log(math.Max(cands[i][s].prob, floor))
	}

	// score[i][0] is the unvoiced state; score[i][s+1] is candidate s.
	score := make([][]float64, frames)
	back := make([][]int, frames)
	score[0] = make([]float64, len(cands[0])+1)
	back[0] = make([]int, len(cands[0])+1)
	for s := -1; s < len(cands[0]); s++ {
		score[0][s+1] = emission(0, s)
	}
	for i := 1; i < frames; i++ {
		n := len(cands[i]) + 1
		score[i] = make([]float64, n)
		back[i] = make([]int, n)
		for s := -1; s < len(cands[i]); s++ {
			best := math.Inf(-1)
			bestPrev := -1
			for p := -1; p < len(cands[i-1]); p++ {
				v := score[i-1][p+1] + transition(cands[i-1], p, cands[i], s, logSwitch, logStay)
				if v > best {
					best = v
					bestPrev = p
				}
			}
			score[i][s+1] = best + emission(i, s)
			back[i][s+1] = bestPrev
		}
	}

	last := frames - 1
	state := -1
	best := math.Inf(-1)
	for s := -1; s < len(cands[last]); s++ {
		if v := score[last][s+1]; v > best {
			best = v
			state = s
		}
	}
	for i := last; i >= 0; i-- {
		path[i] = state
		state = back[i][state+1]
	}
	return path
}

func transition(prev []candidate, p int, cur []candidate, s int, logSwitch, logStay float64) float64 {
	switch {
	case p < 0 && s < 0:
		return logStay
	case p < 0 || s < 0:
		return logSwitch
	}
	jump := math.Abs(analysis.HzToSemitones(cur[s].f0) - analysis.HzToSemitones(prev[p].f0))
	if jump > maxJump {
		return math.Inf(-1)
	}
	return logStay - jumpCost*jump
}
