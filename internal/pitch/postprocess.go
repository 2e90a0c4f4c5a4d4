package pitch

import (
	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
)

// PostProcess cleans a fused track in three passes: a median filter over
// voiced frames, Savitzky–Golay smoothing of each voiced run in semitone
// space, and removal of isolated single voiced frames. Unvoiced frames are
// never given a pitch. The returned slices are fresh copies.
func PostProcess(f0, conf []float64, cfg analysis.Config) ([]float64, []float64, error) {
	outF0 := medianVoiced(f0, cfg.MedianWindow)
	outConf := append([]float64(nil), conf...)

	for _, run := range voicedRuns(outF0) {
		if run[1]-run[0] < cfg.SmoothWindow {
			continue
		}
		semis := make([]float64, run[1]-run[0])
		for i := range semis {
			semis[i] = analysis.HzToSemitones(outF0[run[0]+i])
		}
		smoothed, err := dsp.SavitzkyGolay(semis, cfg.SmoothWindow, cfg.SmoothOrder)
		if err != nil {
			return nil, nil, err
		}
		for i, s := range smoothed {
			outF0[run[0]+i] = analysis.SemitonesToHz(s)
		}
	}

	for _, run := range voicedRuns(outF0) {
		if run[1]-run[0] == 1 {
			outF0[run[0]] = 0
			outConf[run[0]] = 0
		}
	}
	for i, f := range outF0 {
		if f <= 0 {
			outF0[i] = 0
			outConf[i] = 0
		}
	}
	return outF0, outConf, nil
}

// medianVoiced replaces each voiced frame with the median of the voiced
// frames inside its window.
func medianVoiced(f0 []float64, size int) []float64 {
	out := append([]float64(nil), f0...)
	if size <= 1 {
		return out
	}
	half := size / 2
	window := make([]float64, 0, size)
	for i, f := range f0 {
		if f <= 0 {
			continue
		}
		window = window[:0]
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < len(f0) && f0[j] > 0 {
				window = append(window, f0[j])
			}
		}
		out[i] = dsp.Median(window)
	}
	return out
}

// voicedRuns returns [start, end) index pairs of consecutive voiced frames.
func voicedRuns(f0 []float64) [][2]int {
	var runs [][2]int
	start := -1
	for i, f := range f0 {
		switch {
		case f > 0 && start < 0:
			start = i
		case f <= 0 && start >= 0:
			runs = append(runs, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, [2]int{start, len(f0)})
	}
	return runs
}
