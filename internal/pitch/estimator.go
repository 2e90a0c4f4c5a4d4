// Package pitch estimates a fused fundamental-frequency track for a
// conditioned waveform.
//
// Two independent estimators contribute: a probabilistic YIN tracker that runs
// natively on the analysis hop grid, and a secondary estimator (an in-process
// harmonic-template classifier or an external command) that may use its own
// hop. The secondary estimator always runs isolated under a deadline; when it
// fails the tracker degrades to the primary estimate and records a warning.
package pitch

import (
	"context"

	"notescribe/internal/analysis"
)

// Track is a per-frame pitch estimate. F0 is 0 on unvoiced frames and
// Confidence lies in [0,1].
type Track struct {
	Times      []float64
	F0         []float64
	Confidence []float64
}

// Len returns the number of frames.
func (t Track) Len() int {
	return len(t.Times)
}

// Estimator produces a pitch track for a waveform. Implementations must honour
// ctx cancellation and must not modify wave.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, wave analysis.Waveform, cfg analysis.Config) (Track, error)
}

func newTrack(n int) Track {
	return Track{
		Times:      make([]float64, n),
		F0:         make([]float64, n),
		Confidence: make([]float64, n),
	}
}
