package pitch

import (
	"context"
	"fmt"
	"time"

	"notescribe/internal/analysis"
	"notescribe/internal/services"
)

// RunIsolated runs est in its own goroutine on a private copy of wave and
// waits at most timeout for it. A panic inside the estimator is recovered and
// reported as an error. On timeout the estimator's context is cancelled and
// its result, if it ever arrives, is discarded. Every returned error carries
// services.ErrEstimator.
func RunIsolated(ctx context.Context, est Estimator, wave analysis.Waveform, cfg analysis.Config, timeout time.Duration) (Track, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		track Track
		err   error
	}
	done := make(chan outcome, 1)
	private := wave.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		track, err := est.Estimate(runCtx, private, cfg)
		done <- outcome{track: track, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return Track{}, services.Wrap(services.ErrEstimator, "pitch", est.Name(), "estimator failed", out.err)
		}
		if err := checkTrack(out.track); err != nil {
			return Track{}, services.Wrap(services.ErrEstimator, "pitch", est.Name(), "invalid output", err)
		}
		return out.track, nil
	case <-runCtx.Done():
		return Track{}, services.Wrap(services.ErrEstimator, "pitch", est.Name(),
			fmt.Sprintf("no result within %s", timeout), runCtx.Err())
	}
}

// DefaultTimeout bounds a secondary estimator run when no budget is set.
const DefaultTimeout = 30 * time.Second

func checkTrack(t Track) error {
	if len(t.F0) != len(t.Times) || len(t.Confidence) != len(t.Times) {
		return fmt.Errorf("length mismatch: times=%d f0=%d confidence=%d", len(t.Times), len(t.F0), len(t.Confidence))
	}
	for i := 1; i < len(t.Times); i++ {
		if !(t.Times[i] > t.Times[i-1]) {
			return fmt.Errorf("frame times not increasing at %d", i)
		}
	}
	return nil
}
