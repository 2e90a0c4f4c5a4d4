package pitch

import (
	"context"
	"log/slog"
	"time"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
	"notescribe/internal/logging"
)

// Tracker fuses a primary estimator with an optional isolated secondary one
// and builds the analysis FrameSeries.
type Tracker struct {
	Primary   Estimator
	Secondary Estimator
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewTracker returns a tracker using PYIN as primary and secondary as the
// isolated estimator. secondary may be nil for a primary-only tracker.
func NewTracker(secondary Estimator, timeout time.Duration, logger *slog.Logger) Tracker {
	return Tracker{Primary: PYIN{}, Secondary: secondary, Timeout: timeout, Logger: logger}
}

// Track estimates pitch for wave on the cfg.HopLength grid. Secondary
// estimator failures are returned as warnings, never as the error; the error
// is non-nil only when the primary estimator fails or ctx is cancelled.
func (t Tracker) Track(ctx context.Context, wave analysis.Waveform, cfg analysis.Config) (analysis.FrameSeries, []error, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(t.Logger, "pitch"))
	primary := t.Primary
	if primary == nil {
		primary = PYIN{}
	}

	a, err := primary.Estimate(ctx, wave, cfg)
	if err != nil {
		return analysis.FrameSeries{}, nil, err
	}

	var warnings []error
	b := newTrack(a.Len())
	copy(b.Times, a.Times)
	if t.Secondary != nil {
		native, err := RunIsolated(ctx, t.Secondary, wave, cfg, t.Timeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return analysis.FrameSeries{}, nil, ctxErr
			}
			logging.WarnWithContext(logger, "secondary pitch estimator unavailable; using primary only", "estimator_fallback",
				logging.String("estimator", t.Secondary.Name()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "pitch relies on a single estimator"),
				logging.String(logging.FieldErrorHint, "check the estimator command or raise estimator.timeout_seconds"),
			)
			warnings = append(warnings, err)
		} else {
			b = Resample(native, a.Times, cfg.LinearResample)
		}
	}

	fused := Fuse(a, b, cfg.FusionThreshold, cfg.FoldOctaves)
	f0, conf, err := PostProcess(fused.F0, fused.Confidence, cfg)
	if err != nil {
		return analysis.FrameSeries{}, warnings, err
	}

	energy := make([]float64, fused.Len())
	copy(energy, dsp.FrameRMS(wave.Samples, cfg.FrameLength, cfg.HopLength))
	series := analysis.FrameSeries{
		Times:      fused.Times,
		F0:         f0,
		Confidence: conf,
		Energy:     energy,
		Hop:        cfg.HopLength,
		SampleRate: wave.SampleRate,
	}

	voiced := 0
	for _, f := range f0 {
		if f > 0 {
			voiced++
		}
	}
	logger.Debug("pitch tracked",
		logging.Int("frames", series.Len()),
		logging.Int("voiced_frames", voiced),
		logging.Bool("secondary_used", t.Secondary != nil && len(warnings) == 0),
	)
	return series, warnings, nil
}
