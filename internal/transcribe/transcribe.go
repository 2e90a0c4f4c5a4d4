// Package transcribe runs the full monophonic transcription pipeline:
// conditioning, boundary detection, pitch tracking, segment resolution and
// note consolidation.
//
// An Analyzer holds only immutable configuration and collaborators, so a
// single value may serve concurrent Analyze calls. Every call allocates its
// own buffers and shares nothing with other calls.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"notescribe/internal/analysis"
	"notescribe/internal/boundary"
	"notescribe/internal/conditioner"
	"notescribe/internal/consolidate"
	"notescribe/internal/logging"
	"notescribe/internal/notes"
	"notescribe/internal/pitch"
	"notescribe/internal/segment"
	"notescribe/internal/services"
)

// Stage names used for log correlation and error context.
const (
	StageInput       = "input"
	StageCondition   = "conditioning"
	StageBoundaries  = "boundaries"
	StagePitch       = "pitch"
	StageSegments    = "segments"
	StageConsolidate = "consolidation"
)

// Warning is a non-fatal problem recorded while producing a result.
type Warning struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Result is the outcome of one analysis.
type Result struct {
	RequestID string        `json:"request_id"`
	Notes     []notes.Event `json:"notes"`
	Warnings  []Warning     `json:"warnings,omitempty"`
	// Boundaries is the pruned boundary set the segments were resolved from.
	Boundaries []float64     `json:"-"`
	Frames     int           `json:"-"`
	Duration   float64       `json:"-"`
	Elapsed    time.Duration `json:"-"`
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithSecondary replaces the isolated secondary pitch estimator. Passing nil
// runs the primary estimator alone.
func WithSecondary(est pitch.Estimator) Option {
	return func(a *Analyzer) {
		a.secondary = est
	}
}

// WithEstimatorTimeout bounds the secondary estimator run.
func WithEstimatorTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRequestID fixes the correlation identifier instead of generating one.
func WithRequestID(id string) Option {
	return func(a *Analyzer) {
		a.requestID = id
	}
}

// Analyzer turns waveforms into note events.
type Analyzer struct {
	cfg       analysis.Config
	logger    *slog.Logger
	secondary pitch.Estimator
	timeout   time.Duration
	requestID string
}

// New validates cfg and returns an Analyzer. The default secondary estimator
// is the harmonic spectral classifier with pitch.DefaultTimeout.
func New(cfg analysis.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "validate", "invalid analysis configuration", err)
	}
	a := &Analyzer{
		cfg:       cfg,
		secondary: pitch.Spectral{},
		timeout:   pitch.DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	return a, nil
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() analysis.Config {
	return a.cfg
}

// Analyze is a convenience wrapper around New(cfg, opts...).Analyze.
func Analyze(ctx context.Context, samples []float64, sampleRate int, cfg analysis.Config, opts ...Option) (Result, error) {
	a, err := New(cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	return a.Analyze(ctx, analysis.Waveform{Samples: samples, SampleRate: sampleRate})
}

// Analyze transcribes wave. Only invalid input, invalid configuration and
// context cancellation produce an error; an input without pitched content
// yields an empty note list. The caller's waveform is never modified.
func (a *Analyzer) Analyze(ctx context.Context, wave analysis.Waveform) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	rid := a.requestID
	if rid == "" {
		rid = uuid.NewString()
	}
	ctx = services.WithRequestID(ctx, rid)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(a.logger, "transcribe"))
	res := Result{RequestID: rid, Notes: []notes.Event{}}

	if err := a.validateInput(wave); err != nil {
		return res, err
	}
	res.Duration = wave.Duration()
	logger.Info("analysis started",
		logging.Int("samples", len(wave.Samples)),
		logging.Int("sample_rate", wave.SampleRate),
		logging.Float64("duration_seconds", res.Duration),
		logging.Any("pitch_range_hz", []float64{a.cfg.PitchMinHz, a.cfg.PitchMaxHz}),
	)

	if silent(wave.Samples) {
		logger.Info("input is silent; no notes")
		res.Elapsed = time.Since(started)
		return res, nil
	}

	conditioned := conditioner.Condition(wave, a.cfg, a.stageLogger(ctx, StageCondition))
	if conditioned.Warning != nil {
		res.Warnings = append(res.Warnings, warning(StageCondition, conditioned.Warning))
	}
	signal := conditioned.Waveform
	if err := ctx.Err(); err != nil {
		return res, cancelled(StageCondition, err)
	}

	bounds := boundary.Detect(signal, a.cfg, a.stageLogger(ctx, StageBoundaries))
	res.Boundaries = bounds.Boundaries
	if err := ctx.Err(); err != nil {
		return res, cancelled(StageBoundaries, err)
	}

	tracker := pitch.NewTracker(a.secondary, a.timeout, a.logger)
	frames, estWarnings, err := tracker.Track(services.WithStage(ctx, StagePitch), signal, a.cfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, cancelled(StagePitch, ctxErr)
		}
		return res, services.Wrap(services.ErrTransient, StagePitch, "track", "primary pitch estimator failed", err)
	}
	for _, w := range estWarnings {
		res.Warnings = append(res.Warnings, warning(StagePitch, w))
	}
	res.Frames = frames.Len()

	segs := segment.ResolveAll(frames, bounds.Boundaries, a.cfg, a.stageLogger(ctx, StageSegments))
	final := consolidate.Consolidate(segs, frames, res.Duration, a.cfg, a.stageLogger(ctx, StageConsolidate))

	for _, seg := range final {
		res.Notes = append(res.Notes, notes.FromSegment(seg))
	}
	if err := notes.Validate(res.Notes, a.cfg.MinNoteDurationSeconds); err != nil {
		return res, services.Wrap(services.ErrTransient, StageConsolidate, "validate", "emitted notes violate invariants", err)
	}

	res.Elapsed = time.Since(started)
	logger.Info("analysis completed",
		logging.Int("notes", len(res.Notes)),
		logging.Int("boundaries", len(res.Boundaries)),
		logging.Int("frames", res.Frames),
		logging.Int("warnings", len(res.Warnings)),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (a *Analyzer) validateInput(wave analysis.Waveform) error {
	if wave.SampleRate <= 0 {
		return services.Wrap(services.ErrInput, StageInput, "validate", fmt.Sprintf("sample rate %d is not positive", wave.SampleRate), nil)
	}
	if len(wave.Samples) == 0 {
		return services.Wrap(services.ErrInput, StageInput, "validate", "waveform is empty", nil)
	}
	if len(wave.Samples) < a.cfg.FrameLength {
		return services.Wrap(services.ErrInput, StageInput, "validate",
			fmt.Sprintf("waveform has %d samples, shorter than one %d-sample frame", len(wave.Samples), a.cfg.FrameLength), nil)
	}
	for i, v := range wave.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return services.Wrap(services.ErrInput, StageInput, "validate", fmt.Sprintf("sample %d is not finite", i), nil)
		}
	}
	if err := a.cfg.ValidateForRate(wave.SampleRate); err != nil {
		return services.Wrap(services.ErrConfiguration, StageInput, "validate", "configuration does not fit the sample rate", err)
	}
	return nil
}

func (a *Analyzer) stageLogger(ctx context.Context, stage string) *slog.Logger {
	return logging.WithContext(services.WithStage(ctx, stage), a.logger)
}

func silent(samples []float64) bool {
	for _, v := range samples {
		if v != 0 {
			return false
		}
	}
	return true
}

func warning(stage string, err error) Warning {
	return Warning{Stage: stage, Message: err.Error(), Err: err}
}

func cancelled(stage string, err error) error {
	marker := services.ErrTransient
	if errors.Is(err, context.DeadlineExceeded) {
		marker = services.ErrTimeout
	}
	return services.Wrap(marker, stage, "analyze", "analysis cancelled", err)
}
