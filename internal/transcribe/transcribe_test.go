package transcribe_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"notescribe/internal/analysis"
	"notescribe/internal/notes"
	"notescribe/internal/pitch"
	"notescribe/internal/services"
	"notescribe/internal/testsupport"
	"notescribe/internal/transcribe"
)

type hangingEstimator struct{}

func (hangingEstimator) Name() string { return "hanging" }

func (hangingEstimator) Estimate(ctx context.Context, _ analysis.Waveform, _ analysis.Config) (pitch.Track, error) {
	<-ctx.Done()
	return pitch.Track{}, ctx.Err()
}

func analyze(t *testing.T, samples []float64, opts ...transcribe.Option) transcribe.Result {
	t.Helper()
	res, err := transcribe.Analyze(context.Background(), samples, testsupport.SampleRate, analysis.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if err := notes.Validate(res.Notes, analysis.DefaultConfig().MinNoteDurationSeconds); err != nil {
		t.Fatalf("notes violate invariants: %v", err)
	}
	return res
}

func TestAnalyzeSingleToneYieldsOneNote(t *testing.T) {
	samples := testsupport.Sine(440, 1.0, 0.5)
	res := analyze(t, samples)

	if len(res.Notes) != 1 {
		t.Fatalf("unexpected note count: got %d want 1 (%+v)", len(res.Notes), res.Notes)
	}
	n := res.Notes[0]
	if n.Note != "A4" {
		t.Fatalf("unexpected note: got %q want A4", n.Note)
	}
	if float64(n.Start) > 0.05 {
		t.Fatalf("unexpected start: got %.3f want ~0", n.Start)
	}
	if math.Abs(float64(n.End)-1.0) > 0.05 {
		t.Fatalf("unexpected end: got %.3f want ~1.0", n.End)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id")
	}
	if res.Boundaries[0] != 0 || math.Abs(res.Boundaries[len(res.Boundaries)-1]-res.Duration) > 1e-9 {
		t.Fatalf("unexpected boundaries: %v", res.Boundaries)
	}
}

func TestAnalyzeToneInSilenceKeepsItsEdges(t *testing.T) {
	samples := testsupport.Concat(
		testsupport.Silence(0.5),
		testsupport.Sine(440, 1.0, 0.5),
		testsupport.Silence(0.5),
	)
	res := analyze(t, samples)

	if len(res.Notes) != 1 {
		t.Fatalf("unexpected note count: got %d want 1 (%+v)", len(res.Notes), res.Notes)
	}
	n := res.Notes[0]
	if n.Note != "A4" {
		t.Fatalf("unexpected note: got %q want A4", n.Note)
	}
	if math.Abs(float64(n.Start)-0.5) > 0.05 {
		t.Fatalf("unexpected start: got %.3f want 0.500±0.05", n.Start)
	}
	if math.Abs(float64(n.End)-1.5) > 0.05 {
		t.Fatalf("unexpected end: got %.3f want 1.500±0.05", n.End)
	}
}

func TestAnalyzeSemitoneStepYieldsTwoNotes(t *testing.T) {
	samples := testsupport.Concat(
		testsupport.Sine(329.63, 0.4, 0.5),
		testsupport.Sine(349.23, 0.4, 0.5),
	)
	res := analyze(t, samples)

	if len(res.Notes) != 2 {
		t.Fatalf("unexpected note count: got %d want 2 (%+v)", len(res.Notes), res.Notes)
	}
	if res.Notes[0].Note != "E4" || res.Notes[1].Note != "F4" {
		t.Fatalf("unexpected notes: got %s,%s want E4,F4", res.Notes[0].Note, res.Notes[1].Note)
	}
	if math.Abs(float64(res.Notes[1].Start)-0.4) > 0.06 {
		t.Fatalf("unexpected F4 start: got %.3f want ~0.4", res.Notes[1].Start)
	}
}

func TestAnalyzeScaleKeepsEveryStep(t *testing.T) {
	freqs := []float64{261.63, 293.66, 329.63, 349.23, 392.0}
	want := []string{"C4", "D4", "E4", "F4", "G4"}
	var parts [][]float64
	for _, f := range freqs {
		parts = append(parts, testsupport.Sine(f, 0.4, 0.5))
	}
	res := analyze(t, testsupport.Concat(parts...))

	got := make([]string, len(res.Notes))
	for i, n := range res.Notes {
		got[i] = n.Note
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected scale: got %v want %v", got, want)
	}
}

func TestAnalyzeDistinctPitchesStaySeparate(t *testing.T) {
	samples := testsupport.Concat(
		testsupport.Sine(261.63, 0.3, 0.5),
		testsupport.Silence(0.02),
		testsupport.Sine(293.66, 0.3, 0.5),
	)
	res := analyze(t, samples)

	if len(res.Notes) != 2 {
		t.Fatalf("unexpected note count: got %d want 2 (%+v)", len(res.Notes), res.Notes)
	}
	if res.Notes[0].Note != "C4" || res.Notes[1].Note != "D4" {
		t.Fatalf("unexpected notes: got %s,%s want C4,D4", res.Notes[0].Note, res.Notes[1].Note)
	}
	if res.Notes[0].End > res.Notes[1].Start {
		t.Fatalf("notes overlap: %+v", res.Notes)
	}
}

func TestAnalyzeSilenceYieldsNoNotes(t *testing.T) {
	res := analyze(t, testsupport.Silence(1.0))
	if res.Notes == nil || len(res.Notes) != 0 {
		t.Fatalf("expected empty non-nil notes, got %#v", res.Notes)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"notes":[]`) {
		t.Fatalf("unexpected json: %s", data)
	}
}

func TestAnalyzeBridgesShortDropout(t *testing.T) {
	samples := testsupport.Concat(
		testsupport.Sine(440, 0.5, 0.5),
		testsupport.Silence(0.04),
		testsupport.Sine(440, 0.5, 0.5),
	)
	res := analyze(t, samples)

	if len(res.Notes) != 1 {
		t.Fatalf("unexpected note count: got %d want 1 (%+v)", len(res.Notes), res.Notes)
	}
	n := res.Notes[0]
	if n.Note != "A4" {
		t.Fatalf("unexpected note: got %q want A4", n.Note)
	}
	if float64(n.Start) > 0.05 || float64(n.End) < 0.95 {
		t.Fatalf("merged note does not span the tone: %+v", n)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	samples := testsupport.Concat(
		testsupport.Sine(329.63, 0.4, 0.4),
		testsupport.Silence(0.1),
		testsupport.Sine(392.0, 0.4, 0.6),
	)
	first := analyze(t, samples, transcribe.WithRequestID("fixed"))
	second := analyze(t, samples, transcribe.WithRequestID("fixed"))
	if !reflect.DeepEqual(first.Notes, second.Notes) {
		t.Fatalf("non-deterministic notes:\n%+v\n%+v", first.Notes, second.Notes)
	}
	if !reflect.DeepEqual(first.Boundaries, second.Boundaries) {
		t.Fatalf("non-deterministic boundaries:\n%v\n%v", first.Boundaries, second.Boundaries)
	}
}

func TestAnalyzeDoesNotModifyInput(t *testing.T) {
	samples := testsupport.Sine(440, 0.5, 0.3)
	original := append([]float64(nil), samples...)
	analyze(t, samples)
	if !reflect.DeepEqual(samples, original) {
		t.Fatal("input samples were modified")
	}
}

func TestAnalyzeFallsBackWhenSecondaryTimesOut(t *testing.T) {
	samples := testsupport.Sine(440, 1.0, 0.5)
	res := analyze(t, samples,
		transcribe.WithSecondary(hangingEstimator{}),
		transcribe.WithEstimatorTimeout(50*time.Millisecond),
	)

	if len(res.Warnings) == 0 {
		t.Fatal("expected estimator warning")
	}
	w := res.Warnings[0]
	if w.Stage != transcribe.StagePitch {
		t.Fatalf("unexpected warning stage: %q", w.Stage)
	}
	if !errors.Is(w.Err, services.ErrEstimator) {
		t.Fatalf("warning should wrap ErrEstimator: %v", w.Err)
	}
	if len(res.Notes) != 1 || res.Notes[0].Note != "A4" {
		t.Fatalf("primary-only analysis lost the note: %+v", res.Notes)
	}
}

func TestAnalyzePrimaryOnly(t *testing.T) {
	res := analyze(t, testsupport.Sine(440, 1.0, 0.5), transcribe.WithSecondary(nil))
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if len(res.Notes) != 1 || res.Notes[0].Note != "A4" {
		t.Fatalf("unexpected notes: %+v", res.Notes)
	}
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	cfg := analysis.DefaultConfig()
	nan := testsupport.Sine(440, 0.5, 0.5)
	nan[100] = math.NaN()

	cases := []struct {
		name    string
		samples []float64
		rate    int
		marker  error
	}{
		{"empty", nil, testsupport.SampleRate, services.ErrInput},
		{"zero rate", testsupport.Sine(440, 0.5, 0.5), 0, services.ErrInput},
		{"too short", testsupport.Sine(440, 0.01, 0.5), testsupport.SampleRate, services.ErrInput},
		{"non-finite", nan, testsupport.SampleRate, services.ErrInput},
		{"rate below pitch range", make([]float64, 4096), 4000, services.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := transcribe.Analyze(context.Background(), tc.samples, tc.rate, cfg)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("unexpected error: got %v want %v", err, tc.marker)
			}
			if !services.IsFatal(err) {
				t.Fatalf("input errors must be fatal: %v", err)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := analysis.DefaultConfig()
	cfg.HopLength = 0
	if _, err := transcribe.New(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("unexpected error: got %v want ErrConfiguration", err)
	}
}

func TestAnalyzeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, err := transcribe.New(analysis.DefaultConfig())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := a.Analyze(ctx, testsupport.Wave(testsupport.Sine(440, 1.0, 0.5))); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: got %v want context.Canceled", err)
	}
}

func TestResultJSONShape(t *testing.T) {
	res := analyze(t, testsupport.Sine(440, 1.0, 0.5), transcribe.WithRequestID("req-1"))
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		RequestID string           `json:"request_id"`
		Notes     []map[string]any `json:"notes"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %q", decoded.RequestID)
	}
	want := []string{"duration", "end", "note", "start", "volume"}
	for _, key := range want {
		if _, ok := decoded.Notes[0][key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
	if len(decoded.Notes[0]) != len(want) {
		t.Fatalf("unexpected keys in %s", data)
	}
}
