package pitch_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"notescribe/internal/analysis"
	"notescribe/internal/dsp"
	"notescribe/internal/pitch"
	"notescribe/internal/services"
	"notescribe/internal/testsupport"
)

func interiorMedian(t *testing.T, track pitch.Track, from, to float64) (float64, float64) {
	t.Helper()
	var f0s, confs []float64
	for i, ts := range track.Times {
		if ts < from || ts > to {
			continue
		}
		f0s = append(f0s, track.F0[i])
		confs = append(confs, track.Confidence[i])
	}
	if len(f0s) == 0 {
		t.Fatalf("no frames between %.2f and %.2f", from, to)
	}
	return dsp.Median(f0s), dsp.Median(confs)
}

func withinCents(got, want, cents float64) bool {
	return math.Abs(1200*math.Log2(got/want)) <= cents
}

func TestPYINTracksSine(t *testing.T) {
	cfg := analysis.DefaultConfig()
	wave := testsupport.Wave(testsupport.Sine(440, 1, 0.8))
	track, err := pitch.PYIN{}.Estimate(context.Background(), wave, cfg)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	if track.Len() != dsp.FrameCount(len(wave.Samples), cfg.HopLength) {
		t.Fatalf("unexpected frame count: %d", track.Len())
	}
	f0, conf := interiorMedian(t, track, 0.2, 0.8)
	if !withinCents(f0, 440, 10) {
		t.Fatalf("unexpected f0: got %.2f want 440", f0)
	}
	if conf < 0.9 {
		t.Fatalf("expected confident voicing, got %.3f", conf)
	}
}

func TestPYINTracksLowNote(t *testing.T) {
	cfg := analysis.DefaultConfig()
	wave := testsupport.Wave(testsupport.Sine(130.81, 0.8, 0.8))
	track, err := pitch.PYIN{}.Estimate(context.Background(), wave, cfg)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	f0, _ := interiorMedian(t, track, 0.2, 0.6)
	if !withinCents(f0, 130.81, 15) {
		t.Fatalf("unexpected f0: got %.2f want 130.81", f0)
	}
}

func TestPYINSilenceIsUnvoiced(t *testing.T) {
	track, err := pitch.PYIN{}.Estimate(context.Background(), testsupport.Wave(testsupport.Silence(0.5)), analysis.DefaultConfig())
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	for i := range track.F0 {
		if track.F0[i] != 0 || track.Confidence[i] != 0 {
			t.Fatalf("frame %d voiced on silence: f0=%f conf=%f", i, track.F0[i], track.Confidence[i])
		}
	}
}

func TestPYINHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (pitch.PYIN{}).Estimate(ctx, testsupport.Wave(testsupport.Sine(440, 0.5, 0.5)), analysis.DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSpectralTracksSineAndHarmonicTone(t *testing.T) {
	cfg := analysis.DefaultConfig()
	sine := testsupport.Wave(testsupport.Sine(440, 1, 0.8))
	track, err := pitch.Spectral{}.Estimate(context.Background(), sine, cfg)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	f0, conf := interiorMedian(t, track, 0.2, 0.8)
	if !withinCents(f0, 440, 10) {
		t.Fatalf("unexpected f0: got %.2f want 440", f0)
	}
	if conf < 0.9 || conf > 1 {
		t.Fatalf("unexpected confidence: %.3f", conf)
	}

	rich := make([]float64, len(sine.Samples))
	for h := 1; h <= 5; h++ {
		partial := testsupport.Sine(220*float64(h), 1, 0.5/float64(h))
		for i := range rich {
			rich[i] += partial[i]
		}
	}
	track, err = pitch.Spectral{}.Estimate(context.Background(), testsupport.Wave(rich), cfg)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	f0, _ = interiorMedian(t, track, 0.2, 0.8)
	if !withinCents(f0, 220, 10) {
		t.Fatalf("unexpected f0 for harmonic tone: got %.2f want 220", f0)
	}
}

func TestSpectralUsesNativeHop(t *testing.T) {
	cfg := analysis.DefaultConfig()
	track, err := pitch.Spectral{HopSeconds: 0.01}.Estimate(context.Background(), testsupport.Wave(testsupport.Sine(440, 0.5, 0.5)), cfg)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	step := track.Times[1] - track.Times[0]
	if math.Abs(step-0.01) > 1e-4 {
		t.Fatalf("unexpected native hop: %f", step)
	}
}

func TestResampleInterpolatesAndZeroesOutsideSpan(t *testing.T) {
	src := pitch.Track{
		Times:      []float64{0.1, 0.2, 0.3},
		F0:         []float64{100, 200, 0},
		Confidence: []float64{0.5, 1, 0},
	}
	got := pitch.Resample(src, []float64{0, 0.15, 0.2, 0.22, 0.29, 0.4}, false)
	wantF0 := []float64{0, 150, 200, 200, 0, 0}
	wantConf := []float64{0, 0.75, 1, 1, 0, 0}
	for i := range wantF0 {
		if math.Abs(got.F0[i]-wantF0[i]) > 1e-9 || math.Abs(got.Confidence[i]-wantConf[i]) > 1e-9 {
			t.Fatalf("frame %d: got (%f,%f) want (%f,%f)", i, got.F0[i], got.Confidence[i], wantF0[i], wantConf[i])
		}
	}
}

func TestResampleLinearCrossesVoicing(t *testing.T) {
	src := pitch.Track{
		Times:      []float64{0.1, 0.2, 0.3},
		F0:         []float64{100, 200, 0},
		Confidence: []float64{0.5, 1, 0},
	}
	got := pitch.Resample(src, []float64{0.15, 0.22, 0.29}, true)
	wantF0 := []float64{150, 160, 20}
	wantConf := []float64{0.75, 0.8, 0.1}
	for i := range wantF0 {
		if math.Abs(got.F0[i]-wantF0[i]) > 1e-9 || math.Abs(got.Confidence[i]-wantConf[i]) > 1e-9 {
			t.Fatalf("frame %d: got (%f,%f) want (%f,%f)", i, got.F0[i], got.Confidence[i], wantF0[i], wantConf[i])
		}
	}
}

func TestFuseWithoutOctaveFolding(t *testing.T) {
	a := pitch.Track{Times: []float64{0}, F0: []float64{440}, Confidence: []float64{0.6}}
	b := pitch.Track{Times: []float64{0}, F0: []float64{880}, Confidence: []float64{0.4}}
	got := pitch.Fuse(a, b, 0.1, false)
	if math.Abs(got.F0[0]-616) > 1e-9 || got.Confidence[0] != 0.6 {
		t.Fatalf("unexpected plain weighted mean: got (%f,%f) want (616,0.6)", got.F0[0], got.Confidence[0])
	}
}

func TestFuseRules(t *testing.T) {
	a := pitch.Track{Times: []float64{0, 1, 2, 3, 4}, F0: []float64{440, 440, 0, 440, 0}, Confidence: []float64{0.5, 0.04, 0.9, 0.6, 0}}
	b := pitch.Track{Times: []float64{0, 1, 2, 3, 4}, F0: []float64{450, 0, 0, 880, 300}, Confidence: []float64{0.5, 0.05, 0, 0.4, 0.7}}
	got := pitch.Fuse(a, b, 0.1, true)

	if math.Abs(got.F0[0]-445) > 1e-9 || got.Confidence[0] != 0.5 {
		t.Fatalf("frame 0: got (%f,%f)", got.F0[0], got.Confidence[0])
	}
	if got.F0[1] != 0 || got.Confidence[1] != 0 {
		t.Fatalf("frame 1 should be unvoiced below threshold, got (%f,%f)", got.F0[1], got.Confidence[1])
	}
	if got.F0[2] != 0 || got.Confidence[2] != 0 {
		t.Fatalf("frame 2 has no pitch and must be unvoiced, got (%f,%f)", got.F0[2], got.Confidence[2])
	}
	if math.Abs(got.F0[3]-440) > 1e-9 || got.Confidence[3] != 0.6 {
		t.Fatalf("frame 3 should fold the octave, got (%f,%f)", got.F0[3], got.Confidence[3])
	}
	if math.Abs(got.F0[4]-300) > 1e-9 || got.Confidence[4] != 0.7 {
		t.Fatalf("frame 4 should follow the only voiced estimator, got (%f,%f)", got.F0[4], got.Confidence[4])
	}
}

func TestFuseConfidenceStaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 500
	a := pitch.Track{Times: make([]float64, n), F0: make([]float64, n), Confidence: make([]float64, n)}
	b := pitch.Track{Times: make([]float64, n), F0: make([]float64, n), Confidence: make([]float64, n)}
	for i := 0; i < n; i++ {
		a.Times[i], b.Times[i] = float64(i), float64(i)
		if rng.Float64() < 0.8 {
			a.F0[i] = 60 + rng.Float64()*1500
		}
		if rng.Float64() < 0.8 {
			b.F0[i] = 60 + rng.Float64()*1500
		}
		a.Confidence[i] = rng.Float64()*1.4 - 0.2
		b.Confidence[i] = rng.Float64()*1.4 - 0.2
	}
	got := pitch.Fuse(a, b, 0.1, true)
	for i := range got.F0 {
		c := got.Confidence[i]
		if c < 0 || c > 1 {
			t.Fatalf("frame %d: confidence %f outside [0,1]", i, c)
		}
		if c == 0 && got.F0[i] != 0 {
			t.Fatalf("frame %d: unvoiced frame carries f0 %f", i, got.F0[i])
		}
	}
}

func TestPostProcessRemovesIsolatedFramesAndSpikes(t *testing.T) {
	cfg := analysis.DefaultConfig()
	f0 := []float64{0, 440, 0, 0, 440, 440, 880, 440, 440, 440, 440, 0}
	conf := []float64{0, 0.9, 0, 0, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0}
	gotF0, gotConf, err := pitch.PostProcess(f0, conf, cfg)
	if err != nil {
		t.Fatalf("PostProcess returned error: %v", err)
	}
	if gotF0[1] != 0 || gotConf[1] != 0 {
		t.Fatalf("isolated frame not removed: (%f,%f)", gotF0[1], gotConf[1])
	}
	for i := 4; i <= 10; i++ {
		if !withinCents(gotF0[i], 440, 1) {
			t.Fatalf("frame %d: expected spike smoothed to 440, got %f", i, gotF0[i])
		}
	}
	for _, i := range []int{0, 2, 3, 11} {
		if gotF0[i] != 0 {
			t.Fatalf("frame %d: unvoiced frame gained pitch %f", i, gotF0[i])
		}
	}
	if f0[6] != 880 {
		t.Fatal("input must not be modified")
	}
}

type hangingEstimator struct {
	release chan struct{}
}

func (hangingEstimator) Name() string { return "hanging" }

func (h hangingEstimator) Estimate(context.Context, analysis.Waveform, analysis.Config) (pitch.Track, error) {
	<-h.release
	return pitch.Track{}, nil
}

type panickingEstimator struct{}

func (panickingEstimator) Name() string { return "panicking" }

func (panickingEstimator) Estimate(context.Context, analysis.Waveform, analysis.Config) (pitch.Track, error) {
	panic("model weights missing")
}

type mutatingEstimator struct{}

func (mutatingEstimator) Name() string { return "mutating" }

func (mutatingEstimator) Estimate(_ context.Context, wave analysis.Waveform, _ analysis.Config) (pitch.Track, error) {
	for i := range wave.Samples {
		wave.Samples[i] = 42
	}
	return pitch.Track{Times: []float64{0}, F0: []float64{0}, Confidence: []float64{0}}, nil
}

type brokenEstimator struct{}

func (brokenEstimator) Name() string { return "broken" }

func (brokenEstimator) Estimate(context.Context, analysis.Waveform, analysis.Config) (pitch.Track, error) {
	return pitch.Track{Times: []float64{0, 1}, F0: []float64{1}}, nil
}

func TestRunIsolatedTimesOutHangingEstimator(t *testing.T) {
	h := hangingEstimator{release: make(chan struct{})}
	t.Cleanup(func() { close(h.release) })

	start := time.Now()
	_, err := pitch.RunIsolated(context.Background(), h, testsupport.Wave(testsupport.Silence(0.1)), analysis.DefaultConfig(), 50*time.Millisecond)
	if !errors.Is(err, services.ErrEstimator) {
		t.Fatalf("expected ErrEstimator, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("RunIsolated waited too long: %s", elapsed)
	}
}

func TestRunIsolatedRecoversPanics(t *testing.T) {
	_, err := pitch.RunIsolated(context.Background(), panickingEstimator{}, testsupport.Wave(testsupport.Silence(0.1)), analysis.DefaultConfig(), time.Second)
	if !errors.Is(err, services.ErrEstimator) {
		t.Fatalf("expected ErrEstimator, got %v", err)
	}
}

func TestRunIsolatedProtectsCallerWaveform(t *testing.T) {
	samples := testsupport.Sine(440, 0.1, 0.5)
	before := samples[10]
	if _, err := pitch.RunIsolated(context.Background(), mutatingEstimator{}, testsupport.Wave(samples), analysis.DefaultConfig(), time.Second); err != nil {
		t.Fatalf("RunIsolated returned error: %v", err)
	}
	if samples[10] != before {
		t.Fatal("estimator modified the caller's samples")
	}
}

func TestRunIsolatedRejectsMalformedTrack(t *testing.T) {
	if _, err := pitch.RunIsolated(context.Background(), brokenEstimator{}, testsupport.Wave(testsupport.Silence(0.1)), analysis.DefaultConfig(), time.Second); !errors.Is(err, services.ErrEstimator) {
		t.Fatalf("expected ErrEstimator, got %v", err)
	}
}

func TestTrackerFallsBackToPrimary(t *testing.T) {
	cfg := analysis.DefaultConfig()
	wave := testsupport.Wave(testsupport.Sine(440, 0.6, 0.8))
	h := hangingEstimator{release: make(chan struct{})}
	t.Cleanup(func() { close(h.release) })

	fallback, warnings, err := pitch.NewTracker(h, 50*time.Millisecond, nil).Track(context.Background(), wave, cfg)
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if len(warnings) != 1 || !errors.Is(warnings[0], services.ErrEstimator) {
		t.Fatalf("expected one estimator warning, got %v", warnings)
	}
	primaryOnly, warnings, err := pitch.NewTracker(nil, 0, nil).Track(context.Background(), wave, cfg)
	if err != nil || len(warnings) != 0 {
		t.Fatalf("primary-only Track: err=%v warnings=%v", err, warnings)
	}
	for i := range fallback.F0 {
		if fallback.F0[i] != primaryOnly.F0[i] || fallback.Confidence[i] != primaryOnly.Confidence[i] {
			t.Fatalf("frame %d differs from primary-only output", i)
		}
	}
}

func TestTrackerSeriesIsAligned(t *testing.T) {
	cfg := analysis.DefaultConfig()
	wave := testsupport.Wave(testsupport.Concat(testsupport.Silence(0.2), testsupport.Sine(329.63, 0.5, 0.7), testsupport.Silence(0.2)))
	series, warnings, err := pitch.NewTracker(pitch.Spectral{}, time.Minute, nil).Track(context.Background(), wave, cfg)
	if err != nil || len(warnings) != 0 {
		t.Fatalf("Track: err=%v warnings=%v", err, warnings)
	}
	n := series.Len()
	if len(series.F0) != n || len(series.Confidence) != n || len(series.Energy) != n {
		t.Fatalf("misaligned series: times=%d f0=%d conf=%d energy=%d", n, len(series.F0), len(series.Confidence), len(series.Energy))
	}
	for i := 0; i < n; i++ {
		if series.Confidence[i] < 0 || series.Confidence[i] > 1 {
			t.Fatalf("frame %d: confidence %f outside [0,1]", i, series.Confidence[i])
		}
		if series.Confidence[i] == 0 && series.F0[i] != 0 {
			t.Fatalf("frame %d: unvoiced frame has f0 %f", i, series.F0[i])
		}
	}
	var f0s []float64
	lo, hi := series.Range(0.3, 0.6)
	for i := lo; i < hi; i++ {
		f0s = append(f0s, series.F0[i])
	}
	if got := dsp.Median(f0s); !withinCents(got, 329.63, 15) {
		t.Fatalf("unexpected fused pitch: %.2f", got)
	}
}
