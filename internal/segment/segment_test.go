package segment_test

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"notescribe/internal/analysis"
	"notescribe/internal/segment"
)

func series(f0 []float64, conf, energy float64) analysis.FrameSeries {
	n := len(f0)
	s := analysis.FrameSeries{
		Times:      make([]float64, n),
		F0:         append([]float64(nil), f0...),
		Confidence: make([]float64, n),
		Energy:     make([]float64, n),
	}
	for i := range f0 {
		s.Times[i] = float64(i) * 0.01
		if f0[i] > 0 {
			s.Confidence[i] = conf
		}
		s.Energy[i] = energy
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestResolveSteadyPitch(t *testing.T) {
	cfg := analysis.DefaultConfig()
	frames := series(repeat(440, 30), 0.9, 0.3)
	seg, err := segment.Resolve(frames, 0, 0.3, cfg)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if math.Abs(seg.PitchHz-440) > 1e-6 {
		t.Fatalf("unexpected pitch: %f", seg.PitchHz)
	}
	if seg.Confidence != 1 {
		t.Fatalf("unexpected confidence: %f", seg.Confidence)
	}
	if seg.Start != 0 || seg.End != 0.3 {
		t.Fatalf("unexpected span: %f-%f", seg.Start, seg.End)
	}
}

func TestResolvePicksLargestCluster(t *testing.T) {
	cfg := analysis.DefaultConfig()
	frames := series(concat(repeat(440, 14), repeat(493.88, 6)), 0.9, 0.3)
	seg, err := segment.Resolve(frames, 0, 0.2, cfg)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if math.Abs(analysis.HzToSemitones(seg.PitchHz)-69) > 0.01 {
		t.Fatalf("expected A4 to dominate, got %f Hz", seg.PitchHz)
	}
	if math.Abs(seg.Confidence-0.7) > 1e-9 {
		t.Fatalf("unexpected confidence: got %f want 0.7", seg.Confidence)
	}
}

func TestResolveFallsBackToWeightedMedian(t *testing.T) {
	cfg := analysis.DefaultConfig()
	frames := series(concat(repeat(0, 5), []float64{440, 440, 450, 880}, repeat(0, 5)), 0.9, 0.3)
	seg, err := segment.Resolve(frames, 0, 0.14, cfg)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if seg.Confidence != 1 {
		t.Fatalf("expected fixed confidence for small sets, got %f", seg.Confidence)
	}
	if math.Abs(seg.PitchHz-440) > 1e-6 {
		t.Fatalf("unexpected pitch: %f", seg.PitchHz)
	}
}

func TestResolveRejections(t *testing.T) {
	cfg := analysis.DefaultConfig()
	cases := map[string]struct {
		frames     analysis.FrameSeries
		start, end float64
		want       error
	}{
		"too short":    {series(repeat(440, 30), 0.9, 0.3), 0, 0.05, segment.ErrTooShort},
		"quiet":        {series(repeat(440, 30), 0.9, 0.001), 0, 0.3, segment.ErrLowEnergy},
		"unvoiced":     {series(concat(repeat(0, 28), repeat(440, 2)), 0.9, 0.3), 0, 0.3, segment.ErrTooFewFrames},
		"unsure":       {series(repeat(440, 30), 0.3, 0.3), 0, 0.3, segment.ErrTooFewFrames},
		"out of range": {series(repeat(30, 30), 0.9, 0.3), 0, 0.3, segment.ErrTooFewFrames},
		"ambiguous":    {series(concat(repeat(220, 8), repeat(440, 8), repeat(880, 8)), 0.9, 0.3), 0, 0.24, segment.ErrLowConfidence},
	}
	for name, tc := range cases {
		if _, err := segment.Resolve(tc.frames, tc.start, tc.end, cfg); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestVolumeMapping(t *testing.T) {
	cfg := analysis.DefaultConfig()
	if got := segment.Volume(0, cfg); got != analysis.MinVolume {
		t.Fatalf("unexpected floor volume: %f", got)
	}
	if got := segment.Volume(10, cfg); got != analysis.MaxVolume {
		t.Fatalf("unexpected ceiling volume: %f", got)
	}
	mid := (cfg.VolumeEnergyLow + cfg.VolumeEnergyHigh) / 2
	if got := segment.Volume(mid, cfg); math.Abs(got-83.5) > 1e-9 {
		t.Fatalf("unexpected mid volume: %f", got)
	}
}

func TestCluster1DMergesNearbyCentroids(t *testing.T) {
	values := []float64{60, 60.1, 60.2, 60.3, 67, 67.1}
	clusters := segment.Cluster1D(values, nil, 3)
	if len(clusters) != 2 {
		t.Fatalf("expected two clusters after merging, got %+v", clusters)
	}
	if clusters[0].Size != 4 || clusters[1].Size != 2 {
		t.Fatalf("unexpected cluster sizes: %+v", clusters)
	}
	best, ok := segment.Dominant(clusters)
	if !ok || best.Size != 4 {
		t.Fatalf("unexpected dominant cluster: %+v", best)
	}
}

func TestCluster1DIsDeterministic(t *testing.T) {
	values := []float64{57.2, 69.1, 69, 57.1, 64, 69.3, 57, 64.2, 69.2}
	weights := []float64{0.9, 0.8, 0.7, 0.6, 0.95, 0.5, 0.55, 0.65, 0.75}
	first := segment.Cluster1D(values, weights, 3)
	for i := 0; i < 10; i++ {
		if got := segment.Cluster1D(values, weights, 3); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
	if len(first) != 3 {
		t.Fatalf("expected three clusters, got %+v", first)
	}
}

func TestDominantTieBreaks(t *testing.T) {
	best, _ := segment.Dominant([]segment.Cluster{
		{Centroid: 70, Weight: 2, Size: 3},
		{Centroid: 60, Weight: 2, Size: 3},
		{Centroid: 65, Weight: 1, Size: 3},
	})
	if best.Centroid != 60 {
		t.Fatalf("expected lower pitch to win a full tie, got %+v", best)
	}
	best, _ = segment.Dominant([]segment.Cluster{
		{Centroid: 60, Weight: 1, Size: 3},
		{Centroid: 70, Weight: 2, Size: 3},
	})
	if best.Centroid != 70 {
		t.Fatalf("expected heavier cluster to win, got %+v", best)
	}
}

func TestResolveAllSkipsRejectedIntervals(t *testing.T) {
	cfg := analysis.DefaultConfig()
	f0 := concat(repeat(0, 20), repeat(440, 30), repeat(0, 20))
	frames := series(f0, 0.9, 0.3)
	for i := 0; i < 20; i++ {
		frames.Energy[i] = 0
		frames.Energy[50+i] = 0
	}
	got := segment.ResolveAll(frames, []float64{0, 0.2, 0.5, 0.7}, cfg, nil)
	if len(got) != 1 {
		t.Fatalf("expected one segment, got %+v", got)
	}
	if math.Abs(got[0].Start-0.2) > 1e-9 || math.Abs(got[0].End-0.495) > 1e-9 {
		t.Fatalf("unexpected span: got %.4f-%.4f want 0.2000-0.4950", got[0].Start, got[0].End)
	}
}

func TestTrimDropsUnpitchedEdges(t *testing.T) {
	cfg := analysis.DefaultConfig()
	frames := series(concat(repeat(0, 10), repeat(440, 30), repeat(0, 10)), 0.9, 0.3)
	seg := analysis.Segment{Start: 0, End: 0.5, PitchHz: 440, Confidence: 1, Volume: 90}

	got := segment.Trim(seg, frames, cfg)
	if math.Abs(got.Start-0.1) > 1e-9 || math.Abs(got.End-0.395) > 1e-9 {
		t.Fatalf("unexpected trimmed span: got %.4f-%.4f want 0.1000-0.3950", got.Start, got.End)
	}
	if got.PitchHz != seg.PitchHz || got.Volume != seg.Volume {
		t.Fatalf("trim must only move the edges: %+v", got)
	}
}

func TestTrimKeepsSegmentWithoutPitchedFrames(t *testing.T) {
	cfg := analysis.DefaultConfig()
	frames := series(repeat(0, 20), 0.9, 0.3)
	seg := analysis.Segment{Start: 0, End: 0.2, PitchHz: 440, Confidence: 1, Volume: 90}
	if got := segment.Trim(seg, frames, cfg); got != seg {
		t.Fatalf("segment without pitched frames changed: %+v", got)
	}
}
