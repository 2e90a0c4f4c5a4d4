package analysis_test

import (
	"math"
	"strings"
	"testing"

	"notescribe/internal/analysis"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := analysis.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateRejectsNonFiniteValues(t *testing.T) {
	cases := map[string]func(*analysis.Config){
		"merge_gap_seconds":   func(c *analysis.Config) { c.MergeGapSeconds = math.NaN() },
		"min_gap_seconds":     func(c *analysis.Config) { c.MinGapSeconds = math.NaN() },
		"volume_tolerance":    func(c *analysis.Config) { c.VolumeTolerance = math.NaN() },
		"energy_floor":        func(c *analysis.Config) { c.EnergyFloor = math.NaN() },
		"min_segment_seconds": func(c *analysis.Config) { c.MinSegmentSeconds = math.NaN() },
		"tail_extend_seconds": func(c *analysis.Config) { c.TailExtendSeconds = math.Inf(1) },
		"noise_gate_factor":   func(c *analysis.Config) { c.NoiseGateFactor = math.NaN() },
		"long_note_seconds":   func(c *analysis.Config) { c.LongNoteSeconds = math.NaN() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := analysis.DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("unexpected error: got %q want mention of %s", err, name)
			}
		})
	}
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cfg := analysis.DefaultConfig()
	cfg.PitchToleranceSemitones = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero pitch tolerance")
	}
	cfg = analysis.DefaultConfig()
	cfg.MedianWindow = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for even median window")
	}
}
