package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Velocity bounds for emitted notes.
const (
	MinVolume = 40
	MaxVolume = 127
)

// Config is the immutable threshold set for one analysis call.
//
// The first block mirrors the documented entry-point options; the rest are
// tuning knobs with empirically chosen defaults. None of the defaults are
// load-bearing for correctness.
type Config struct {
	HopLength               int     `toml:"hop_length"`
	FrameLength             int     `toml:"frame_length"`
	PitchMinHz              float64 `toml:"pitch_min_hz"`
	PitchMaxHz              float64 `toml:"pitch_max_hz"`
	ConfidenceCutoff        float64 `toml:"confidence_cutoff"`
	MergeGapSeconds         float64 `toml:"merge_gap_seconds"`
	PitchToleranceSemitones float64 `toml:"pitch_tolerance_semitones"`
	// VolumeTolerance is compared against velocity units; zero disables the check.
	VolumeTolerance        float64 `toml:"volume_tolerance"`
	MinNoteDurationSeconds float64 `toml:"min_note_duration_seconds"`
	VolumeEnergyLow        float64 `toml:"volume_range_energy_low"`
	VolumeEnergyHigh       float64 `toml:"volume_range_energy_high"`

	// Conditioner
	NormalizePeak   float64 `toml:"normalize_peak"`
	Denoise         bool    `toml:"denoise"`
	NoiseQuantile   float64 `toml:"noise_quantile"`
	NoiseGateFactor float64 `toml:"noise_gate_factor"`

	// Boundary detector
	OnsetWeight      float64 `toml:"onset_weight"`
	FluxWeight       float64 `toml:"flux_weight"`
	EnergyWeight     float64 `toml:"energy_weight"`
	PeakDelta        float64 `toml:"peak_delta"`
	PeakPreMax       int     `toml:"peak_pre_max"`
	PeakPostMax      int     `toml:"peak_post_max"`
	PeakPreAvg       int     `toml:"peak_pre_avg"`
	PeakPostAvg      int     `toml:"peak_post_avg"`
	PeakWait         int     `toml:"peak_wait"`
	Backtrack        bool    `toml:"backtrack"`
	OffsetPercentile float64 `toml:"offset_percentile"`
	MinGapSeconds    float64 `toml:"min_gap_seconds"`

	// Pitch estimator. FoldOctaves moves a secondary estimate that sits one
	// or two octaves off the primary onto the primary's octave before fusion.
	// LinearResample interpolates the secondary track across voicing changes
	// instead of copying the nearer frame.
	FusionThreshold     float64 `toml:"fusion_threshold"`
	FoldOctaves         bool    `toml:"fold_octaves"`
	LinearResample      bool    `toml:"linear_resample"`
	MedianWindow        int     `toml:"median_window"`
	SmoothWindow        int     `toml:"smooth_window"`
	SmoothOrder         int     `toml:"smooth_order"`
	SecondaryHopSeconds float64 `toml:"secondary_hop_seconds"`

	// Segment resolver
	MinSegmentSeconds       float64 `toml:"min_segment_seconds"`
	EnergyFloor             float64 `toml:"energy_floor"`
	MinValidFrames          int     `toml:"min_valid_frames"`
	MinClusterPoints        int     `toml:"min_cluster_points"`
	MaxClusters             int     `toml:"max_clusters"`
	SegmentConfidenceCutoff float64 `toml:"segment_confidence_cutoff"`
	VolumePercentile        float64 `toml:"volume_percentile"`

	// Consolidator final passes
	LongNoteSeconds    float64 `toml:"long_note_seconds"`
	SplitJumpSemitones float64 `toml:"split_jump_semitones"`
	TailExtendSeconds  float64 `toml:"tail_extend_seconds"`
}

// DefaultConfig returns the tuned defaults. Pitch range C2..C7 matches the
// range the detector was originally tuned for.
func DefaultConfig() Config {
	return Config{
		HopLength:               512,
		FrameLength:             2048,
		PitchMinHz:              65.41,
		PitchMaxHz:              2093.0,
		ConfidenceCutoff:        0.5,
		MergeGapSeconds:         0.15,
		PitchToleranceSemitones: 0.5,
		VolumeTolerance:         40,
		MinNoteDurationSeconds:  0.1,
		VolumeEnergyLow:         0.01,
		VolumeEnergyHigh:        0.5,

		NormalizePeak:   0.9,
		Denoise:         true,
		NoiseQuantile:   0.1,
		NoiseGateFactor: 1.5,

		OnsetWeight:      0.5,
		FluxWeight:       0.3,
		EnergyWeight:     0.2,
		PeakDelta:        0.07,
		PeakPreMax:       3,
		PeakPostMax:      3,
		PeakPreAvg:       3,
		PeakPostAvg:      5,
		PeakWait:         2,
		Backtrack:        true,
		OffsetPercentile: 20,
		MinGapSeconds:    0.1,

		FusionThreshold:     0.1,
		FoldOctaves:         true,
		LinearResample:      false,
		MedianWindow:        5,
		SmoothWindow:        5,
		SmoothOrder:         2,
		SecondaryHopSeconds: 0.01,

		MinSegmentSeconds:       0.06,
		EnergyFloor:             0.02,
		MinValidFrames:          3,
		MinClusterPoints:        6,
		MaxClusters:             3,
		SegmentConfidenceCutoff: 0.4,
		VolumePercentile:        75,

		LongNoteSeconds:    0.5,
		SplitJumpSemitones: 0.75,
		TailExtendSeconds:  0.1,
	}
}

// Validate reports the first inconsistent or out-of-range value.
func (c Config) Validate() error {
	if err := finite(map[string]float64{
		"pitch_min_hz":              c.PitchMinHz,
		"pitch_max_hz":              c.PitchMaxHz,
		"confidence_cutoff":         c.ConfidenceCutoff,
		"merge_gap_seconds":         c.MergeGapSeconds,
		"pitch_tolerance_semitones": c.PitchToleranceSemitones,
		"volume_tolerance":          c.VolumeTolerance,
		"min_note_duration_seconds": c.MinNoteDurationSeconds,
		"volume_range_energy_low":   c.VolumeEnergyLow,
		"volume_range_energy_high":  c.VolumeEnergyHigh,
		"normalize_peak":            c.NormalizePeak,
		"noise_quantile":            c.NoiseQuantile,
		"noise_gate_factor":         c.NoiseGateFactor,
		"onset_weight":              c.OnsetWeight,
		"flux_weight":               c.FluxWeight,
		"energy_weight":             c.EnergyWeight,
		"peak_delta":                c.PeakDelta,
		"offset_percentile":         c.OffsetPercentile,
		"min_gap_seconds":           c.MinGapSeconds,
		"fusion_threshold":          c.FusionThreshold,
		"secondary_hop_seconds":     c.SecondaryHopSeconds,
		"min_segment_seconds":       c.MinSegmentSeconds,
		"energy_floor":              c.EnergyFloor,
		"segment_confidence_cutoff": c.SegmentConfidenceCutoff,
		"volume_percentile":         c.VolumePercentile,
		"long_note_seconds":         c.LongNoteSeconds,
		"split_jump_semitones":      c.SplitJumpSemitones,
		"tail_extend_seconds":       c.TailExtendSeconds,
	}); err != nil {
		return err
	}
	if c.HopLength <= 0 {
		return errors.New("hop_length must be positive")
	}
	if c.FrameLength < 64 {
		return errors.New("frame_length must be at least 64 samples")
	}
	if c.FrameLength < c.HopLength {
		return errors.New("frame_length must be >= hop_length")
	}
	if !(c.PitchMinHz > 0) {
		return errors.New("pitch_min_hz must be positive")
	}
	if !(c.PitchMaxHz > c.PitchMinHz) {
		return errors.New("pitch_max_hz must be greater than pitch_min_hz")
	}
	if err := unitInterval(map[string]float64{
		"confidence_cutoff":         c.ConfidenceCutoff,
		"segment_confidence_cutoff": c.SegmentConfidenceCutoff,
		"noise_quantile":            c.NoiseQuantile,
		"normalize_peak":            c.NormalizePeak,
		"peak_delta":                c.PeakDelta,
	}); err != nil {
		return err
	}
	if c.FusionThreshold < 0 || c.FusionThreshold > 2 {
		return errors.New("fusion_threshold must be between 0 and 2")
	}
	if c.NormalizePeak == 0 {
		return errors.New("normalize_peak must be positive")
	}
	if c.MergeGapSeconds < 0 {
		return errors.New("merge_gap_seconds must be >= 0")
	}
	if !(c.PitchToleranceSemitones > 0) {
		return errors.New("pitch_tolerance_semitones must be positive")
	}
	if c.VolumeTolerance < 0 {
		return errors.New("volume_tolerance must be >= 0 (0 disables the check)")
	}
	if !(c.MinNoteDurationSeconds > 0) {
		return errors.New("min_note_duration_seconds must be positive")
	}
	if c.VolumeEnergyLow < 0 || !(c.VolumeEnergyHigh > c.VolumeEnergyLow) {
		return errors.New("volume_range_energy_high must be greater than volume_range_energy_low >= 0")
	}
	if c.NoiseGateFactor < 0 {
		return errors.New("noise_gate_factor must be >= 0")
	}
	if c.OnsetWeight < 0 || c.FluxWeight < 0 || c.EnergyWeight < 0 {
		return errors.New("novelty weights must be >= 0")
	}
	if c.OnsetWeight < c.FluxWeight || c.OnsetWeight < c.EnergyWeight {
		return errors.New("onset_weight must be >= flux_weight and energy_weight")
	}
	if c.OnsetWeight+c.FluxWeight+c.EnergyWeight == 0 {
		return errors.New("novelty weights must not all be zero")
	}
	for name, v := range map[string]int{
		"peak_pre_max":  c.PeakPreMax,
		"peak_post_max": c.PeakPostMax,
		"peak_pre_avg":  c.PeakPreAvg,
		"peak_post_avg": c.PeakPostAvg,
		"peak_wait":     c.PeakWait,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.OffsetPercentile < 0 || c.OffsetPercentile > 100 {
		return errors.New("offset_percentile must be between 0 and 100")
	}
	if c.VolumePercentile < 0 || c.VolumePercentile > 100 {
		return errors.New("volume_percentile must be between 0 and 100")
	}
	if c.MinGapSeconds < 0 {
		return errors.New("min_gap_seconds must be >= 0")
	}
	if c.MedianWindow < 1 || c.MedianWindow%2 == 0 {
		return errors.New("median_window must be a positive odd number")
	}
	if c.SmoothWindow < 1 || c.SmoothWindow%2 == 0 {
		return errors.New("smooth_window must be a positive odd number")
	}
	if c.SmoothOrder < 0 || (c.SmoothWindow > 1 && c.SmoothOrder >= c.SmoothWindow) {
		return errors.New("smooth_order must be >= 0 and less than smooth_window")
	}
	if !(c.SecondaryHopSeconds > 0) {
		return errors.New("secondary_hop_seconds must be positive")
	}
	if c.MinSegmentSeconds < 0 {
		return errors.New("min_segment_seconds must be >= 0")
	}
	if c.EnergyFloor < 0 {
		return errors.New("energy_floor must be >= 0")
	}
	if c.MinValidFrames < 1 {
		return errors.New("min_valid_frames must be >= 1")
	}
	if c.MinClusterPoints < 1 {
		return errors.New("min_cluster_points must be >= 1")
	}
	if c.MaxClusters < 1 || c.MaxClusters > 3 {
		return errors.New("max_clusters must be between 1 and 3")
	}
	if c.LongNoteSeconds < 0 || c.SplitJumpSemitones < 0 || c.TailExtendSeconds < 0 {
		return errors.New("long_note_seconds, split_jump_semitones and tail_extend_seconds must be >= 0")
	}
	return nil
}

// ValidateForRate checks the options that depend on the input sample rate.
func (c Config) ValidateForRate(sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	nyquist := float64(sampleRate) / 2
	if c.PitchMaxHz >= nyquist {
		return fmt.Errorf("pitch_max_hz %.1f must be below the Nyquist frequency %.1f", c.PitchMaxHz, nyquist)
	}
	if lag := float64(sampleRate) / c.PitchMinHz; lag >= float64(c.FrameLength)/2 {
		return fmt.Errorf("frame_length %d is too short for pitch_min_hz %.2f at %d Hz", c.FrameLength, c.PitchMinHz, sampleRate)
	}
	return nil
}

// finite reports the alphabetically first NaN or infinite value so the error
// does not depend on map iteration order.
func finite(values map[string]float64) error {
	names := make([]string, 0, len(values))
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return fmt.Errorf("%s must be a finite number", names[0])
}

func unitInterval(values map[string]float64) error {
	for name, v := range values {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	return nil
}
