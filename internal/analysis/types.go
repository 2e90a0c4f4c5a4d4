package analysis

import "math"

// Waveform is a mono signal at a fixed sample rate.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Clone returns a deep copy of the waveform.
func (w Waveform) Clone() Waveform {
	out := Waveform{SampleRate: w.SampleRate}
	out.Samples = append([]float64(nil), w.Samples...)
	return out
}

// FrameSeries is the per-frame analysis grid. All slices share one length and
// index i describes the frame centred at Times[i].
type FrameSeries struct {
	Times      []float64
	F0         []float64
	Confidence []float64
	Energy     []float64
	Hop        int
	SampleRate int
}

// Len returns the number of frames.
func (f FrameSeries) Len() int {
	return len(f.Times)
}

// Range returns the half-open index range of frames whose time lies in
// [start, end).
func (f FrameSeries) Range(start, end float64) (int, int) {
	lo := -1
	hi := -1
	for i, t := range f.Times {
		if t >= start && t < end {
			if lo < 0 {
				lo = i
			}
			hi = i + 1
		}
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

// Voiced reports whether frame i carries a pitch.
func (f FrameSeries) Voiced(i int) bool {
	return i >= 0 && i < len(f.F0) && f.F0[i] > 0
}

// Segment is a resolved interval with a single dominant pitch.
type Segment struct {
	Start      float64
	End        float64
	PitchHz    float64
	Confidence float64
	// Volume is already mapped into the note velocity range but not rounded.
	Volume float64
}

// Duration returns End-Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Semitones returns the segment pitch on the MIDI semitone scale.
func (s Segment) Semitones() float64 {
	return HzToSemitones(s.PitchHz)
}

// HzToSemitones converts a frequency to fractional MIDI note numbers (A4 = 69).
func HzToSemitones(hz float64) float64 {
	if hz <= 0 {
		return 0
	}
	return 69 + 12*math.Log2(hz/440)
}

// SemitonesToHz converts fractional MIDI note numbers back to Hz.
func SemitonesToHz(semitones float64) float64 {
	return 440 * math.Pow(2, (semitones-69)/12)
}
