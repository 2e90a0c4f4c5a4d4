package pitch

import (
	"math"

	"notescribe/internal/analysis"
)

// octaveFoldCents is how close the secondary estimate must be to an octave
// multiple of the primary estimate before it is folded onto it.
const octaveFoldCents = 50

// Fuse combines two tracks on the same frame grid. A frame whose f0 is 0
// contributes no weight. When the combined confidence is below threshold the
// frame is unvoiced (0, 0); otherwise f0 is the confidence-weighted mean and
// confidence is the larger of the two. With foldOctaves set, a voiced b frame
// near an octave multiple of the a frame is folded onto it first.
func Fuse(a, b Track, threshold float64, foldOctaves bool) Track {
	out := newTrack(a.Len())
	copy(out.Times, a.Times)
	for i := range out.Times {
		f0A, confA := frameValue(a, i)
		f0B, confB := frameValue(b, i)
		if foldOctaves && f0A > 0 && f0B > 0 {
			f0B = foldOctave(f0B, f0A)
		}
		total := confA + confB
		if total < threshold || total <= 0 {
			continue
		}
		out.F0[i] = (f0A*confA + f0B*confB) / total
		out.Confidence[i] = math.Max(confA, confB)
	}
	return out
}

func frameValue(t Track, i int) (float64, float64) {
	if i >= len(t.F0) || i >= len(t.Confidence) {
		return 0, 0
	}
	f0 := t.F0[i]
	if !(f0 > 0) || math.IsInf(f0, 0) {
		return 0, 0
	}
	conf := t.Confidence[i]
	if math.IsNaN(conf) {
		return 0, 0
	}
	return f0, math.Max(0, math.Min(1, conf))
}

// foldOctave moves f onto ref's octave when f sits within octaveFoldCents of
// ref·2^k for k in {-2,-1,1,2}.
func foldOctave(f, ref float64) float64 {
	diff := analysis.HzToSemitones(f) - analysis.HzToSemitones(ref)
	octaves := math.Round(diff / 12)
	if octaves == 0 || math.Abs(octaves) > 2 {
		return f
	}
	if math.Abs(diff-12*octaves)*100 > octaveFoldCents {
		return f
	}
	return f / math.Pow(2, octaves)
}
