// Package consolidate turns resolved segments into final note spans: a single
// left-to-right merge reduction, a minimum-duration filter, and three fixed
// final passes (long-note splitting, duplicate-tail merging, tail extension).
package consolidate

import (
	"log/slog"
	"math"

	"notescribe/internal/analysis"
	"notescribe/internal/logging"
	"notescribe/internal/segment"
)

// Consolidate runs the full consolidation over time-ordered segments. frames
// is the series the segments were resolved from and duration the recording
// length; both are needed by the split and tail passes.
func Consolidate(segs []analysis.Segment, frames analysis.FrameSeries, duration float64, cfg analysis.Config, logger *slog.Logger) []analysis.Segment {
	logger = logging.NewComponentLogger(logger, "consolidate")
	reduced := Reduce(segs, cfg)
	kept := DropShort(reduced, cfg.MinNoteDurationSeconds)
	split := SplitLong(kept, frames, cfg)
	deduped := MergeDuplicateTail(split, cfg)
	extended := ExtendTail(deduped, duration, cfg.TailExtendSeconds)
	out := sanitize(extended, cfg.MinNoteDurationSeconds)

	logger.Debug("segments consolidated",
		logging.Int("input", len(segs)),
		logging.Int("after_merge", len(reduced)),
		logging.Int("after_split", len(split)),
		logging.Int("notes", len(out)),
	)
	return out
}

// Reduce merges each accumulated note into the following segment when the
// gap, pitch difference and volume difference are all within tolerance.
// Overlaps are clamped to a zero gap before the merge test; an overlapping
// accumulator that does not merge is trimmed to end where the next segment
// starts.
func Reduce(segs []analysis.Segment, cfg analysis.Config) []analysis.Segment {
	if len(segs) == 0 {
		return nil
	}
	out := make([]analysis.Segment, 0, len(segs))
	acc := segs[0]
	for _, next := range segs[1:] {
		gap := math.Max(0, next.Start-acc.End)
		if ShouldMerge(acc, next, gap, cfg) {
			acc = Merge(acc, next)
			continue
		}
		if next.Start < acc.End {
			acc.End = next.Start
		}
		out = append(out, acc)
		acc = next
	}
	return append(out, acc)
}

// ShouldMerge reports whether two neighbouring segments separated by gap
// belong to one note. A zero VolumeTolerance disables the volume check.
func ShouldMerge(a, b analysis.Segment, gap float64, cfg analysis.Config) bool {
	if gap >= cfg.MergeGapSeconds {
		return false
	}
	if math.Abs(a.Semitones()-b.Semitones()) >= cfg.PitchToleranceSemitones {
		return false
	}
	if cfg.VolumeTolerance > 0 && math.Abs(a.Volume-b.Volume) >= cfg.VolumeTolerance {
		return false
	}
	return true
}

// Merge joins b onto a. The result spans a.Start to the later end; volume,
// pitch (in semitones) and confidence are duration-weighted averages.
func Merge(a, b analysis.Segment) analysis.Segment {
	d1, d2 := math.Max(a.Duration(), 0), math.Max(b.Duration(), 0)
	out := a
	out.End = math.Max(a.End, b.End)
	total := d1 + d2
	if total <= 0 {
		return out
	}
	out.Volume = (a.Volume*d1 + b.Volume*d2) / total
	out.PitchHz = analysis.SemitonesToHz((a.Semitones()*d1 + b.Semitones()*d2) / total)
	out.Confidence = (a.Confidence*d1 + b.Confidence*d2) / total
	return out
}

// DropShort removes segments shorter than minDuration.
func DropShort(segs []analysis.Segment, minDuration float64) []analysis.Segment {
	out := make([]analysis.Segment, 0, len(segs))
	for _, s := range segs {
		if s.Duration() >= minDuration && s.End > s.Start {
			out = append(out, s)
		}
	}
	return out
}

// MergeDuplicateTail merges the last two notes when they round to the same
// MIDI note and sit closer than the merge gap.
func MergeDuplicateTail(segs []analysis.Segment, cfg analysis.Config) []analysis.Segment {
	n := len(segs)
	if n < 2 {
		return segs
	}
	a, b := segs[n-2], segs[n-1]
	if midi(a) != midi(b) || b.Start-a.End >= cfg.MergeGapSeconds {
		return segs
	}
	out := append([]analysis.Segment(nil), segs[:n-2]...)
	return append(out, Merge(a, b))
}

// ExtendTail stretches the final note to duration when the trailing gap is
// positive and no longer than maxGap.
func ExtendTail(segs []analysis.Segment, duration, maxGap float64) []analysis.Segment {
	if len(segs) == 0 {
		return segs
	}
	out := append([]analysis.Segment(nil), segs...)
	last := &out[len(out)-1]
	if gap := duration - last.End; gap > 0 && gap <= maxGap {
		last.End = duration
	}
	return out
}

// SplitLong splits notes longer than cfg.LongNoteSeconds at sharp pitch
// jumps in the smoothed frame track. Each piece is re-resolved with
// segment.Resolve; the note stays whole unless every piece resolves and
// neighbouring pieces land on different notes.
func SplitLong(segs []analysis.Segment, frames analysis.FrameSeries, cfg analysis.Config) []analysis.Segment {
	out := make([]analysis.Segment, 0, len(segs))
	for _, s := range segs {
		if s.Duration() <= cfg.LongNoteSeconds {
			out = append(out, s)
			continue
		}
		pieces, ok := splitNote(s, frames, cfg)
		if !ok {
			out = append(out, s)
			continue
		}
		out = append(out, pieces...)
	}
	return out
}

func splitNote(s analysis.Segment, frames analysis.FrameSeries, cfg analysis.Config) ([]analysis.Segment, bool) {
	cuts := JumpPoints(frames, s.Start, s.End, cfg)
	if len(cuts) == 0 {
		return nil, false
	}
	edges := make([]float64, 0, len(cuts)+2)
	edges = append(edges, s.Start)
	for _, c := range cuts {
		if c-edges[len(edges)-1] >= cfg.MinNoteDurationSeconds && s.End-c >= cfg.MinNoteDurationSeconds {
			edges = append(edges, c)
		}
	}
	if len(edges) == 1 {
		return nil, false
	}
	edges = append(edges, s.End)

	pieces := make([]analysis.Segment, 0, len(edges)-1)
	for i := 0; i+1 < len(edges); i++ {
		piece, err := segment.Resolve(frames, edges[i], edges[i+1], cfg)
		if err != nil {
			return nil, false
		}
		if len(pieces) > 0 && midi(pieces[len(pieces)-1]) == midi(piece) {
			return nil, false
		}
		pieces = append(pieces, piece)
	}
	return pieces, true
}

// jumpSpan is how many frames on each side of a candidate cut are compared.
const jumpSpan = 2

// JumpPoints returns the frame times inside [start, end) at which the pitch
// moves by more than cfg.SplitJumpSemitones. Frame i is a candidate when the
// frames jumpSpan before and after it are both voiced above
// cfg.ConfidenceCutoff and differ by more than the threshold, so a step that
// smoothing spread over several frames is still found. Each run of candidates
// yields one cut at its largest jump, the middle frame on ties.
func JumpPoints(frames analysis.FrameSeries, start, end float64, cfg analysis.Config) []float64 {
	lo, hi := frames.Range(start, end)
	var cuts []float64
	var run []int
	var jumps []float64
	flush := func() {
		if len(run) == 0 {
			return
		}
		peak := jumps[0]
		for _, j := range jumps[1:] {
			peak = math.Max(peak, j)
		}
		var tied []int
		for k, j := range jumps {
			if j >= peak-1e-9 {
				tied = append(tied, run[k])
			}
		}
		cuts = append(cuts, frames.Times[tied[len(tied)/2]])
		run, jumps = run[:0], jumps[:0]
	}
	for i := lo + jumpSpan; i+jumpSpan < hi; i++ {
		before, after := i-jumpSpan, i+jumpSpan
		if !confident(frames, before, cfg) || !confident(frames, after, cfg) {
			flush()
			continue
		}
		jump := math.Abs(analysis.HzToSemitones(frames.F0[after]) - analysis.HzToSemitones(frames.F0[before]))
		if jump <= cfg.SplitJumpSemitones {
			flush()
			continue
		}
		run = append(run, i)
		jumps = append(jumps, jump)
	}
	flush()
	return cuts
}

func confident(frames analysis.FrameSeries, i int, cfg analysis.Config) bool {
	return frames.Voiced(i) && frames.Confidence[i] > cfg.ConfidenceCutoff
}

func sanitize(segs []analysis.Segment, minDuration float64) []analysis.Segment {
	out := make([]analysis.Segment, 0, len(segs))
	for _, s := range segs {
		if !(s.Start < s.End) || s.Duration() < minDuration || !(s.PitchHz > 0) {
			continue
		}
		s.Volume = math.Max(analysis.MinVolume, math.Min(analysis.MaxVolume, s.Volume))
		out = append(out, s)
	}
	return out
}

func midi(s analysis.Segment) int {
	return int(math.Round(s.Semitones()))
}
