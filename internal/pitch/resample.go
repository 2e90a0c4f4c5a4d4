package pitch

import "sort"

// Resample maps src onto the given frame times by piecewise-linear
// interpolation. Times before the first or after the last source frame map to
// (0, 0). Unless linear is set, the nearer frame is copied between a voiced
// and an unvoiced source frame, so interpolation never invents pitches below
// the voiced value.
func Resample(src Track, times []float64, linear bool) Track {
	out := newTrack(len(times))
	copy(out.Times, times)
	n := src.Len()
	if n == 0 {
		return out
	}
	first, last := src.Times[0], src.Times[n-1]
	for i, t := range times {
		if t < first || t > last {
			continue
		}
		j := sort.SearchFloat64s(src.Times, t)
		if j < n && src.Times[j] == t {
			out.F0[i] = src.F0[j]
			out.Confidence[i] = src.Confidence[j]
			continue
		}
		lo, hi := j-1, j
		span := src.Times[hi] - src.Times[lo]
		frac := 0.0
		if span > 0 {
			frac = (t - src.Times[lo]) / span
		}
		if !linear && (src.F0[lo] <= 0 || src.F0[hi] <= 0) {
			nearest := lo
			if frac >= 0.5 {
				nearest = hi
			}
			out.F0[i] = src.F0[nearest]
			out.Confidence[i] = src.Confidence[nearest]
			continue
		}
		out.F0[i] = src.F0[lo] + frac*(src.F0[hi]-src.F0[lo])
		out.Confidence[i] = src.Confidence[lo] + frac*(src.Confidence[hi]-src.Confidence[lo])
	}
	return out
}
