package segment

import (
	"math"
	"sort"
)

const (
	maxIterations = 50
	// mergeSemitones collapses clusters whose centroids are closer than this.
	mergeSemitones = 0.5
)

// Cluster is one group produced by Cluster1D.
type Cluster struct {
	Centroid float64
	Weight   float64
	Size     int
}

// Cluster1D groups values into at most k clusters with weighted Lloyd
// iterations. Centroids are initialized at evenly spaced quantiles of the
// sorted values, so the result depends only on the input. Clusters whose
// centroids end up closer than half a semitone are merged and empty clusters
// are dropped. The result is ordered by centroid.
func Cluster1D(values, weights []float64, k int) []Cluster {
	n := len(values)
	if n == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
		if i < len(weights) && weights[i] > 0 {
			w[i] = weights[i]
		}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	centroids := make([]float64, k)
	for j := range centroids {
		pos := (float64(j) + 0.5) / float64(k) * float64(n-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		frac := pos - float64(lo)
		centroids[j] = sorted[lo]*(1-frac) + sorted[hi]*frac
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range values {
			best := nearest(centroids, v)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([]float64, k)
		mass := make([]float64, k)
		for i, v := range values {
			sums[assign[i]] += w[i] * v
			mass[assign[i]] += w[i]
		}
		for j := range centroids {
			if mass[j] > 0 {
				centroids[j] = sums[j] / mass[j]
			}
		}
	}

	clusters := make([]Cluster, k)
	for j := range clusters {
		clusters[j].Centroid = centroids[j]
	}
	for i := range values {
		c := &clusters[assign[i]]
		c.Size++
		c.Weight += w[i]
	}
	return mergeClose(clusters)
}

func nearest(centroids []float64, v float64) int {
	best := 0
	bestDist := math.Inf(1)
	for j, c := range centroids {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func mergeClose(clusters []Cluster) []Cluster {
	nonEmpty := clusters[:0:0]
	for _, c := range clusters {
		if c.Size > 0 {
			nonEmpty = append(nonEmpty, c)
		}
	}
	sort.SliceStable(nonEmpty, func(i, j int) bool { return nonEmpty[i].Centroid < nonEmpty[j].Centroid })

	var out []Cluster
	for _, c := range nonEmpty {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if c.Centroid-last.Centroid < mergeSemitones {
				total := last.Weight + c.Weight
				last.Centroid = (last.Centroid*last.Weight + c.Centroid*c.Weight) / total
				last.Weight = total
				last.Size += c.Size
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// Dominant returns the cluster with the largest population. Ties go to the
// larger total weight, then to the lower centroid.
func Dominant(clusters []Cluster) (Cluster, bool) {
	if len(clusters) == 0 {
		return Cluster{}, false
	}
	best := clusters[0]
	for _, c := range clusters[1:] {
		switch {
		case c.Size > best.Size:
			best = c
		case c.Size == best.Size && c.Weight > best.Weight:
			best = c
		case c.Size == best.Size && c.Weight == best.Weight && c.Centroid < best.Centroid:
			best = c
		}
	}
	return best, true
}
