// Package similarity provides distance and clustering utilities for score series.
package similarity

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewPoints is returned when there are fewer points than clusters.
var ErrTooFewPoints = errors.New("fewer points than clusters")

// MaxKMeansIterations bounds Lloyd iterations.
const MaxKMeansIterations = 300

// KMeans1D partitions values into k clusters and returns each value's cluster label
// together with the cluster centres. Initial centres are placed at evenly spaced
// quantiles of the sorted input, so the result depends only on the input.
func KMeans1D(values []float64, k int) ([]int, []float64, error) {
	if k <= 0 {
		return nil, nil, errors.New("k must be positive")
	}
	if len(values) < k {
		return nil, nil, ErrTooFewPoints
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.New("values must be finite")
		}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	centers := make([]float64, k)
	for c := 0; c < k; c++ {
		q := (float64(c) + 0.5) / float64(k)
		centers[c] = stat.Quantile(q, stat.Empirical, sorted, nil)
	}

	labels := make([]int, len(values))
	for iter := 0; iter < MaxKMeansIterations; iter++ {
		changed := iter == 0
		for i, v := range values {
			if best := nearestCenter(v, centers); best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, v := range values {
			sums[labels[i]] += v
			counts[labels[i]]++
		}
		for c := range centers {
			// Empty clusters keep their previous centre.
			if counts[c] > 0 {
				centers[c] = sums[c] / float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	return labels, centers, nil
}

func nearestCenter(v float64, centers []float64) int {
	best := 0
	bestDist := math.Abs(v - centers[0])
	for c := 1; c < len(centers); c++ {
		if d := math.Abs(v - centers[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// GroupStats returns the mean and sample standard deviation of the values in each
// of k groups. Groups with at most one member get a standard deviation of 0; empty
// groups report the supplied fallback mean.
func GroupStats(values []float64, labels []int, k int, fallback []float64) (means, stds []float64) {
	groups := make([][]float64, k)
	for i, v := range values {
		groups[labels[i]] = append(groups[labels[i]], v)
	}

	means = make([]float64, k)
	stds = make([]float64, k)
	for c, g := range groups {
		switch len(g) {
		case 0:
			if c < len(fallback) {
				means[c] = fallback[c]
			}
		case 1:
			means[c] = g[0]
		default:
			means[c], stds[c] = stat.MeanStdDev(g, nil)
		}
	}
	return means, stds
}

// Euclidean returns the L2 distance between two equal-length vectors.
func Euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Nearest returns the index of the reference closest to point. Ties resolve to
// the lowest index.
func Nearest(point []float64, refs [][]float64) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, r := range refs {
		if d := Euclidean(point, r); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// Pair is a two-dimensional point.
type Pair [2]float64

// AssignSlots matches each pair, in order, to the closest unclaimed slot across
// all reference layouts. refs[c][s] is slot s of layout c; claiming slot s in one
// layout claims it in every layout. Candidates are scanned layout by layout, slot
// by slot, so ties go to the earliest. The result maps pair index to slot and
// never repeats a slot. Pairs left without a free slot get -1.
func AssignSlots(pairs []Pair, refs [][]Pair) []int {
	slots := 0
	for _, layout := range refs {
		if len(layout) > slots {
			slots = len(layout)
		}
	}

	claimed := make([]bool, slots)
	assigned := make([]int, len(pairs))
	for i, p := range pairs {
		best := -1
		bestDist := math.Inf(1)
		for _, layout := range refs {
			for s, r := range layout {
				if claimed[s] {
					continue
				}
				if d := Euclidean(p[:], r[:]); d < bestDist {
					best, bestDist = s, d
				}
			}
		}
		assigned[i] = best
		if best >= 0 {
			claimed[best] = true
		}
	}
	return assigned
}
