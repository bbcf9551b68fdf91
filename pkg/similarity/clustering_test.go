// Package similarity provides distance and clustering utilities for score series.
package similarity

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKMeans1D_SeparatedGroups(t *testing.T) {
	values := []float64{
		0.10, 0.11, 0.12,
		0.50, 0.52,
		1.00, 1.01, 1.02, 1.03,
		3.00, 3.10,
	}

	labels, centers, err := KMeans1D(values, 4)
	require.NoError(t, err)
	require.Len(t, labels, len(values))
	require.Len(t, centers, 4)

	// Members of each visible group share a label.
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[5], labels[8])
	assert.Equal(t, labels[9], labels[10])

	// And the groups are distinct.
	seen := map[int]bool{labels[0]: true, labels[3]: true, labels[5]: true, labels[9]: true}
	assert.Len(t, seen, 4)

	assert.InDelta(t, 0.11, centers[labels[0]], 1e-9)
	assert.InDelta(t, 3.05, centers[labels[9]], 1e-9)
}

func TestKMeans1D_Deterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	values := make([]float64, 40)
	for i := range values {
		values[i] = r.Float64()
	}

	l1, c1, err := KMeans1D(values, 4)
	require.NoError(t, err)
	l2, c2, err := KMeans1D(values, 4)
	require.NoError(t, err)

	assert.Equal(t, l1, l2)
	assert.Equal(t, c1, c2)
}

func TestKMeans1D_Errors(t *testing.T) {
	_, _, err := KMeans1D([]float64{1, 2, 3}, 4)
	assert.ErrorIs(t, err, ErrTooFewPoints)

	_, _, err = KMeans1D([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestGroupStats(t *testing.T) {
	values := []float64{1, 3, 10, 20, 30}
	labels := []int{0, 0, 1, 2, 2}

	means, stds := GroupStats(values, labels, 4, []float64{0, 0, 0, 7})

	assert.InDelta(t, 2.0, means[0], 1e-9)
	assert.InDelta(t, 1.4142135, stds[0], 1e-6) // sample std of {1,3}
	assert.InDelta(t, 10.0, means[1], 1e-9)
	assert.Equal(t, 0.0, stds[1], "single member has no variance estimate")
	assert.InDelta(t, 25.0, means[2], 1e-9)
	assert.InDelta(t, 7.0, means[3], 1e-9, "empty group uses fallback mean")
	assert.Equal(t, 0.0, stds[3])
}

func TestEuclideanAndNearest(t *testing.T) {
	assert.InDelta(t, 5.0, Euclidean([]float64{0, 0}, []float64{3, 4}), 1e-12)

	refs := [][]float64{{0, 0}, {10, 10}, {0, 0}}
	idx, dist := Nearest([]float64{1, 1}, refs)
	assert.Equal(t, 0, idx, "ties resolve to the lowest index")
	assert.InDelta(t, 1.41421356, dist, 1e-6)

	idx, _ = Nearest([]float64{9, 9}, refs)
	assert.Equal(t, 1, idx)
}

func TestAssignSlots_OneToOne(t *testing.T) {
	refs := [][]Pair{
		{{0.13, 0.12}, {0.12, 0.10}, {0.13, 0.13}, {0.14, 0.12}},
		{{0.32, 0.22}, {0.36, 0.23}, {0.35, 0.22}, {0.31, 0.21}},
	}

	r := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		pairs := make([]Pair, 4)
		for i := range pairs {
			pairs[i] = Pair{r.Float64() * 0.5, r.Float64() * 0.3}
		}

		slots := AssignSlots(pairs, refs)
		require.Len(t, slots, 4)

		seen := make(map[int]bool)
		for _, s := range slots {
			require.GreaterOrEqual(t, s, 0)
			require.Less(t, s, 4)
			require.False(t, seen[s], "slot %d assigned twice in run %d", s, run)
			seen[s] = true
		}
	}
}

func TestAssignSlots_GreedyOrder(t *testing.T) {
	refs := [][]Pair{{{0, 0}, {10, 10}}}

	// Both pairs are closest to slot 0; the first one claims it.
	slots := AssignSlots([]Pair{{0.1, 0.1}, {0.2, 0.2}}, refs)
	assert.Equal(t, []int{0, 1}, slots)

	// A third pair has nowhere to go.
	slots = AssignSlots([]Pair{{0, 0}, {10, 10}, {5, 5}}, refs)
	assert.Equal(t, []int{0, 1, -1}, slots)
}
