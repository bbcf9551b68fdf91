package changepoint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func gaussianSample(rng *rand.Rand, n int, mean float64) *mat.Dense {
	m := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		m.Set(i, 0, mean+rng.NormFloat64())
		m.Set(i, 1, rng.NormFloat64())
	}
	return m
}

func TestRuLSIF_ShiftedExceedsSame(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := gaussianSample(rng, 50, 0)
	b := gaussianSample(rng, 50, 0)
	c := gaussianSample(rng, 50, 6)

	r := NewRuLSIF(DefaultAlpha)
	same, err := r.Divergence(a, b)
	require.NoError(t, err)
	shifted, err := r.Divergence(a, c)
	require.NoError(t, err)

	assert.Greater(t, shifted, same)
	// The alpha-relative divergence is bounded by (1/alpha - 1) / 2.
	assert.LessOrEqual(t, shifted, 4.5+1e-6)
}

func TestRuLSIF_FixedParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	a := gaussianSample(rng, 20, 0)
	c := gaussianSample(rng, 20, 5)

	r := &RuLSIF{Alpha: 0.1, SigmaRange: []float64{1}, LambdaRange: []float64{0.01}, KernelNum: 10}
	d1, err := r.Divergence(a, c)
	require.NoError(t, err)
	d2, err := r.Divergence(a, c)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Greater(t, d1, 0.0)
}

func TestRuLSIF_Errors(t *testing.T) {
	r := NewRuLSIF(DefaultAlpha)

	_, err := r.Divergence(mat.NewDense(1, 2, nil), mat.NewDense(5, 2, nil))
	assert.Error(t, err)

	_, err = r.Divergence(mat.NewDense(5, 2, nil), mat.NewDense(5, 3, nil))
	assert.Error(t, err)

	bad := &RuLSIF{Alpha: 1, SigmaRange: []float64{1}, LambdaRange: []float64{1}}
	_, err = bad.Divergence(mat.NewDense(5, 2, nil), mat.NewDense(5, 2, nil))
	assert.Error(t, err)
}

func TestLogspace(t *testing.T) {
	got := logspace(-3, 1, 9)
	require.Len(t, got, 9)
	assert.InDelta(t, 0.001, got[0], 1e-12)
	assert.InDelta(t, 0.01, got[2], 1e-12)
	assert.InDelta(t, 10, got[8], 1e-9)
}
