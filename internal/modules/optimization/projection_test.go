package optimization

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_FeasiblePointIsFixed(t *testing.T) {
	poly, err := newPolytope([]float64{0, 0, 0}, []int{0, 0, 1}, []float64{1, 1})
	require.NoError(t, err)

	out := make([]float64, 3)
	poly.project([]float64{0.5, 0.3, 0.2}, out)
	assert.InDeltaSlice(t, []float64{0.5, 0.3, 0.2}, out, 1e-12)
}

func TestProject_BindingSectorCap(t *testing.T) {
	poly, err := newPolytope([]float64{0, 0, 0}, []int{0, 0, 1}, []float64{0.5, 1})
	require.NoError(t, err)

	out := make([]float64, 3)
	poly.project([]float64{0.6, 0.4, 0}, out)
	assert.InDeltaSlice(t, []float64{0.35, 0.15, 0.5}, out, 1e-12)
}

func TestProject_LowerBounds(t *testing.T) {
	poly, err := newPolytope([]float64{0.1, 0.1, 0}, []int{0, 1, 2}, []float64{1, 1, 1})
	require.NoError(t, err)

	out := make([]float64, 3)
	poly.project([]float64{1, 0, 0}, out)
	assert.InDeltaSlice(t, []float64{0.9, 0.1, 0}, out, 1e-12)
}

func TestNewPolytope_Infeasible(t *testing.T) {
	tests := []struct {
		name     string
		lower    []float64
		sectorOf []int
		caps     []float64
	}{
		{"caps below one", []float64{0, 0}, []int{0, 1}, []float64{0.3, 0.3}},
		{"floors above cap", []float64{0.2, 0.2}, []int{0, 0}, []float64{0.3}},
		{"floors above one", []float64{0.6, 0.6}, []int{0, 1}, []float64{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPolytope(tt.lower, tt.sectorOf, tt.caps)
			assert.Error(t, err)
		})
	}
}

// For the projection x of y, (y - x)·(z - x) <= 0 for every feasible z.
func TestProject_VariationalInequality(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sectorOf := []int{0, 0, 0, 1, 1, 2, 2, 2, 3, 4}
	caps := []float64{0.3, 0.25, 0.35, 0.2, 0.3}
	lower := []float64{0.02, 0, 0, 0.02, 0, 0, 0.02, 0, 0, 0}

	poly, err := newPolytope(lower, sectorOf, caps)
	require.NoError(t, err)

	n := len(sectorOf)
	random := func() []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = rng.NormFloat64()
		}
		return v
	}

	for trial := 0; trial < 50; trial++ {
		y := random()
		x := make([]float64, n)
		poly.project(y, x)
		assertFeasible(t, x, lower, sectorOf, caps)

		for k := 0; k < 20; k++ {
			z := make([]float64, n)
			poly.project(random(), z)

			inner := 0.0
			for i := range x {
				inner += (y[i] - x[i]) * (z[i] - x[i])
			}
			assert.LessOrEqual(t, inner, 1e-9)
		}
	}
}

func assertFeasible(t *testing.T, w, lower []float64, sectorOf []int, caps []float64) {
	t.Helper()
	total := 0.0
	sums := make([]float64, len(caps))
	for i, v := range w {
		assert.GreaterOrEqual(t, v, lower[i]-1e-12)
		total += v
		sums[sectorOf[i]] += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	for s, sum := range sums {
		assert.LessOrEqual(t, sum, caps[s]+1e-9)
	}
}

func TestSimplexThreshold(t *testing.T) {
	b := []float64{0.6, 0.4, 0.1}
	theta := simplexThreshold(b, []int{0, 1, 2}, 0.5)
	assert.InDelta(t, 0.25, theta, 1e-12)

	assert.Equal(t, 0.6, simplexThreshold(b, []int{0, 1, 2}, 0))
}
