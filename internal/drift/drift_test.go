package drift

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, cosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarity_ZeroVectorIsZero(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, cosineSimilarity(a, b))
}

func TestMean_AveragesComponentwise(t *testing.T) {
	vecs := []pgvector.Vector{
		pgvector.NewVector([]float32{1, 1}),
		pgvector.NewVector([]float32{3, 5}),
	}
	out := mean(vecs)
	assert.InDelta(t, 2.0, float64(out[0]), 1e-6)
	assert.InDelta(t, 3.0, float64(out[1]), 1e-6)
}

// classify reproduces Detect's banding decision () in
// isolation so boundary values can be tested without constructing a
// Detector or a database.
func classify(sim, high, med float64) (class string, anomaly bool) {
	if sim < 1-high {
		return "high", true
	}
	if sim < 1-med {
		return "medium", false
	}
	return "normal", false
}

func TestDetect_BandingMatchesThresholds(t *testing.T) {
	const high = 0.5 // DRIFT_HIGH_THRESHOLD default
	const med = 0.3  // DRIFT_MEDIUM_THRESHOLD default

	cases := []struct {
		name string
		sim  float64
		want string
	}{
		{"similarity 1.0 is normal", 1.0, "normal"},
		{"similarity at normal/medium boundary", 1 - med, "normal"},
		{"similarity just under medium boundary", 1 - med - 0.01, "medium"},
		{"similarity at medium/high boundary", 1 - high, "medium"},
		{"similarity just under high boundary", 1 - high - 0.01, "high"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			class, anomaly := classify(c.sim, high, med)
			assert.Equal(t, c.want, class)
			assert.Equal(t, c.want == "high", anomaly)
		})
	}
}
