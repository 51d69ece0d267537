package tsne

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func assertJointDistribution(t *testing.T, joint *mat.Dense) {
	t.Helper()

	n, _ := joint.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		assert.Equal(t, 0.0, joint.At(i, i), "diagonal entry %d", i)
		for j := 0; j < n; j++ {
			assert.GreaterOrEqual(t, joint.At(i, j), 0.0)
			assert.InDelta(t, joint.At(i, j), joint.At(j, i), 1e-15)
			total += joint.At(i, j)
		}
	}
	assert.InDelta(t, 1.0, total, 1e-10)
}

// entropy returns the Shannon entropy (natural log) of a probability row.
func entropy(row []float64) float64 {
	h := 0.0
	for _, p := range row {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

func TestGaussianJointProbabilities_IsJointDistribution(t *testing.T) {
	distances := PairwiseDistances(randomPoints(30, 5, 11))

	p, err := GaussianJointProbabilities(distances, 5, 1e-5)
	require.NoError(t, err)

	assertJointDistribution(t, p)
}

func TestConditionalProbabilities_RecoversPerplexity(t *testing.T) {
	distances := PairwiseDistances(randomPoints(40, 8, 5))
	squared := mat.NewDense(40, 40, nil)
	squaredInto(squared, distances)

	for _, perplexity := range []float64{2, 5, 15, 30} {
		conditional, precisions, err := ConditionalProbabilities(squared, perplexity, 1e-5)
		require.NoError(t, err)
		require.Len(t, precisions, 40)

		for i := 0; i < 40; i++ {
			row := conditional.RawRowView(i)

			sum := 0.0
			for _, p := range row {
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
			assert.Equal(t, 0.0, row[i])
			assert.Greater(t, precisions[i], 0.0)
			assert.InDelta(t, math.Log(perplexity), entropy(row), 1e-4,
				"row %d at perplexity %g", i, perplexity)
		}
	}
}

func TestConditionalProbabilities_LargerPerplexityLowersPrecision(t *testing.T) {
	distances := PairwiseDistances(randomPoints(30, 4, 8))
	squared := mat.NewDense(30, 30, nil)
	squaredInto(squared, distances)

	_, narrow, err := ConditionalProbabilities(squared, 3, 1e-6)
	require.NoError(t, err)
	_, wide, err := ConditionalProbabilities(squared, 20, 1e-6)
	require.NoError(t, err)

	for i := range narrow {
		assert.Greater(t, narrow[i], wide[i], "row %d", i)
	}
}

func TestConditionalProbabilities_EquidistantNeighbours(t *testing.T) {
	// Every neighbour at the same distance gives a uniform row whatever β is.
	squared := mat.NewDense(4, 4, []float64{
		0, 1, 1, 1,
		1, 0, 1, 1,
		1, 1, 0, 1,
		1, 1, 1, 0,
	})

	conditional, _, err := ConditionalProbabilities(squared, 3, 1e-5)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				assert.Equal(t, 0.0, conditional.At(i, j))
				continue
			}
			assert.InDelta(t, 1.0/3, conditional.At(i, j), 1e-12)
		}
	}
}

func TestGaussianJointProbabilities_Errors(t *testing.T) {
	t.Run("non-square", func(t *testing.T) {
		_, err := GaussianJointProbabilities(mat.NewDense(3, 2, nil), 1, 1e-5)
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("single point", func(t *testing.T) {
		_, err := GaussianJointProbabilities(mat.NewDense(1, 1, nil), 1, 1e-5)
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("perplexity above available neighbours", func(t *testing.T) {
		distances := PairwiseDistances(randomPoints(5, 2, 1))
		_, err := GaussianJointProbabilities(distances, 4.5, 1e-5)
		assert.ErrorIs(t, err, ErrInputShape)
	})
}

func TestStudentTJointProbabilities_TwoPoints(t *testing.T) {
	distances := mat.NewDense(2, 2, []float64{
		0, 1,
		1, 0,
	})

	q := StudentTJointProbabilities(distances)

	assert.Equal(t, []float64{0, 0.5, 0.5, 0}, q.RawMatrix().Data)
}

func TestStudentTJointProbabilities_IsJointDistribution(t *testing.T) {
	distances := PairwiseDistances(randomPoints(20, 2, 4))

	q := StudentTJointProbabilities(distances)

	assertJointDistribution(t, q)
}

func TestStudentTInto_ReturnsNormalization(t *testing.T) {
	distances := PairwiseDistances(randomPoints(12, 3, 9))
	q := mat.NewDense(12, 12, nil)

	z := studentTInto(q, distances)

	assert.InDelta(t, normalization(distances), z, 1e-12)
	// Q·Z recovers the unnormalised kernel.
	d := distances.At(2, 7)
	assert.InDelta(t, 1/(1+d*d), q.At(2, 7)*z, 1e-12)
}

func BenchmarkGaussianJointProbabilities(b *testing.B) {
	distances := PairwiseDistances(randomPoints(200, 20, 1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := GaussianJointProbabilities(distances, 30, 1e-5); err != nil {
			b.Fatal(err)
		}
	}
}
