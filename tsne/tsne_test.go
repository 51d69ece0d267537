package tsne

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alDuncanson/tsne/projection"
	"github.com/alDuncanson/tsne/synthetic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// quickOptions returns a short, seeded configuration for small inputs.
func quickOptions() Options {
	seed := int64(42)
	options := DefaultOptions()
	options.Perplexity = 5
	options.MaxIter = 100
	options.MomentumThreshold = 50
	options.ItersCheck = 25
	options.Seed = &seed
	return options
}

func fitWith(t *testing.T, options Options, x mat.Matrix, returnLast bool) (*TSne, *mat.Dense) {
	t.Helper()

	optimizer, err := New(options)
	require.NoError(t, err)

	embedding, err := optimizer.Fit(x, returnLast)
	require.NoError(t, err)
	return optimizer, embedding
}

func assertFinite(t *testing.T, matrix *mat.Dense) {
	t.Helper()
	for i, value := range matrix.RawMatrix().Data {
		require.False(t, math.IsNaN(value) || math.IsInf(value, 0), "entry %d is %v", i, value)
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	options := DefaultOptions()
	options.Perplexity = -3

	optimizer, err := New(options)

	assert.Nil(t, optimizer)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_SeedDefaultsToCurrentTime(t *testing.T) {
	options := DefaultOptions()
	options.Seed = nil

	optimizer, err := New(options)
	require.NoError(t, err)

	assert.InDelta(t, time.Now().Unix(), optimizer.Seed(), 5)
}

func TestNew_WarnsAboveThreeDimensions(t *testing.T) {
	var logs bytes.Buffer
	options := quickOptions()
	options.NDimensions = 4
	options.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	_, err := New(options)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "n_dimensions=4")
}

func TestQueriesBeforeFit(t *testing.T) {
	optimizer, err := New(quickOptions())
	require.NoError(t, err)

	_, _, err = optimizer.EmbeddingCostInfo()
	assert.ErrorIs(t, err, ErrState)
	_, err = optimizer.BestEmbedding()
	assert.ErrorIs(t, err, ErrState)
	_, err = optimizer.CostHistory()
	assert.ErrorIs(t, err, ErrState)
	_, err = optimizer.LearningRate()
	assert.ErrorIs(t, err, ErrState)
}

func TestFit_ZeroValueOptimizer(t *testing.T) {
	var optimizer TSne

	_, err := optimizer.Fit(randomPoints(10, 3, 1), false)

	assert.ErrorIs(t, err, ErrState)
}

func TestFit_MinimumSamples(t *testing.T) {
	options := quickOptions()

	t.Run("twice the perplexity succeeds", func(t *testing.T) {
		_, embedding := fitWith(t, options, randomPoints(10, 4, 1), false)
		rows, columns := embedding.Dims()
		assert.Equal(t, 10, rows)
		assert.Equal(t, 2, columns)
	})

	t.Run("one fewer fails", func(t *testing.T) {
		optimizer, err := New(options)
		require.NoError(t, err)

		_, err = optimizer.Fit(randomPoints(9, 4, 1), false)
		assert.ErrorIs(t, err, ErrInputShape)
	})

	t.Run("two points", func(t *testing.T) {
		options := quickOptions()
		options.Perplexity = 1
		_, embedding := fitWith(t, options, randomPoints(2, 3, 1), false)
		assertFinite(t, embedding)
	})

	t.Run("single point", func(t *testing.T) {
		options := quickOptions()
		options.Perplexity = 0.5
		optimizer, err := New(options)
		require.NoError(t, err)

		_, err = optimizer.Fit(randomPoints(1, 3, 1), false)
		assert.ErrorIs(t, err, ErrInputShape)
	})
}

func TestFit_InputShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		input  func() mat.Matrix
	}{
		{
			name:   "precomputed matrix not square",
			mutate: func(o *Options) { o.Metric = MetricPrecomputed },
			input:  func() mat.Matrix { return randomPoints(12, 4, 1) },
		},
		{
			name:   "initial embedding row mismatch",
			mutate: func(o *Options) { o.Init = EmbeddingInit(randomPoints(10, 2, 1)) },
			input:  func() mat.Matrix { return randomPoints(12, 4, 1) },
		},
		{
			name:   "non-finite input",
			mutate: func(o *Options) {},
			input: func() mat.Matrix {
				x := randomPoints(12, 4, 1)
				x.Set(3, 2, math.Inf(-1))
				return x
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := quickOptions()
			tt.mutate(&options)
			optimizer, err := New(options)
			require.NoError(t, err)

			_, err = optimizer.Fit(tt.input(), false)
			assert.ErrorIs(t, err, ErrInputShape)
		})
	}
}

func TestFit_FailureResetsState(t *testing.T) {
	optimizer, err := New(quickOptions())
	require.NoError(t, err)

	_, err = optimizer.Fit(randomPoints(12, 4, 1), false)
	require.NoError(t, err)
	_, _, err = optimizer.EmbeddingCostInfo()
	require.NoError(t, err)

	_, err = optimizer.Fit(randomPoints(3, 4, 1), false)
	require.ErrorIs(t, err, ErrInputShape)

	_, _, err = optimizer.EmbeddingCostInfo()
	assert.ErrorIs(t, err, ErrState)
}

func TestFit_Deterministic(t *testing.T) {
	x := randomPoints(20, 5, 7)

	first, embedding := fitWith(t, quickOptions(), x, false)
	_, again := fitWith(t, quickOptions(), x, false)
	assert.Equal(t, embedding.RawMatrix().Data, again.RawMatrix().Data)

	// Refitting the same optimizer starts over from the same seed.
	refit, err := first.Fit(x, false)
	require.NoError(t, err)
	assert.Equal(t, embedding.RawMatrix().Data, refit.RawMatrix().Data)

	otherSeed := quickOptions()
	seed := int64(43)
	otherSeed.Seed = &seed
	_, different := fitWith(t, otherSeed, x, false)
	assert.NotEqual(t, embedding.RawMatrix().Data, different.RawMatrix().Data)
}

func TestFit_DoesNotModifyInputs(t *testing.T) {
	x := randomPoints(12, 3, 2)
	original := mat.DenseCopyOf(x)
	initial := randomPoints(12, 2, 3)
	initialCopy := mat.DenseCopyOf(initial)

	options := quickOptions()
	options.Init = EmbeddingInit(initial)
	_, embedding := fitWith(t, options, x, false)

	assert.True(t, mat.Equal(original, x))
	assert.True(t, mat.Equal(initialCopy, initial))
	assert.False(t, mat.Equal(initial, embedding))
}

func TestFit_CostHistory(t *testing.T) {
	options := quickOptions()
	options.MaxIter = 120

	optimizer, _ := fitWith(t, options, randomPoints(15, 4, 5), false)

	history, err := optimizer.CostHistory()
	require.NoError(t, err)

	iterations := make([]int, len(history))
	for i, checkpoint := range history {
		iterations[i] = checkpoint.Iteration
		assert.False(t, math.IsNaN(checkpoint.Cost))
	}
	assert.Equal(t, []int{0, 25, 50, 75, 100, 120}, iterations)

	bestIteration, bestCost, err := optimizer.EmbeddingCostInfo()
	require.NoError(t, err)
	for _, checkpoint := range history {
		assert.LessOrEqual(t, bestCost, checkpoint.Cost)
	}
	assert.Contains(t, iterations, bestIteration)
}

func TestFit_BestCostNeverIncreasesWithMoreIterations(t *testing.T) {
	x := randomPoints(20, 6, 13)
	previous := math.Inf(1)

	for _, maxIter := range []int{100, 200, 300, 400} {
		options := quickOptions()
		options.MaxIter = maxIter
		options.ItersCheck = 50

		optimizer, _ := fitWith(t, options, x, false)
		_, cost, err := optimizer.EmbeddingCostInfo()
		require.NoError(t, err)

		assert.LessOrEqual(t, cost, previous, "max_iter %d", maxIter)
		previous = cost
	}
}

func TestFit_ReturnLast(t *testing.T) {
	x := randomPoints(15, 4, 8)

	optimizer, last := fitWith(t, quickOptions(), x, true)

	iteration, cost, err := optimizer.EmbeddingCostInfo()
	require.NoError(t, err)
	assert.Equal(t, 100, iteration)

	history, err := optimizer.CostHistory()
	require.NoError(t, err)
	assert.Equal(t, history[len(history)-1].Cost, cost)

	// The final embedding is the one the last checkpoint measured.
	distances := PairwiseDistances(last)
	q := StudentTJointProbabilities(distances)
	p, err := GaussianJointProbabilities(PairwiseDistances(x), 5, DefaultOptions().PerplexityTolerance)
	require.NoError(t, err)
	assert.InDelta(t, cost, KLDivergence(p, q), 1e-9)

	best, err := optimizer.BestEmbedding()
	require.NoError(t, err)
	assertFinite(t, best)
}

func TestFit_LearningRate(t *testing.T) {
	optimizer, _ := fitWith(t, quickOptions(), randomPoints(20, 3, 1), false)
	rate, err := optimizer.LearningRate()
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)

	options := quickOptions()
	options.LearningRate = FixedLearningRate(123)
	optimizer, _ = fitWith(t, options, randomPoints(20, 3, 1), false)
	rate, err = optimizer.LearningRate()
	require.NoError(t, err)
	assert.Equal(t, 123.0, rate)
}

func TestFit_PrecomputedMatchesEuclidean(t *testing.T) {
	x := randomPoints(16, 5, 4)

	_, fromPoints := fitWith(t, quickOptions(), x, false)

	options := quickOptions()
	options.Metric = MetricPrecomputed
	_, fromDistances := fitWith(t, options, PairwiseDistances(x), false)

	assert.Equal(t, fromPoints.RawMatrix().Data, fromDistances.RawMatrix().Data)
}

func TestFit_GradientModes(t *testing.T) {
	x := randomPoints(18, 5, 6)

	for _, mode := range []GradientMode{GradientDirect, GradientForces, GradientForcesV2} {
		t.Run(mode.String(), func(t *testing.T) {
			options := quickOptions()
			options.Gradient = mode
			optimizer, embedding := fitWith(t, options, x, false)
			assertFinite(t, embedding)

			_, cost, err := optimizer.EmbeddingCostInfo()
			require.NoError(t, err)
			assert.False(t, math.IsNaN(cost))
		})
	}
}

type recordingDecomposer struct {
	components int
	projection *mat.Dense
	err        error
}

func (decomposer *recordingDecomposer) FitTransform(data mat.Matrix, numberOfComponents int) (*mat.Dense, error) {
	decomposer.components = numberOfComponents
	if decomposer.err != nil {
		return nil, decomposer.err
	}
	return mat.DenseCopyOf(decomposer.projection), nil
}

func TestPCAEmbedding_ScalesFirstDimension(t *testing.T) {
	decomposer := &recordingDecomposer{projection: mat.NewDense(4, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})}
	options := quickOptions()
	options.Init = PCAInit()
	optimizer, err := New(options)
	require.NoError(t, err)
	optimizer.WithDecomposer(decomposer)

	embedding, err := optimizer.pcaEmbedding(mat.NewDense(4, 3, nil), 4, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, decomposer.components)
	assert.InDelta(t, pcaInitScale, stat.PopStdDev(mat.Col(nil, 0, embedding), nil), 1e-15)
	// Both columns share one scale factor.
	assert.InDelta(t, 10*embedding.At(3, 0), embedding.At(3, 1), 1e-15)
}

func TestPCAEmbedding_Errors(t *testing.T) {
	failure := errors.New("svd exploded")
	options := quickOptions()
	options.Init = PCAInit()

	t.Run("decomposer error", func(t *testing.T) {
		optimizer, err := New(options)
		require.NoError(t, err)
		optimizer.WithDecomposer(&recordingDecomposer{err: failure})

		_, err = optimizer.Fit(randomPoints(12, 3, 1), false)
		assert.ErrorIs(t, err, failure)
	})

	t.Run("wrong projection shape", func(t *testing.T) {
		optimizer, err := New(options)
		require.NoError(t, err)
		optimizer.WithDecomposer(&recordingDecomposer{projection: mat.NewDense(12, 1, nil)})

		_, err = optimizer.Fit(randomPoints(12, 3, 1), false)
		assert.Error(t, err)
	})
}

func TestFit_PCAInit(t *testing.T) {
	options := quickOptions()
	options.Init = PCAInit()

	_, embedding := fitWith(t, options, randomPoints(20, 6, 3), false)

	assertFinite(t, embedding)
}

func TestInitialEmbedding_PCAScalesThroughProjection(t *testing.T) {
	options := quickOptions()
	options.Init = PCAInit()
	optimizer, err := New(options)
	require.NoError(t, err)

	x := randomPoints(20, 6, 3)
	embedding, err := optimizer.initialEmbedding(x, 20)
	require.NoError(t, err)

	rows, columns := embedding.Dims()
	require.Equal(t, 20, rows)
	require.Equal(t, 2, columns)
	assert.InDelta(t, pcaInitScale, stat.PopStdDev(mat.Col(nil, 0, embedding), nil), 1e-15)

	// The initial embedding is the PCA projection up to one positive factor.
	projected, err := projection.PCA{}.FitTransform(x, 2)
	require.NoError(t, err)
	factor := embedding.At(0, 0) / projected.At(0, 0)
	assert.Greater(t, factor, 0.0)
	for i := 0; i < rows; i++ {
		for c := 0; c < columns; c++ {
			assert.InDelta(t, factor*projected.At(i, c), embedding.At(i, c), 1e-12)
		}
	}

	// A second run starts from the same coordinates.
	again, err := optimizer.initialEmbedding(x, 20)
	require.NoError(t, err)
	assert.True(t, mat.Equal(embedding, again))
}

type fixedNormalSource struct {
	seeds []int64
}

func (source *fixedNormalSource) factory(seed int64) NormalSource {
	source.seeds = append(source.seeds, seed)
	return source
}

func (source *fixedNormalSource) StandardNormal(rows, columns int) *mat.Dense {
	embedding := mat.NewDense(rows, columns, nil)
	for i := 0; i < rows; i++ {
		for c := 0; c < columns; c++ {
			embedding.Set(i, c, float64(i+c)*1e-2)
		}
	}
	return embedding
}

func TestFit_NormalSourceReceivesSeed(t *testing.T) {
	source := &fixedNormalSource{}
	optimizer, err := New(quickOptions())
	require.NoError(t, err)
	optimizer.WithNormalSource(source.factory)

	x := randomPoints(12, 3, 1)
	_, err = optimizer.Fit(x, false)
	require.NoError(t, err)
	_, err = optimizer.Fit(x, false)
	require.NoError(t, err)

	assert.Equal(t, []int64{42, 42}, source.seeds)
}

func TestFit_VerboseLogging(t *testing.T) {
	var logs bytes.Buffer
	options := quickOptions()
	options.Verbose = 2
	options.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	fitWith(t, options, randomPoints(12, 3, 1), false)

	output := logs.String()
	assert.Contains(t, output, "iteration checkpoint")
	assert.Contains(t, output, "embedding process finished")
	assert.Contains(t, output, "best_iteration=")
}

func TestFit_SeparatesTwoBlobs(t *testing.T) {
	x, labels, err := synthetic.Blobs(synthetic.BlobsConfig{
		Centers:         2,
		PointsPerCenter: 25,
		Dimensions:      10,
		Separation:      10,
		Spread:          1,
		Seed:            3,
	})
	require.NoError(t, err)

	options := quickOptions()
	options.Perplexity = 10
	options.MaxIter = 250
	options.MomentumThreshold = 100
	options.ItersCheck = 50

	_, embedding := fitWith(t, options, x, false)

	within, between := synthetic.MeanDistances(embedding, labels)
	assert.Less(t, within, between)

	// Nearly every point's nearest embedded neighbour comes from its own blob.
	distances := PairwiseDistances(embedding)
	agreeing := 0
	for i := range labels {
		nearest, nearestDistance := -1, math.Inf(1)
		for j := range labels {
			if j != i && distances.At(i, j) < nearestDistance {
				nearest, nearestDistance = j, distances.At(i, j)
			}
		}
		if labels[nearest] == labels[i] {
			agreeing++
		}
	}
	assert.GreaterOrEqual(t, agreeing, 45)
}

func BenchmarkFit(b *testing.B) {
	x := randomPoints(100, 20, 1)
	options := quickOptions()
	options.Perplexity = 15
	options.MaxIter = 200
	options.MomentumThreshold = 100

	for i := 0; i < b.N; i++ {
		optimizer, err := New(options)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := optimizer.Fit(x, false); err != nil {
			b.Fatal(err)
		}
	}
}
