// Package tsne implements exact t-distributed Stochastic Neighbor Embedding.
//
// t-SNE embeds high-dimensional points in a low-dimensional space (usually 2
// or 3 dimensions) so that local neighbourhoods are preserved. It works by:
//
//  1. Turning input distances into a joint distribution P with a Gaussian
//     kernel whose bandwidth is calibrated per point to a target perplexity
//  2. Measuring the embedding with a heavy-tailed Student-t kernel, giving Q
//  3. Moving the embedding down the gradient of KL(P‖Q) with momentum, while
//     P is exaggerated during the first iterations
//
// Every pairwise quantity is computed exactly, so a fit costs O(n²) memory
// and O(n²·k) time per iteration.
//
// Reference: van der Maaten, L., & Hinton, G. (2008). Visualizing Data using
// t-SNE. Journal of Machine Learning Research, 9, 2579-2605.
//
// Basic usage:
//
//	options := tsne.DefaultOptions()
//	options.Perplexity = 10
//	optimizer, err := tsne.New(options)
//	embedding, err := optimizer.Fit(data, false)
package tsne

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alDuncanson/tsne/projection"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type state int

const (
	stateUninitialized state = iota
	stateValidated
	stateEmbeddingInitialized
	stateIterating
	stateFinished
)

// CostCheckpoint is one KL divergence measurement taken during a fit.
type CostCheckpoint struct {
	Iteration int
	Cost      float64
}

// TSne owns the configuration and the state of one embedding run. It is not
// safe for concurrent use; create one optimizer per goroutine.
type TSne struct {
	options         Options
	metric          Metric
	seed            int64
	logger          *slog.Logger
	decomposer      Decomposer
	newNormalSource func(seed int64) NormalSource

	state         state
	learningRate  float64
	bestIteration int
	bestCost      float64
	bestEmbedding *mat.Dense
	history       []CostCheckpoint
}

// New validates the options and returns an optimizer ready to Fit.
func New(options Options) (*TSne, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.NDimensions > 3 {
		logger.Warn("embeddings with more than 3 dimensions cannot be displayed",
			"n_dimensions", options.NDimensions)
	}

	seed := time.Now().Unix()
	if options.Seed != nil {
		seed = *options.Seed
	}

	return &TSne{
		options:         options,
		metric:          options.Metric.normalized(),
		seed:            seed,
		logger:          logger,
		decomposer:      projection.PCA{},
		newNormalSource: NewNormalSource,
		state:           stateValidated,
	}, nil
}

// WithDecomposer replaces the PCA implementation used for InitPCA.
func (t *TSne) WithDecomposer(decomposer Decomposer) *TSne {
	t.decomposer = decomposer
	return t
}

// WithNormalSource replaces the random source used for InitRandom. The
// factory is called once per Fit with the optimizer's seed.
func (t *TSne) WithNormalSource(factory func(seed int64) NormalSource) *TSne {
	t.newNormalSource = factory
	return t
}

// Seed returns the seed used for random initialization.
func (t *TSne) Seed() int64 { return t.seed }

// Options returns the configuration the optimizer was built with.
func (t *TSne) Options() Options { return t.options }

// Fit embeds x and returns a fresh n×NDimensions matrix.
//
// With the euclidean metric x is an n×d point set; with the precomputed
// metric it is an n×n distance matrix. When returnLast is false the embedding
// with the lowest recorded cost is returned, otherwise the one reached after
// the final iteration.
func (t *TSne) Fit(x mat.Matrix, returnLast bool) (*mat.Dense, error) {
	if t.state == stateUninitialized {
		return nil, fmt.Errorf("%w: optimizer must be created with New", ErrState)
	}
	startedAt := time.Now()

	t.resetResults()
	result, err := t.fit(x, returnLast)
	if err != nil {
		t.state = stateValidated
		return nil, err
	}
	t.state = stateFinished

	if t.options.Verbose > 0 {
		elapsed := time.Since(startedAt)
		t.logger.Info("embedding process finished",
			"elapsed", elapsed,
			"per_iteration", elapsed/time.Duration(t.options.MaxIter),
			"learning_rate", t.learningRate,
			"best_iteration", t.bestIteration,
			"best_cost", t.bestCost,
		)
	}
	return result, nil
}

func (t *TSne) resetResults() {
	t.state = stateValidated
	t.learningRate = 0
	t.bestIteration = 0
	t.bestCost = 0
	t.bestEmbedding = nil
	t.history = nil
}

func (t *TSne) fit(x mat.Matrix, returnLast bool) (*mat.Dense, error) {
	numberOfSamples, err := t.validateInput(x)
	if err != nil {
		return nil, err
	}

	embedding, err := t.initialEmbedding(x, numberOfSamples)
	if err != nil {
		return nil, err
	}
	t.state = stateEmbeddingInitialized

	t.learningRate = t.options.LearningRate.resolve(numberOfSamples, t.options.EarlyExaggeration)

	p, err := t.inputAffinities(x)
	if err != nil {
		return nil, err
	}
	p.Scale(t.options.EarlyExaggeration, p)

	return t.descend(embedding, p, returnLast)
}

func (t *TSne) validateInput(x mat.Matrix) (int, error) {
	numberOfSamples, numberOfFeatures := x.Dims()

	if numberOfSamples < 2 {
		return 0, inputErrorf("at least 2 samples are required, got %d", numberOfSamples)
	}
	if t.metric == MetricPrecomputed && numberOfSamples != numberOfFeatures {
		return 0, inputErrorf("when metric is 'precomputed', input data must be a square distance matrix, got %dx%d",
			numberOfSamples, numberOfFeatures)
	}

	minimumSamples := 2 * int(t.options.Perplexity)
	if numberOfSamples < minimumSamples {
		return 0, inputErrorf("not enough samples: perplexity %g requires at least %d samples, got %d",
			t.options.Perplexity, minimumSamples, numberOfSamples)
	}

	if supplied := t.options.Init.Embedding; supplied != nil {
		if rows, _ := supplied.Dims(); rows != numberOfSamples {
			return 0, inputErrorf("the input data must have the same number of samples as the initial embedding (%d), got %d",
				rows, numberOfSamples)
		}
	}

	if !allFinite(x) {
		return 0, inputErrorf("input data must not contain NaN or infinite values")
	}
	return numberOfSamples, nil
}

// inputAffinities computes the joint distribution P of the input.
func (t *TSne) inputAffinities(x mat.Matrix) (*mat.Dense, error) {
	var distances *mat.Dense
	if t.metric == MetricPrecomputed {
		distances = mat.DenseCopyOf(x)
	} else {
		distances = PairwiseDistances(x)
	}
	return GaussianJointProbabilities(distances, t.options.Perplexity, t.options.PerplexityTolerance)
}

// descend runs the momentum gradient descent. p arrives exaggerated and is
// scaled back in place at the momentum threshold. All n×n and n×k buffers are
// allocated once here and overwritten every iteration.
func (t *TSne) descend(embedding, p *mat.Dense, returnLast bool) (*mat.Dense, error) {
	numberOfSamples, numberOfDimensions := embedding.Dims()
	maxIter := t.options.MaxIter

	distances := mat.NewDense(numberOfSamples, numberOfSamples, nil)
	q := mat.NewDense(numberOfSamples, numberOfSamples, nil)
	gradient := mat.NewDense(numberOfSamples, numberOfDimensions, nil)
	update := mat.NewDense(numberOfSamples, numberOfDimensions, nil)
	best := mat.NewDense(numberOfSamples, numberOfDimensions, nil)
	scratch := newGradientScratch(numberOfSamples, numberOfDimensions)

	momentum := t.options.StartingMomentum
	recorded := false
	cost := 0.0

	t.state = stateIterating
	for iteration := 0; iteration <= maxIter; iteration++ {
		pairwiseDistancesInto(distances, embedding)
		studentTInto(q, distances)

		if iteration%t.options.ItersCheck == 0 || iteration == maxIter {
			cost = KLDivergence(p, q)
			t.history = append(t.history, CostCheckpoint{Iteration: iteration, Cost: cost})
			if !recorded || cost < t.bestCost {
				recorded = true
				t.bestIteration = iteration
				t.bestCost = cost
				best.Copy(embedding)
			}
			if t.options.Verbose > 1 {
				t.logger.Info("iteration checkpoint",
					"iteration", iteration,
					"max_iter", maxIter,
					"cost", cost,
					"momentum", momentum,
				)
			}
		}

		if iteration == t.options.MomentumThreshold {
			p.Scale(1/t.options.EarlyExaggeration, p)
			momentum = t.options.EndingMomentum
		} else if iteration == maxIter {
			break
		}

		if err := gradientInto(gradient, t.options.Gradient, p, q, embedding, distances, scratch); err != nil {
			return nil, err
		}

		// update = momentum·update - lr·gradient
		update.Scale(momentum, update)
		floats.AddScaled(update.RawMatrix().Data, -t.learningRate, gradient.RawMatrix().Data)
		embedding.Add(embedding, update)
	}

	t.bestEmbedding = best
	if returnLast {
		t.bestIteration = maxIter
		t.bestCost = cost
		return mat.DenseCopyOf(embedding), nil
	}
	return mat.DenseCopyOf(best), nil
}

func (t *TSne) requireFinished() error {
	if t.state != stateFinished {
		return ErrState
	}
	return nil
}

// EmbeddingCostInfo returns the iteration and KL cost of the embedding the
// last Fit returned.
func (t *TSne) EmbeddingCostInfo() (iteration int, cost float64, err error) {
	if err := t.requireFinished(); err != nil {
		return 0, 0, err
	}
	return t.bestIteration, t.bestCost, nil
}

// BestEmbedding returns a copy of the lowest-cost embedding seen during the
// last Fit, independent of returnLast.
func (t *TSne) BestEmbedding() (*mat.Dense, error) {
	if err := t.requireFinished(); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(t.bestEmbedding), nil
}

// CostHistory returns every cost checkpoint of the last Fit in order.
func (t *TSne) CostHistory() ([]CostCheckpoint, error) {
	if err := t.requireFinished(); err != nil {
		return nil, err
	}
	return append([]CostCheckpoint(nil), t.history...), nil
}

// LearningRate returns the step size resolved for the last Fit.
func (t *TSne) LearningRate() (float64, error) {
	if err := t.requireFinished(); err != nil {
		return 0, err
	}
	return t.learningRate, nil
}
