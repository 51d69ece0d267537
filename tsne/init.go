package tsne

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// pcaInitScale is the standard deviation of the first embedding dimension
// after PCA initialization. Small starting coordinates keep the initial
// repulsive forces small.
const pcaInitScale = 1e-4

// Decomposer projects data onto its leading components. projection.PCA is the
// default implementation.
type Decomposer interface {
	FitTransform(data mat.Matrix, numberOfComponents int) (*mat.Dense, error)
}

// NormalSource draws matrices of independent standard normal values.
type NormalSource interface {
	StandardNormal(rows, columns int) *mat.Dense
}

// NewNormalSource returns a NormalSource backed by math/rand seeded with seed.
func NewNormalSource(seed int64) NormalSource {
	return &seededNormal{rng: rand.New(rand.NewSource(seed))}
}

type seededNormal struct {
	rng *rand.Rand
}

func (source *seededNormal) StandardNormal(rows, columns int) *mat.Dense {
	data := make([]float64, rows*columns)
	for i := range data {
		data[i] = source.rng.NormFloat64()
	}
	return mat.NewDense(rows, columns, data)
}

// initialEmbedding produces the starting n×k embedding for a fit. The random
// source is created here so every Fit call starts from the same seed.
func (t *TSne) initialEmbedding(x mat.Matrix, numberOfSamples int) (*mat.Dense, error) {
	numberOfDimensions := t.options.NDimensions

	if supplied := t.options.Init.Embedding; supplied != nil {
		return mat.DenseCopyOf(supplied), nil
	}

	switch t.options.Init.strategy() {
	case InitPCA:
		return t.pcaEmbedding(x, numberOfSamples, numberOfDimensions)
	default:
		return t.newNormalSource(t.seed).StandardNormal(numberOfSamples, numberOfDimensions), nil
	}
}

func (t *TSne) pcaEmbedding(x mat.Matrix, numberOfSamples, numberOfDimensions int) (*mat.Dense, error) {
	projected, err := t.decomposer.FitTransform(x, numberOfDimensions)
	if err != nil {
		return nil, fmt.Errorf("pca initialization: %w", err)
	}

	rows, columns := projected.Dims()
	if rows != numberOfSamples || columns != numberOfDimensions {
		return nil, fmt.Errorf("pca initialization: expected %dx%d projection, got %dx%d",
			numberOfSamples, numberOfDimensions, rows, columns)
	}

	firstDimension := mat.Col(nil, 0, projected)
	if deviation := stat.PopStdDev(firstDimension, nil); deviation > 0 {
		projected.Scale(pcaInitScale/deviation, projected)
	}
	return projected, nil
}
