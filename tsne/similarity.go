package tsne

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// perplexitySearchMaxIter bounds the per-point binary search.
	perplexitySearchMaxIter = 100

	// logPrecisionBound brackets log(β). exp(±700) stays finite in float64,
	// so the bracket stands in for β ∈ (0, +∞).
	logPrecisionBound = 700.0
)

// GaussianJointProbabilities converts a matrix of pairwise distances in the
// input space into the symmetric joint distribution P used by t-SNE.
//
// Each row is calibrated independently so that the Shannon entropy of its
// conditional distribution equals log(perplexity) within tolerance. The
// conditionals are then symmetrised: P[i,j] = (p_{j|i} + p_{i|j}) / (2n).
func GaussianJointProbabilities(distances *mat.Dense, perplexity, tolerance float64) (*mat.Dense, error) {
	numberOfRows, numberOfColumns := distances.Dims()
	if numberOfRows != numberOfColumns {
		return nil, inputErrorf("distance matrix must be square, got %dx%d", numberOfRows, numberOfColumns)
	}

	squaredDistances := mat.NewDense(numberOfRows, numberOfRows, nil)
	squaredInto(squaredDistances, distances)

	conditional, _, err := ConditionalProbabilities(squaredDistances, perplexity, tolerance)
	if err != nil {
		return nil, err
	}

	joint := mat.NewDense(numberOfRows, numberOfRows, nil)
	symmetrizeInto(joint, conditional)
	return joint, nil
}

// ConditionalProbabilities runs the perplexity search on squared distances and
// returns the row-stochastic matrix of conditionals p_{j|i} together with the
// Gaussian precision β_i found for every row.
//
// The search bisects log(β) starting from β = 1. It stops once
// |H_i - log(perplexity)| < tolerance or after perplexitySearchMaxIter
// attempts; in the latter case the last evaluated precision is kept.
func ConditionalProbabilities(squaredDistances *mat.Dense, perplexity, tolerance float64) (*mat.Dense, []float64, error) {
	numberOfRows, numberOfColumns := squaredDistances.Dims()
	if numberOfRows != numberOfColumns {
		return nil, nil, inputErrorf("distance matrix must be square, got %dx%d", numberOfRows, numberOfColumns)
	}
	if numberOfRows < 2 {
		return nil, nil, inputErrorf("at least 2 samples are required, got %d", numberOfRows)
	}
	if perplexity > float64(numberOfRows-1) {
		return nil, nil, inputErrorf("perplexity %g needs more neighbours than the %d available", perplexity, numberOfRows-1)
	}

	conditional := mat.NewDense(numberOfRows, numberOfRows, nil)
	precisions := make([]float64, numberOfRows)
	shifted := make([]float64, numberOfRows)
	targetEntropy := math.Log(perplexity)

	for i := 0; i < numberOfRows; i++ {
		precisions[i] = searchPrecision(
			squaredDistances.RawRowView(i), i,
			targetEntropy, tolerance,
			shifted, conditional.RawRowView(i),
		)
	}

	return conditional, precisions, nil
}

// searchPrecision finds β for one row and leaves the matching conditional
// distribution in probabilities.
func searchPrecision(squaredDistances []float64, self int, targetEntropy, tolerance float64, shifted, probabilities []float64) float64 {
	// Shift by the nearest neighbour so the largest exponent is exp(0).
	nearest := math.Inf(1)
	for j, d := range squaredDistances {
		if j != self && d < nearest {
			nearest = d
		}
	}
	for j, d := range squaredDistances {
		shifted[j] = d - nearest
	}
	shifted[self] = 0

	lower, upper := -logPrecisionBound, logPrecisionBound
	logPrecision := 0.0
	evaluated := logPrecision

	for attempt := 0; attempt < perplexitySearchMaxIter; attempt++ {
		evaluated = logPrecision
		entropy := rowEntropy(shifted, self, math.Exp(evaluated), probabilities)

		difference := entropy - targetEntropy
		if math.Abs(difference) < tolerance {
			break
		}

		// Too diffuse: sharpen the kernel. Too peaked: widen it.
		if difference > 0 {
			lower = evaluated
		} else {
			upper = evaluated
		}
		logPrecision = (lower + upper) / 2
	}

	return math.Exp(evaluated)
}

// rowEntropy fills probabilities with the normalised kernel row for the given
// precision and returns its Shannon entropy (natural log).
//
// With w_j = exp(-β a_j) and S = Σ w_j, -log p_j = β a_j + log S, so the
// entropy is log S + β Σ a_j p_j and never needs log(0).
func rowEntropy(shifted []float64, self int, precision float64, probabilities []float64) float64 {
	sum := 0.0
	for j, offset := range shifted {
		if j == self {
			probabilities[j] = 0
			continue
		}
		weight := math.Exp(-precision * offset)
		probabilities[j] = weight
		sum += weight
	}

	// The nearest neighbour contributes exp(0) = 1, so sum >= 1.
	weighted := 0.0
	for j := range probabilities {
		probabilities[j] /= sum
		if probabilities[j] > 0 {
			weighted += shifted[j] * probabilities[j]
		}
	}

	return math.Log(sum) + precision*weighted
}

// symmetrizeInto writes (C + Cᵀ) / 2n into dst with a zero diagonal.
func symmetrizeInto(dst, conditional *mat.Dense) {
	numberOfPoints, _ := conditional.Dims()
	scale := 1 / (2 * float64(numberOfPoints))

	for i := 0; i < numberOfPoints; i++ {
		dst.Set(i, i, 0)
		for j := i + 1; j < numberOfPoints; j++ {
			value := (conditional.At(i, j) + conditional.At(j, i)) * scale
			dst.Set(i, j, value)
			dst.Set(j, i, value)
		}
	}
}

// StudentTJointProbabilities computes the low-dimensional joint distribution Q
// from the embedding's pairwise distances using the heavy-tailed kernel
// (1 + d²)⁻¹, normalised over all off-diagonal entries.
func StudentTJointProbabilities(distances *mat.Dense) *mat.Dense {
	numberOfPoints, _ := distances.Dims()
	q := mat.NewDense(numberOfPoints, numberOfPoints, nil)
	studentTInto(q, distances)
	return q
}

// studentTInto overwrites q with the normalised Student-t affinities and
// returns the normalisation constant Z.
func studentTInto(q, distances *mat.Dense) float64 {
	numberOfPoints, _ := distances.Dims()

	z := 0.0
	for i := 0; i < numberOfPoints; i++ {
		q.Set(i, i, 0)
		for j := i + 1; j < numberOfPoints; j++ {
			d := distances.At(i, j)
			affinity := 1 / (1 + d*d)
			q.Set(i, j, affinity)
			q.Set(j, i, affinity)
			z += 2 * affinity
		}
	}

	if z > 0 {
		q.Scale(1/z, q)
	}
	return z
}
