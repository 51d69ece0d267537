// Package projection provides linear projections used to seed t-SNE.
//
// # Principal Component Analysis (PCA) Overview
//
// PCA reduces high-dimensional data down to a few dimensions while preserving
// as much variance as possible. Most high-dimensional data lies on or near a
// lower-dimensional subspace, and PCA finds that subspace by identifying the
// directions (principal components) along which the data varies the most.
//
// # Why We Use Singular Value Decomposition (SVD)
//
// While PCA can be computed from the eigenvectors of the covariance matrix, SVD
// is numerically more stable. For a centered data matrix X, the right singular
// vectors (V) give the principal components directly, without forming X^T * X.
//
// The mathematical relationship is:
//   - X = U * Σ * V^T  (SVD decomposition)
//   - The columns of V are the principal components (directions of maximum variance)
//   - The singular values in Σ indicate how much variance each component captures
//   - Projecting data: X_projected = X * V[:, 0:k] gives the k-dimensional representation
package projection

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrTooManyComponents is returned when more components are requested than
	// the data can provide (min(samples, features)).
	ErrTooManyComponents = errors.New("projection: too many components requested")

	// ErrSVDFailed is returned when the SVD does not converge.
	ErrSVDFailed = errors.New("projection: SVD factorization failed")
)

// PCA projects data onto its leading principal components. The zero value is
// ready to use.
type PCA struct{}

// FitTransform centers the rows of data, finds the first numberOfComponents
// principal components and returns the projected (samples × components)
// matrix. Component signs are fixed so the largest loading of every component
// is positive, which makes the output independent of the SVD's sign choice.
//
// Parameters:
//   - data: (samples × features) matrix, one observation per row
//   - numberOfComponents: how many principal components to keep
func (PCA) FitTransform(data mat.Matrix, numberOfComponents int) (*mat.Dense, error) {
	numberOfVectors, embeddingDimension := data.Dims()

	if numberOfComponents < 1 {
		return nil, fmt.Errorf("projection: number of components must be positive, got %d", numberOfComponents)
	}
	if numberOfComponents > embeddingDimension || numberOfComponents > numberOfVectors {
		return nil, fmt.Errorf("%w: %d components from %dx%d data",
			ErrTooManyComponents, numberOfComponents, numberOfVectors, embeddingDimension)
	}

	// Step 1: Copy the input so centering never touches the caller's matrix
	dataMatrix := mat.DenseCopyOf(data)

	// Step 2: Center the data by subtracting the mean of each dimension
	centerDataMatrixBySubtractingColumnMeans(dataMatrix, numberOfVectors, embeddingDimension)

	// Step 3: Compute SVD and extract the leading principal components
	principalComponentMatrix, err := computePrincipalComponentsUsingSVD(dataMatrix, embeddingDimension, numberOfComponents)
	if err != nil {
		return nil, err
	}

	// Step 4: Make the decomposition deterministic up to sign
	alignComponentSigns(principalComponentMatrix)

	// Step 5: Project the centered data onto the subspace
	return projectDataOntoPrincipalComponents(dataMatrix, principalComponentMatrix), nil
}

// centerDataMatrixBySubtractingColumnMeans modifies the matrix in-place to have
// zero mean for each column (dimension).
//
// PCA finds directions of maximum variance. If data isn't centered, the first
// principal component points toward the data's center rather than along the
// direction of maximum spread.
func centerDataMatrixBySubtractingColumnMeans(dataMatrix *mat.Dense, numberOfVectors int, embeddingDimension int) {
	columnMeans := calculateColumnMeans(dataMatrix, embeddingDimension)

	for rowIndex := 0; rowIndex < numberOfVectors; rowIndex++ {
		row := dataMatrix.RawRowView(rowIndex)
		for columnIndex := range row {
			row[columnIndex] -= columnMeans[columnIndex]
		}
	}
}

// calculateColumnMeans computes the arithmetic mean of each column (dimension) in the matrix.
func calculateColumnMeans(dataMatrix *mat.Dense, embeddingDimension int) []float64 {
	numberOfVectors, _ := dataMatrix.Dims()
	columnMeans := make([]float64, embeddingDimension)
	columnValues := make([]float64, numberOfVectors)

	for columnIndex := 0; columnIndex < embeddingDimension; columnIndex++ {
		mat.Col(columnValues, columnIndex, dataMatrix)
		columnMeans[columnIndex] = stat.Mean(columnValues, nil)
	}

	return columnMeans
}

// computePrincipalComponentsUsingSVD performs Singular Value Decomposition on
// the centered data matrix and returns the first numberOfComponents columns of
// V as an (embeddingDimension × numberOfComponents) matrix.
//
// The columns of V are ordered by the amount of variance they capture.
func computePrincipalComponentsUsingSVD(centeredDataMatrix *mat.Dense, embeddingDimension, numberOfComponents int) (*mat.Dense, error) {
	var svdDecomposition mat.SVD

	// The thin SVD is enough since only the leading components are needed
	if ok := svdDecomposition.Factorize(centeredDataMatrix, mat.SVDThin); !ok {
		return nil, ErrSVDFailed
	}

	var rightSingularVectors mat.Dense
	svdDecomposition.VTo(&rightSingularVectors)

	numberOfRows, numberOfColumns := rightSingularVectors.Dims()
	if numberOfRows < embeddingDimension || numberOfColumns < numberOfComponents {
		return nil, fmt.Errorf("%w: V is %dx%d", ErrTooManyComponents, numberOfRows, numberOfColumns)
	}

	return mat.DenseCopyOf(rightSingularVectors.Slice(0, embeddingDimension, 0, numberOfComponents)), nil
}

// alignComponentSigns flips each component so its largest absolute loading is
// positive.
func alignComponentSigns(principalComponentMatrix *mat.Dense) {
	numberOfRows, numberOfColumns := principalComponentMatrix.Dims()

	for columnIndex := 0; columnIndex < numberOfColumns; columnIndex++ {
		largest := 0.0
		for rowIndex := 0; rowIndex < numberOfRows; rowIndex++ {
			value := principalComponentMatrix.At(rowIndex, columnIndex)
			if math.Abs(value) > math.Abs(largest) {
				largest = value
			}
		}
		if largest >= 0 {
			continue
		}
		for rowIndex := 0; rowIndex < numberOfRows; rowIndex++ {
			principalComponentMatrix.Set(rowIndex, columnIndex, -principalComponentMatrix.At(rowIndex, columnIndex))
		}
	}
}

// projectDataOntoPrincipalComponents multiplies the centered data matrix by the
// principal component matrix.
//
// Mathematically: ProjectedData = CenteredData × PrincipalComponents
//
// Where:
//   - CenteredData is (numberOfVectors x embeddingDimension)
//   - PrincipalComponents is (embeddingDimension x numberOfComponents)
//   - ProjectedData is (numberOfVectors x numberOfComponents)
func projectDataOntoPrincipalComponents(centeredDataMatrix *mat.Dense, principalComponentMatrix *mat.Dense) *mat.Dense {
	var projectedCoordinates mat.Dense
	projectedCoordinates.Mul(centeredDataMatrix, principalComponentMatrix)
	return &projectedCoordinates
}
