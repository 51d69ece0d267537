package tsne

import (
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// PairwiseDistances returns the n×n matrix of Euclidean distances between the
// rows of x. The result is symmetric and its diagonal is exactly zero.
func PairwiseDistances(x mat.Matrix) *mat.Dense {
	numberOfPoints, _ := x.Dims()
	distances := mat.NewDense(numberOfPoints, numberOfPoints, nil)
	pairwiseDistancesInto(distances, x)
	return distances
}

// pairwiseDistancesInto overwrites dst with the pairwise distances of x.
// Only the upper triangle is computed; the lower one is mirrored.
func pairwiseDistancesInto(dst *mat.Dense, x mat.Matrix) {
	numberOfPoints, _ := x.Dims()
	rows := rowSlices(x)

	for i := 0; i < numberOfPoints; i++ {
		dst.Set(i, i, 0)
		for j := i + 1; j < numberOfPoints; j++ {
			distance := vek.Distance(rows[i], rows[j])
			dst.Set(i, j, distance)
			dst.Set(j, i, distance)
		}
	}
}

// squaredInto writes the elementwise square of src into dst.
func squaredInto(dst, src *mat.Dense) {
	dst.MulElem(src, src)
}

// rowSlices exposes the rows of x as float64 slices. Dense matrices are
// viewed without copying; anything else is copied once.
func rowSlices(x mat.Matrix) [][]float64 {
	numberOfRows, numberOfColumns := x.Dims()
	rows := make([][]float64, numberOfRows)

	if dense, ok := x.(*mat.Dense); ok {
		for i := range rows {
			rows[i] = dense.RawRowView(i)
		}
		return rows
	}

	for i := range rows {
		rows[i] = make([]float64, numberOfColumns)
		mat.Row(rows[i], i, x)
	}
	return rows
}
