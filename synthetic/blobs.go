// Package synthetic generates labelled point clouds with a known cluster
// structure. They drive the demo command and the end-to-end tests.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// BlobsConfig describes a set of isotropic Gaussian blobs.
type BlobsConfig struct {
	Centers         int     // Number of blobs
	PointsPerCenter int     // Points drawn around each center
	Dimensions      int     // Dimensionality of every point
	Separation      float64 // Distance between consecutive centers along their axis
	Spread          float64 // Standard deviation of each blob
	Seed            int64   // Seed for the random source
}

// DefaultBlobsConfig returns three well separated blobs in 10 dimensions.
func DefaultBlobsConfig() BlobsConfig {
	return BlobsConfig{
		Centers:         3,
		PointsPerCenter: 30,
		Dimensions:      10,
		Separation:      10,
		Spread:          1,
		Seed:            42,
	}
}

func (config BlobsConfig) validate() error {
	switch {
	case config.Centers < 1:
		return fmt.Errorf("synthetic: centers must be positive, got %d", config.Centers)
	case config.PointsPerCenter < 1:
		return fmt.Errorf("synthetic: points per center must be positive, got %d", config.PointsPerCenter)
	case config.Dimensions < 1:
		return fmt.Errorf("synthetic: dimensions must be positive, got %d", config.Dimensions)
	case config.Spread < 0:
		return fmt.Errorf("synthetic: spread must not be negative, got %g", config.Spread)
	}
	return nil
}

// Blobs draws the configured blobs and returns the (centers·points × dims)
// matrix together with the blob index of every row. Rows are grouped by blob.
//
// Center c sits at (c/dims + 1)·Separation on axis c mod dims, so every
// center lies on a different axis while there are axes to spare.
func Blobs(config BlobsConfig) (*mat.Dense, []int, error) {
	if err := config.validate(); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed))
	numberOfPoints := config.Centers * config.PointsPerCenter

	points := mat.NewDense(numberOfPoints, config.Dimensions, nil)
	labels := make([]int, numberOfPoints)

	center := make([]float64, config.Dimensions)
	for c := 0; c < config.Centers; c++ {
		clear(center)
		center[c%config.Dimensions] = float64(c/config.Dimensions+1) * config.Separation

		for p := 0; p < config.PointsPerCenter; p++ {
			row := c*config.PointsPerCenter + p
			labels[row] = c

			coordinates := points.RawRowView(row)
			for d := range coordinates {
				coordinates[d] = center[d] + rng.NormFloat64()*config.Spread
			}
		}
	}

	return points, labels, nil
}

// MeanDistances returns the average Euclidean distance between rows that
// share a label and between rows that do not. A good embedding of blob data
// keeps within well below between.
func MeanDistances(points mat.Matrix, labels []int) (within, between float64) {
	numberOfPoints, numberOfColumns := points.Dims()
	withinCount, betweenCount := 0, 0

	for i := 0; i < numberOfPoints; i++ {
		for j := i + 1; j < numberOfPoints; j++ {
			sum := 0.0
			for c := 0; c < numberOfColumns; c++ {
				difference := points.At(i, c) - points.At(j, c)
				sum += difference * difference
			}
			distance := math.Sqrt(sum)

			if labels[i] == labels[j] {
				within += distance
				withinCount++
			} else {
				between += distance
				betweenCount++
			}
		}
	}

	if withinCount > 0 {
		within /= float64(withinCount)
	}
	if betweenCount > 0 {
		between /= float64(betweenCount)
	}
	return within, between
}
