package tsne

import (
	"fmt"
	"strings"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// GradientMode selects one of the interchangeable formulations of the KL
// gradient. All modes produce the same result up to floating-point error.
type GradientMode int

const (
	// GradientDirect sums (P-Q)·(1+d²)⁻¹·(y_i-y_j) over every pair.
	GradientDirect GradientMode = iota
	// GradientForces splits the sum into attractive (P·Q·Z) and repulsive
	// (Q²·Z) forces.
	GradientForces
	// GradientForcesV2 computes the same forces from explicit elementwise row
	// products and factored sums.
	GradientForcesV2
)

var gradientModeNames = [...]string{
	GradientDirect:   "direct",
	GradientForces:   "forces",
	GradientForcesV2: "forces_v2",
}

func (mode GradientMode) String() string {
	if mode < 0 || int(mode) >= len(gradientModeNames) {
		return fmt.Sprintf("GradientMode(%d)", int(mode))
	}
	return gradientModeNames[mode]
}

// ParseGradientMode maps a mode name to its GradientMode. "safe" is accepted
// as an alias for "direct".
func ParseGradientMode(name string) (GradientMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "direct", "safe":
		return GradientDirect, nil
	case "forces":
		return GradientForces, nil
	case "forces_v2":
		return GradientForcesV2, nil
	default:
		return 0, invalidModeError(name)
	}
}

func (mode GradientMode) MarshalText() ([]byte, error) {
	if mode < 0 || int(mode) >= len(gradientModeNames) {
		return nil, invalidModeError(mode.String())
	}
	return []byte(mode.String()), nil
}

func (mode *GradientMode) UnmarshalText(text []byte) error {
	parsed, err := ParseGradientMode(string(text))
	if err != nil {
		return err
	}
	*mode = parsed
	return nil
}

func invalidModeError(name string) error {
	return fmt.Errorf("%w %q: only accepted modes are direct, forces, and forces_v2", ErrInvalidMode, name)
}

// Gradient returns ∂KL(P‖Q)/∂y for the embedding y (n×k) given the joint
// distributions p and q and the embedding's pairwise distances.
func Gradient(mode GradientMode, p, q, y, distances *mat.Dense) (*mat.Dense, error) {
	numberOfPoints, numberOfDimensions := y.Dims()
	gradient := mat.NewDense(numberOfPoints, numberOfDimensions, nil)
	scratch := newGradientScratch(numberOfPoints, numberOfDimensions)

	if err := gradientInto(gradient, mode, p, q, y, distances, scratch); err != nil {
		return nil, err
	}
	return gradient, nil
}

// gradientScratch holds the per-fit buffers the force formulations need.
type gradientScratch struct {
	attractive  []float64
	repulsive   []float64
	pullWeights []float64
	pushWeights []float64
	columns     [][]float64
}

func newGradientScratch(numberOfPoints, numberOfDimensions int) *gradientScratch {
	columns := make([][]float64, numberOfDimensions)
	for c := range columns {
		columns[c] = make([]float64, numberOfPoints)
	}
	return &gradientScratch{
		attractive:  make([]float64, numberOfDimensions),
		repulsive:   make([]float64, numberOfDimensions),
		pullWeights: make([]float64, numberOfPoints),
		pushWeights: make([]float64, numberOfPoints),
		columns:     columns,
	}
}

func gradientInto(dst *mat.Dense, mode GradientMode, p, q, y, distances *mat.Dense, scratch *gradientScratch) error {
	switch mode {
	case GradientDirect:
		directGradientInto(dst, p, q, y, distances)
	case GradientForces:
		forcesGradientInto(dst, p, q, y, distances, scratch)
	case GradientForcesV2:
		forcesV2GradientInto(dst, p, q, y, distances, scratch)
	default:
		return invalidModeError(mode.String())
	}
	return nil
}

func directGradientInto(dst, p, q, y, distances *mat.Dense) {
	numberOfPoints, _ := y.Dims()

	for i := 0; i < numberOfPoints; i++ {
		gradientRow := dst.RawRowView(i)
		clear(gradientRow)

		yi := y.RawRowView(i)
		pRow, qRow, distanceRow := p.RawRowView(i), q.RawRowView(i), distances.RawRowView(i)

		for j := 0; j < numberOfPoints; j++ {
			if j == i {
				continue
			}
			d := distanceRow[j]
			coefficient := (pRow[j] - qRow[j]) / (1 + d*d)
			yj := y.RawRowView(j)
			for c := range gradientRow {
				gradientRow[c] += coefficient * (yi[c] - yj[c])
			}
		}

		for c := range gradientRow {
			gradientRow[c] *= 4
		}
	}
}

// normalization returns Z, the sum of (1+d²)⁻¹ over all off-diagonal pairs.
func normalization(distances *mat.Dense) float64 {
	numberOfPoints, _ := distances.Dims()
	z := 0.0
	for i := 0; i < numberOfPoints; i++ {
		for j := i + 1; j < numberOfPoints; j++ {
			d := distances.At(i, j)
			z += 2 / (1 + d*d)
		}
	}
	return z
}

func forcesGradientInto(dst, p, q, y, distances *mat.Dense, scratch *gradientScratch) {
	numberOfPoints, _ := y.Dims()
	z := normalization(distances)
	attractive, repulsive := scratch.attractive, scratch.repulsive

	for i := 0; i < numberOfPoints; i++ {
		clear(attractive)
		clear(repulsive)

		yi := y.RawRowView(i)
		pRow, qRow := p.RawRowView(i), q.RawRowView(i)

		for j := 0; j < numberOfPoints; j++ {
			if j == i {
				continue
			}
			pull := pRow[j] * qRow[j] * z
			push := qRow[j] * qRow[j] * z
			yj := y.RawRowView(j)
			for c := range attractive {
				difference := yi[c] - yj[c]
				attractive[c] += pull * difference
				repulsive[c] += push * difference
			}
		}

		gradientRow := dst.RawRowView(i)
		for c := range gradientRow {
			gradientRow[c] = 4 * (attractive[c] - repulsive[c])
		}
	}
}

// forcesV2GradientInto evaluates Σ_j w_j (y_i - y_j) as y_i Σ w - w·y[:,c],
// with the weights formed by elementwise row products.
func forcesV2GradientInto(dst, p, q, y, distances *mat.Dense, scratch *gradientScratch) {
	numberOfPoints, _ := y.Dims()
	z := normalization(distances)

	for c, column := range scratch.columns {
		mat.Col(column, c, y)
	}

	pullWeights, pushWeights := scratch.pullWeights, scratch.pushWeights

	for i := 0; i < numberOfPoints; i++ {
		pRow, qRow := p.RawRowView(i), q.RawRowView(i)

		vek.Mul_Into(pullWeights, pRow, qRow)
		vek.MulNumber_Inplace(pullWeights, z)
		pullWeights[i] = 0

		vek.Mul_Into(pushWeights, qRow, qRow)
		vek.MulNumber_Inplace(pushWeights, z)
		pushWeights[i] = 0

		pullTotal := vek.Sum(pullWeights)
		pushTotal := vek.Sum(pushWeights)

		yi := y.RawRowView(i)
		gradientRow := dst.RawRowView(i)
		for c, column := range scratch.columns {
			attractive := yi[c]*pullTotal - vek.Dot(pullWeights, column)
			repulsive := yi[c]*pushTotal - vek.Dot(pushWeights, column)
			gradientRow[c] = 4 * (attractive - repulsive)
		}
	}
}
