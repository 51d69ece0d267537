package tsne

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// KLDivergence returns KL(P‖Q) = Σ P log(P/Q) over the entries where P > 0.
// Terms that are not finite (Q underflowed to zero or a denormal) contribute
// nothing.
func KLDivergence(p, q *mat.Dense) float64 {
	numberOfRows, _ := p.Dims()

	divergence := 0.0
	for i := 0; i < numberOfRows; i++ {
		pRow, qRow := p.RawRowView(i), q.RawRowView(i)
		for j, pij := range pRow {
			if pij <= 0 {
				continue
			}
			term := pij * math.Log(pij/qRow[j])
			if math.IsNaN(term) || math.IsInf(term, 0) {
				continue
			}
			divergence += term
		}
	}
	return divergence
}
