// Package fdr controls the false discovery rate across every edge tested in a run.
package fdr

import (
	"math"
	"sort"

	"github.com/irfndi/celebrum-netinfer/internal/utils"
)

// Result is the outcome of one Benjamini-Hochberg pass.
type Result struct {
	// Rejected[i] reports whether hypothesis i is rejected (edge kept).
	Rejected []bool
	// Adjusted holds the step-up adjusted p-values, capped at 1.
	Adjusted []float64
	// Threshold is the largest raw p-value that was rejected; zero when none were.
	Threshold float64
}

// Count returns the number of rejected hypotheses.
func (r Result) Count() int {
	n := 0
	for _, ok := range r.Rejected {
		if ok {
			n++
		}
	}
	return n
}

// BenjaminiHochberg runs the step-up procedure at level alpha over pValues
// jointly. Input order is preserved in the result.
func BenjaminiHochberg(pValues []float64, alpha float64) (Result, error) {
	if alpha <= 0 || alpha >= 1 {
		return Result{}, utils.NewValidationErrorf("fdr_alpha must be in (0,1), got %g", alpha)
	}
	m := len(pValues)
	res := Result{
		Rejected: make([]bool, m),
		Adjusted: make([]float64, m),
	}
	if m == 0 {
		return res, nil
	}

	order := make([]int, m)
	for i, p := range pValues {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, utils.NewValidationErrorf("p-value %d out of range: %g", i, p)
		}
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pValues[order[a]] < pValues[order[b]]
	})

	cutoff := -1
	for rank := m; rank >= 1; rank-- {
		if pValues[order[rank-1]] <= alpha*float64(rank)/float64(m) {
			cutoff = rank
			break
		}
	}
	for rank := 1; rank <= cutoff; rank++ {
		res.Rejected[order[rank-1]] = true
	}
	if cutoff > 0 {
		res.Threshold = pValues[order[cutoff-1]]
	}

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		idx := order[rank-1]
		adj := pValues[idx] * float64(m) / float64(rank)
		running = math.Min(running, adj)
		res.Adjusted[idx] = running
	}
	return res, nil
}
