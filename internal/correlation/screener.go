// Package correlation screens every unordered pair of return series by
// product-moment correlation.
package correlation

import (
	"math"
	"slices"
	"sort"

	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"gonum.org/v1/gonum/stat"
)

// Screener shortlists pairs whose |correlation| reaches Threshold.
type Screener struct {
	threshold float64
}

// Result holds the full matrix and the thresholded pair list.
type Result struct {
	// IDs orders the rows and columns of Matrix lexically.
	IDs    []string
	Matrix [][]float64
	// Pairs is sorted by |correlation| descending, ties by (source, target).
	Pairs []models.CandidatePair
	// Density is len(Pairs) over the number of unordered pairs.
	Density float64

	index map[string]int
	kept  map[[2]int]bool
}

// NewScreener validates threshold.
func NewScreener(threshold float64) (*Screener, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, utils.NewValidationErrorf("correlation_threshold must be in [0,1], got %g", threshold)
	}
	return &Screener{threshold: threshold}, nil
}

// Threshold returns the configured cutoff.
func (s *Screener) Threshold() float64 {
	return s.threshold
}

// Screen computes the correlation of every unordered pair of r.
// Pairs with an undefined coefficient are left out of the shortlist.
func (s *Screener) Screen(r *models.ReturnSeries) Result {
	ids := append([]string(nil), r.IDs...)
	slices.Sort(ids)
	n := len(ids)

	res := Result{
		IDs:    ids,
		Matrix: make([][]float64, n),
		index:  make(map[string]int, n),
		kept:   make(map[[2]int]bool),
	}
	for i, id := range ids {
		res.index[id] = i
		res.Matrix[i] = make([]float64, n)
		res.Matrix[i][i] = 1
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := stat.Correlation(r.Series(ids[i]), r.Series(ids[j]), nil)
			res.Matrix[i][j] = c
			res.Matrix[j][i] = c
			if math.IsNaN(c) || math.Abs(c) < s.threshold {
				continue
			}
			res.Pairs = append(res.Pairs, models.CandidatePair{
				Source:      ids[i],
				Target:      ids[j],
				Correlation: c,
			})
			res.kept[[2]int{i, j}] = true
		}
	}

	sort.SliceStable(res.Pairs, func(a, b int) bool {
		pa, pb := res.Pairs[a], res.Pairs[b]
		if pa.AbsCorrelation() != pb.AbsCorrelation() {
			return pa.AbsCorrelation() > pb.AbsCorrelation()
		}
		if pa.Source != pb.Source {
			return pa.Source < pb.Source
		}
		return pa.Target < pb.Target
	})

	if total := n * (n - 1) / 2; total > 0 {
		res.Density = float64(len(res.Pairs)) / float64(total)
	}
	return res
}

// Value returns corr(a, b); ok is false when either id is unknown.
func (r Result) Value(a, b string) (float64, bool) {
	i, ok1 := r.index[a]
	j, ok2 := r.index[b]
	if !ok1 || !ok2 {
		return 0, false
	}
	return r.Matrix[i][j], true
}

// Correlated reports whether the unordered pair {a, b} passed the threshold.
func (r Result) Correlated(a, b string) bool {
	i, ok1 := r.index[a]
	j, ok2 := r.index[b]
	if !ok1 || !ok2 || i == j {
		return false
	}
	if i > j {
		i, j = j, i
	}
	return r.kept[[2]int{i, j}]
}

// OrderedPairs lists every ordered (source, target) pair to consider for
// transfer entropy. With prefilter set only correlated pairs are kept.
func (r Result) OrderedPairs(prefilter bool) [][2]string {
	var out [][2]string
	for _, a := range r.IDs {
		for _, b := range r.IDs {
			if a == b {
				continue
			}
			if prefilter && !r.Correlated(a, b) {
				continue
			}
			out = append(out, [2]string{a, b})
		}
	}
	return out
}
