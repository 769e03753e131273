package models

import "time"

// SeriesSet is the raw input handed over by the data acquisition side: a set of
// price series aligned to one ordered timestamp grid.
type SeriesSet struct {
	// IDs keeps the supplied order; it decides which series survive a max_tokens cap.
	IDs        []string             `json:"ids"`
	Timestamps []time.Time          `json:"timestamps"`
	Values     map[string][]float64 `json:"values"`
}

// Len returns the number of grid points.
func (s *SeriesSet) Len() int {
	return len(s.Timestamps)
}

// OrderedIDs returns IDs when supplied, otherwise the keys of Values in
// lexical order.
func (s *SeriesSet) OrderedIDs() []string {
	if len(s.IDs) > 0 {
		return append([]string(nil), s.IDs...)
	}
	return sortedKeys(s.Values)
}

// ReturnSeries is the cleaned, aligned and (optionally) standardized return
// stream for every retained item. It is built once per run and never mutated.
type ReturnSeries struct {
	IDs        []string             `json:"ids"`
	Timestamps []time.Time          `json:"timestamps"`
	Values     map[string][]float64 `json:"values"`
}

// Len returns the common sample count.
func (r *ReturnSeries) Len() int {
	return len(r.Timestamps)
}

// Series returns the values of one item; nil when the item is unknown.
func (r *ReturnSeries) Series(id string) []float64 {
	return r.Values[id]
}
