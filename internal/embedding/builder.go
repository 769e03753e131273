// Package embedding turns a (source, target) pair of return series into the
// delay-embedded sample sets consumed by the conditional mutual information
// estimators.
package embedding

import (
	"fmt"

	"github.com/irfndi/celebrum-netinfer/internal/utils"
)

// Samples holds one embedded sample set. Row i of every block belongs to
// time index Times[i]; rows are in time order.
type Samples struct {
	Times      []int
	Future     [][]float64
	TargetPast [][]float64
	SourcePast [][]float64
}

// Len returns the number of samples.
func (s Samples) Len() int {
	return len(s.Times)
}

// Dims returns the widths of the future, source and target past blocks.
func (s Samples) Dims() (future, source, target int) {
	if s.Len() == 0 {
		return 0, 0, 0
	}
	return len(s.Future[0]), len(s.SourcePast[0]), len(s.TargetPast[0])
}

// WithSourceOrder returns a copy whose source rows are reordered by order,
// leaving the target blocks in place. Row slices are shared, not copied.
func (s Samples) WithSourceOrder(order []int) Samples {
	source := make([][]float64, len(order))
	for i, j := range order {
		source[i] = s.SourcePast[j]
	}
	return Samples{
		Times:      s.Times,
		Future:     s.Future,
		TargetPast: s.TargetPast,
		SourcePast: source,
	}
}

// Builder builds embedded samples for a fixed LagConfig.
type Builder struct {
	cfg  LagConfig
	span int
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg LagConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, span: cfg.Span()}, nil
}

// Config returns the lag configuration.
func (b *Builder) Config() LagConfig {
	return b.cfg
}

// SampleCount is the number of samples produced for a series of length n.
func (b *Builder) SampleCount(n int) int {
	if n <= b.span {
		return 0
	}
	return n - b.span
}

// Build embeds source -> target for a single candidate source lag.
func (b *Builder) Build(source, target []float64, lag int) (Samples, error) {
	return b.BuildJoint(source, target, []int{lag})
}

// BuildJoint embeds source -> target with the source windows of every lag in
// lags concatenated into one source block.
func (b *Builder) BuildJoint(source, target []float64, lags []int) (Samples, error) {
	if len(source) != len(target) {
		return Samples{}, fmt.Errorf("source and target lengths differ: %d vs %d", len(source), len(target))
	}
	if len(lags) == 0 {
		return Samples{}, utils.NewValidationError("at least one source lag is required")
	}

	offsets := make([]int, 0, len(lags)*b.cfg.SourceDim)
	for _, lag := range lags {
		window := b.cfg.SourceWindow(lag)
		if window[len(window)-1] > b.span || lag < 1 {
			return Samples{}, utils.NewValidationErrorf("source lag %d outside configured range", lag)
		}
		offsets = append(offsets, window...)
	}
	targetLags := b.cfg.TargetLags()

	n := b.SampleCount(len(target))
	if n == 0 {
		return Samples{}, utils.NewDegenerateInputErrorf("series length %d does not exceed embedding span %d", len(target), b.span)
	}

	s := Samples{
		Times:      make([]int, n),
		Future:     make([][]float64, n),
		TargetPast: make([][]float64, n),
		SourcePast: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		t := b.span + i
		s.Times[i] = t
		s.Future[i] = []float64{target[t]}

		tp := make([]float64, len(targetLags))
		for j, l := range targetLags {
			tp[j] = target[t-l]
		}
		s.TargetPast[i] = tp

		sp := make([]float64, len(offsets))
		for j, l := range offsets {
			sp[j] = source[t-l]
		}
		s.SourcePast[i] = sp
	}
	return s, nil
}
