package embedding

import (
	"github.com/irfndi/celebrum-netinfer/internal/utils"
)

// LagConfig fixes the lag search and delay embedding for a run.
type LagConfig struct {
	// MinSourceLag and MaxSourceLag bound the candidate source lags.
	MinSourceLag int
	MaxSourceLag int
	// MaxTargetLag is the furthest target past value in the conditioning set.
	// Zero disables conditioning, turning the statistic into plain mutual information.
	MaxTargetLag int
	// SourceTau spaces candidate lags and the entries of a source window.
	SourceTau int
	// TargetTau spaces the target past embedding.
	TargetTau int
	// SourceDim is the number of source values per candidate lag window.
	SourceDim int
}

// DefaultLagConfig mirrors the defaults used for hourly crypto returns.
func DefaultLagConfig() LagConfig {
	return LagConfig{
		MinSourceLag: 1,
		MaxSourceLag: 6,
		MaxTargetLag: 3,
		SourceTau:    1,
		TargetTau:    1,
		SourceDim:    1,
	}
}

// Validate checks internal consistency.
func (c LagConfig) Validate() error {
	switch {
	case c.MinSourceLag < 1:
		return utils.NewValidationErrorf("min_lag_sources must be >= 1, got %d", c.MinSourceLag)
	case c.MaxSourceLag < c.MinSourceLag:
		return utils.NewValidationErrorf("max_lag_sources (%d) must be >= min_lag_sources (%d)", c.MaxSourceLag, c.MinSourceLag)
	case c.MaxTargetLag < 0:
		return utils.NewValidationErrorf("max_lag_target must be >= 0, got %d", c.MaxTargetLag)
	case c.SourceTau < 1:
		return utils.NewValidationErrorf("tau_sources must be >= 1, got %d", c.SourceTau)
	case c.TargetTau < 1:
		return utils.NewValidationErrorf("tau_target must be >= 1, got %d", c.TargetTau)
	case c.SourceDim < 1:
		return utils.NewValidationErrorf("source_embedding_dim must be >= 1, got %d", c.SourceDim)
	}
	return nil
}

// SourceLags lists the candidate source lags in ascending order.
func (c LagConfig) SourceLags() []int {
	lags := make([]int, 0, c.MaxSourceLag-c.MinSourceLag+1)
	for l := c.MinSourceLag; l <= c.MaxSourceLag; l += c.SourceTau {
		lags = append(lags, l)
	}
	return lags
}

// TargetLags lists the target past lags: 1, 1+tau, ... up to MaxTargetLag.
func (c LagConfig) TargetLags() []int {
	if c.MaxTargetLag < 1 {
		return nil
	}
	lags := make([]int, 0, c.MaxTargetLag)
	for l := 1; l <= c.MaxTargetLag; l += c.TargetTau {
		lags = append(lags, l)
	}
	return lags
}

// SourceWindow lists the source offsets used for one candidate lag.
func (c LagConfig) SourceWindow(lag int) []int {
	window := make([]int, c.SourceDim)
	for i := range window {
		window[i] = lag + i*c.SourceTau
	}
	return window
}

// Span is the history every sample needs: no sample is built for time
// indices below it.
func (c LagConfig) Span() int {
	span := 0
	if lags := c.TargetLags(); len(lags) > 0 {
		span = lags[len(lags)-1]
	}
	for _, lag := range c.SourceLags() {
		window := c.SourceWindow(lag)
		if deepest := window[len(window)-1]; deepest > span {
			span = deepest
		}
	}
	return span
}

// MinimumSeriesLength is the shortest return series that leaves k+1 samples
// after the embedding span is discarded.
func (c LagConfig) MinimumSeriesLength(k int) int {
	return c.Span() + k + 1
}
