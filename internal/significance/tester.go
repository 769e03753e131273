// Package significance decides, for each ordered pair, whether past source
// values carry information about the target's future beyond its own past.
package significance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/estimator"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/sirupsen/logrus"
)

// Task stages, mixed into per-task seeds.
const (
	stageRaw     = "raw"
	stageMinStat = "min_stat"
	stageOmnibus = "omnibus"
	stageMaxStat = "max_stat"
)

// Config holds the testing parameters of a run.
type Config struct {
	TEThreshold float64
	Alpha       float64
	PermMaxStat int
	PermMinStat int
	PermOmnibus int
	Surrogate   SurrogateMethod
	Seed        uint64
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.TEThreshold < 0 || math.IsNaN(c.TEThreshold):
		return utils.NewValidationErrorf("te_threshold must be >= 0, got %g", c.TEThreshold)
	case c.Alpha <= 0 || c.Alpha >= 1:
		return utils.NewValidationErrorf("alpha must be in (0,1), got %g", c.Alpha)
	case c.PermMaxStat < 1 || c.PermMinStat < 1 || c.PermOmnibus < 1:
		return utils.NewValidationError("permutation counts must be >= 1")
	}
	_, err := ParseSurrogateMethod(string(c.Surrogate))
	return err
}

// Pair is one ordered (source, target) pair with its aligned return values.
type Pair struct {
	Source       string
	Target       string
	SourceValues []float64
	TargetValues []float64
}

// LagResult is the raw statistic of one candidate lag.
type LagResult struct {
	Lag   int
	Value float64
	Err   error
}

// Tester runs the lag scan and the surrogate tests. It holds no mutable
// state and is safe for concurrent use.
type Tester struct {
	builder *embedding.Builder
	est     estimator.Estimator
	cfg     Config
	logger  *logrus.Entry
}

// NewTester validates cfg and returns a Tester.
func NewTester(builder *embedding.Builder, est estimator.Estimator, cfg Config, logger *logrus.Logger) (*Tester, error) {
	if builder == nil || est == nil {
		return nil, utils.NewValidationError("embedding builder and estimator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Surrogate == "" {
		cfg.Surrogate = SurrogateShuffle
	}
	return &Tester{
		builder: builder,
		est:     est,
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "significance"),
	}, nil
}

// Lags returns the candidate source lags.
func (t *Tester) Lags() []int {
	return t.builder.Config().SourceLags()
}

// LagStatistic estimates the transfer entropy of p at one source lag.
func (t *Tester) LagStatistic(p Pair, lag int) (float64, error) {
	s, err := t.builder.Build(p.SourceValues, p.TargetValues, lag)
	if err != nil {
		return 0, err
	}
	return t.est.Estimate(s, taskRand(t.cfg.Seed, p.Source, p.Target, stageRaw, lag))
}

// ScanLags computes LagStatistic for every candidate lag in order.
func (t *Tester) ScanLags(p Pair) []LagResult {
	lags := t.Lags()
	out := make([]LagResult, len(lags))
	for i, lag := range lags {
		v, err := t.LagStatistic(p, lag)
		out[i] = LagResult{Lag: lag, Value: v, Err: err}
	}
	return out
}

// Test runs the lag scan followed by Evaluate.
func (t *Tester) Test(ctx context.Context, p Pair) (models.PairOutcome, error) {
	return t.Evaluate(ctx, p, t.ScanLags(p))
}

// Evaluate runs the significance procedure on a completed lag scan:
// te_threshold filter, min-statistic pruning of the selected lags, omnibus
// test on the pruned joint source block, then the max-statistic test of the
// best lag. The only error returned is a context error; per-pair failures end
// in a rejected outcome.
func (t *Tester) Evaluate(ctx context.Context, p Pair, scan []LagResult) (models.PairOutcome, error) {
	out := models.PairOutcome{
		Source:        p.Source,
		Target:        p.Target,
		State:         models.PairScreened,
		LagStatistics: make(map[int]float64, len(scan)),
	}

	var valid []LagResult
	for _, r := range scan {
		if r.Err != nil {
			if !utils.IsDegenerate(r.Err) {
				return t.reject(out, models.ReasonDegenerateInput, r.Err), nil
			}
			continue
		}
		out.LagStatistics[r.Lag] = r.Value
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return t.reject(out, models.ReasonDegenerateInput, firstErr(scan)), nil
	}
	out.State = models.PairEmbeddingBuilt

	best, worst := valid[0], valid[0]
	for _, r := range valid[1:] {
		if r.Value > best.Value {
			best = r
		}
		if r.Value < worst.Value {
			worst = r
		}
	}
	edge := &models.TransferEntropyEdge{
		Source:    p.Source,
		Target:    p.Target,
		BestLag:   best.Lag,
		MinLag:    worst.Lag,
		Statistic: best.Value,
		PValue:    1,
	}
	if best.Value < t.cfg.TEThreshold {
		return t.reject(out, models.ReasonBelowTEThreshold, nil), nil
	}

	var selected []LagResult
	for _, r := range valid {
		if r.Value >= t.cfg.TEThreshold {
			selected = append(selected, r)
		}
	}
	selected, err := t.pruneMinStat(ctx, p, selected)
	if err != nil {
		return t.failed(out, err)
	}
	for _, r := range selected {
		edge.SelectedLags = append(edge.SelectedLags, r.Lag)
	}

	edge.OmnibusValue, edge.OmnibusPValue, err = t.omnibus(ctx, p, edge.SelectedLags)
	if err != nil {
		return t.failed(out, err)
	}
	out.State = models.PairOmnibusTested
	out.Edge = edge
	if edge.OmnibusPValue > t.cfg.Alpha {
		edge.PValue = edge.OmnibusPValue
		return t.reject(out, models.ReasonOmnibusNotSignificant, nil), nil
	}

	lags := make([]int, len(valid))
	for i, r := range valid {
		lags[i] = r.Lag
	}
	out.State = models.PairLagTested
	edge.PValue, err = t.maxStat(ctx, p, lags, best.Value)
	if err != nil {
		return t.failed(out, err)
	}
	out.Reached = out.State
	out.State = models.PairRawEdge
	edge.SignificantRaw = edge.PValue <= t.cfg.Alpha
	return out, nil
}

// pruneMinStat repeatedly tests the weakest selected lag and drops it while
// it is not significant. The strongest lag is never dropped.
func (t *Tester) pruneMinStat(ctx context.Context, p Pair, selected []LagResult) ([]LagResult, error) {
	selected = slices.Clone(selected)
	for len(selected) > 1 {
		weakest := 0
		for i, r := range selected {
			if r.Value < selected[weakest].Value {
				weakest = i
			}
		}
		r := selected[weakest]
		s, err := t.builder.Build(p.SourceValues, p.TargetValues, r.Lag)
		if err != nil {
			return nil, err
		}
		pv, err := t.pValue(ctx, s, r.Value, t.cfg.PermMinStat, taskRand(t.cfg.Seed, p.Source, p.Target, stageMinStat, r.Lag))
		if err != nil {
			return nil, err
		}
		if pv <= t.cfg.Alpha {
			break
		}
		t.logger.WithFields(logrus.Fields{
			"source":  p.Source,
			"target":  p.Target,
			"lag":     r.Lag,
			"p_value": pv,
		}).Debug("Pruned lag by min-statistic test")
		selected = slices.Delete(selected, weakest, weakest+1)
	}
	return selected, nil
}

// omnibus tests the joint source block of lags against shuffled surrogates.
func (t *Tester) omnibus(ctx context.Context, p Pair, lags []int) (float64, float64, error) {
	s, err := t.builder.BuildJoint(p.SourceValues, p.TargetValues, lags)
	if err != nil {
		return 0, 0, err
	}
	rng := taskRand(t.cfg.Seed, p.Source, p.Target, stageOmnibus, 0)
	observed, err := t.est.Estimate(s, rng)
	if err != nil {
		return 0, 0, err
	}
	pv, err := t.pValue(ctx, s, observed, t.cfg.PermOmnibus, rng)
	return observed, pv, err
}

// pValue is the fraction of n surrogate statistics at least as large as observed.
func (t *Tester) pValue(ctx context.Context, s embedding.Samples, observed float64, n int, rng *rand.Rand) (float64, error) {
	exceed := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		v, err := t.est.Estimate(s.WithSourceOrder(t.cfg.Surrogate.order(s.Len(), rng)), rng)
		if err != nil {
			return 0, err
		}
		if v >= observed {
			exceed++
		}
	}
	return float64(exceed) / float64(n), nil
}

// maxStat compares the best lag's statistic with the surrogate distribution of
// the maximum over all candidate lags. One row order is drawn per surrogate and
// applied to every lag, since all lags share the same time indices.
func (t *Tester) maxStat(ctx context.Context, p Pair, lags []int, observed float64) (float64, error) {
	samples := make([]embedding.Samples, len(lags))
	for i, lag := range lags {
		s, err := t.builder.Build(p.SourceValues, p.TargetValues, lag)
		if err != nil {
			return 0, err
		}
		samples[i] = s
	}

	rng := taskRand(t.cfg.Seed, p.Source, p.Target, stageMaxStat, 0)
	exceed := 0
	for i := 0; i < t.cfg.PermMaxStat; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		order := t.cfg.Surrogate.order(samples[0].Len(), rng)
		peak := math.Inf(-1)
		for _, s := range samples {
			v, err := t.est.Estimate(s.WithSourceOrder(order), rng)
			if err != nil {
				return 0, err
			}
			peak = math.Max(peak, v)
		}
		if peak >= observed {
			exceed++
		}
	}
	return float64(exceed) / float64(t.cfg.PermMaxStat), nil
}

func (t *Tester) reject(out models.PairOutcome, reason string, err error) models.PairOutcome {
	out.Reached = out.State
	out.State = models.PairRejected
	out.Reason = reason
	entry := t.logger.WithFields(logrus.Fields{
		"source": out.Source,
		"target": out.Target,
		"reason": reason,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("Rejected pair")
	return out
}

// failed turns an error raised during surrogate testing into a rejected
// outcome, or passes context errors through.
func (t *Tester) failed(out models.PairOutcome, err error) (models.PairOutcome, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return out, fmt.Errorf("testing %s -> %s: %w", out.Source, out.Target, err)
	}
	return t.reject(out, models.ReasonDegenerateInput, err), nil
}

func firstErr(scan []LagResult) error {
	for _, r := range scan {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
