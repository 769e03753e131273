// Package preprocess turns an aligned price SeriesSet into the cleaned,
// re-aligned return streams the estimators work on.
package preprocess

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/stat"
)

// Exclusion reasons for series.
const (
	ReasonBelowMinPrice    = "below_min_price"
	ReasonZeroVariance     = "zero_variance"
	ReasonInsufficientData = "insufficient_data"
	ReasonAlignment        = "alignment"
	ReasonMaxTokens        = "max_tokens"
)

// Options configures preprocessing.
type Options struct {
	// MaxSeries caps the number of series in supplied order; 0 keeps all.
	MaxSeries int
	// Window keeps only grid points within this duration of the last one; 0 keeps all.
	Window time.Duration
	// MinPrice excludes series whose smoothed price ends below it; 0 disables.
	MinPrice        float64
	SmoothingPeriod int
	// OutlierStd drops returns whose magnitude exceeds OutlierStd sigmas; 0 disables.
	OutlierStd  float64
	Standardize bool
	// MinSamples is the fewest aligned returns the estimators can use.
	MinSamples int
}

// Preprocessor is stateless apart from its options and is safe for concurrent use.
type Preprocessor struct {
	opts   Options
	logger *logrus.Entry
	upper  cases.Caser
}

// New validates opts and returns a Preprocessor.
func New(opts Options, logger *logrus.Logger) (*Preprocessor, error) {
	switch {
	case opts.MaxSeries < 0:
		return nil, utils.NewValidationErrorf("max_tokens must be >= 0, got %d", opts.MaxSeries)
	case opts.Window < 0:
		return nil, utils.NewValidationErrorf("time window must be >= 0, got %s", opts.Window)
	case opts.MinPrice < 0:
		return nil, utils.NewValidationErrorf("min_price must be >= 0, got %g", opts.MinPrice)
	case opts.OutlierStd < 0:
		return nil, utils.NewValidationErrorf("outlier_std must be >= 0, got %g", opts.OutlierStd)
	case opts.MinSamples < 2:
		return nil, utils.NewValidationErrorf("minimum sample count must be >= 2, got %d", opts.MinSamples)
	}
	if opts.SmoothingPeriod < 1 {
		opts.SmoothingPeriod = 1
	}
	return &Preprocessor{
		opts:   opts,
		logger: logging.WithComponent(logger, "preprocess"),
		upper:  cases.Upper(language.Und),
	}, nil
}

// returns is one series of returns over grid indices; NaN marks a dropped sample.
type returns struct {
	id     string
	values []float64
}

func (r returns) count() int {
	n := 0
	for _, v := range r.values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Process builds the ReturnSeries and the manifest of excluded series.
// It fails with NoViableSeriesError when fewer than two series survive.
func (p *Preprocessor) Process(set *models.SeriesSet) (*models.ReturnSeries, []models.Exclusion, error) {
	ids, prices, timestamps, excluded, err := p.selectSeries(set)
	if err != nil {
		return nil, nil, err
	}

	var kept []returns
	for i, id := range ids {
		if p.opts.MinPrice > 0 {
			if smoothed := p.smoothedPrice(prices[i]); smoothed < p.opts.MinPrice {
				excluded = append(excluded, seriesExclusion(id, ReasonBelowMinPrice,
					fmt.Sprintf("smoothed price %g below %g", smoothed, p.opts.MinPrice)))
				continue
			}
		}

		r := returns{id: id, values: percentChange(prices[i])}
		if reason, ok := p.suppressOutliers(r.values); !ok {
			excluded = append(excluded, seriesExclusion(id, reason, ""))
			continue
		}
		if n := r.count(); n < p.opts.MinSamples {
			err := utils.NewInsufficientDataError(id, ReasonInsufficientData, n, p.opts.MinSamples)
			excluded = append(excluded, seriesExclusion(id, ReasonInsufficientData, err.Error()))
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) < 2 {
		return nil, excluded, utils.NewNoViableSeriesError(len(kept))
	}

	kept, index, dropped := p.align(kept)
	excluded = append(excluded, dropped...)
	if len(kept) < 2 {
		return nil, excluded, utils.NewNoViableSeriesError(len(kept))
	}
	if len(index) < p.opts.MinSamples {
		return nil, excluded, utils.NewInsufficientDataError("aligned set", ReasonAlignment, len(index), p.opts.MinSamples)
	}

	out := &models.ReturnSeries{
		Timestamps: make([]time.Time, len(index)),
		Values:     make(map[string][]float64, len(kept)),
	}
	for j, t := range index {
		// returns[t] belongs to the grid point t+1.
		out.Timestamps[j] = timestamps[t+1]
	}
	for _, r := range kept {
		v := make([]float64, len(index))
		for j, t := range index {
			v[j] = r.values[t]
		}
		mean, std := stat.MeanStdDev(v, nil)
		if std == 0 {
			excluded = append(excluded, seriesExclusion(r.id, ReasonZeroVariance, "constant after alignment"))
			continue
		}
		if p.opts.Standardize {
			for j := range v {
				v[j] = (v[j] - mean) / std
			}
		}
		out.IDs = append(out.IDs, r.id)
		out.Values[r.id] = v
	}
	if len(out.IDs) < 2 {
		return nil, excluded, utils.NewNoViableSeriesError(len(out.IDs))
	}
	slices.Sort(out.IDs)

	p.logger.WithFields(logrus.Fields{
		"series":   len(out.IDs),
		"excluded": len(excluded),
		"samples":  out.Len(),
	}).Info("Preprocessed return series")
	return out, excluded, nil
}

// selectSeries validates the input, canonicalises ids, applies the series cap and
// the time window.
func (p *Preprocessor) selectSeries(set *models.SeriesSet) ([]string, [][]float64, []time.Time, []models.Exclusion, error) {
	if set == nil {
		return nil, nil, nil, nil, utils.NewValidationError("series set is required")
	}
	n := set.Len()
	if !slices.IsSortedFunc(set.Timestamps, func(a, b time.Time) int { return a.Compare(b) }) {
		return nil, nil, nil, nil, utils.NewValidationError("timestamps must be in ascending order")
	}

	start := 0
	if p.opts.Window > 0 && n > 0 {
		cutoff := set.Timestamps[n-1].Add(-p.opts.Window)
		for start < n && !set.Timestamps[start].After(cutoff) {
			start++
		}
	}
	timestamps := set.Timestamps[start:]

	var (
		ids      []string
		prices   [][]float64
		excluded []models.Exclusion
		seen     = make(map[string]bool)
	)
	for _, raw := range set.OrderedIDs() {
		values, ok := set.Values[raw]
		if !ok {
			return nil, nil, nil, nil, utils.NewValidationErrorf("series %q has no values", raw)
		}
		if len(values) != n {
			return nil, nil, nil, nil, utils.NewValidationErrorf("series %q has %d values for %d timestamps", raw, len(values), n)
		}
		id := p.CanonicalID(raw)
		if id == "" {
			return nil, nil, nil, nil, utils.NewValidationError("series id must not be empty")
		}
		if seen[id] {
			return nil, nil, nil, nil, utils.NewValidationErrorf("duplicate series id %q", id)
		}
		seen[id] = true

		if p.opts.MaxSeries > 0 && len(ids) == p.opts.MaxSeries {
			excluded = append(excluded, seriesExclusion(id, ReasonMaxTokens, ""))
			continue
		}
		ids = append(ids, id)
		prices = append(prices, values[start:])
	}
	return ids, prices, timestamps, excluded, nil
}

// CanonicalID trims and upper-cases an item identifier.
func (p *Preprocessor) CanonicalID(id string) string {
	return p.upper.String(strings.TrimSpace(id))
}

// smoothedPrice is the last simple moving average of the finite prices.
func (p *Preprocessor) smoothedPrice(prices []float64) float64 {
	finite := make([]float64, 0, len(prices))
	for _, v := range prices {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0
	}
	period := min(p.opts.SmoothingPeriod, len(finite))
	sma := trend.NewSmaWithPeriod[float64](period)
	smoothed := helper.ChanToSlice(sma.Compute(helper.SliceToChan(finite)))
	if len(smoothed) == 0 {
		return stat.Mean(finite, nil)
	}
	return smoothed[len(smoothed)-1]
}

// percentChange returns r[t] = (p[t+1]-p[t])/p[t]; undefined values are NaN.
func percentChange(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for t := range out {
		prev, cur := prices[t], prices[t+1]
		r := (cur - prev) / prev
		if prev <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			r = math.NaN()
		}
		out[t] = r
	}
	return out
}

// suppressOutliers marks returns whose magnitude exceeds OutlierStd sigmas as
// dropped. ok is false when the series has no variation.
func (p *Preprocessor) suppressOutliers(values []float64) (string, bool) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) < 2 {
		return ReasonInsufficientData, false
	}
	std := stat.StdDev(finite, nil)
	if std == 0 {
		return ReasonZeroVariance, false
	}
	if p.opts.OutlierStd == 0 {
		return "", true
	}
	limit := p.opts.OutlierStd * std
	for i, v := range values {
		if !math.IsNaN(v) && math.Abs(v) > limit {
			values[i] = math.NaN()
		}
	}
	return "", true
}

// align intersects the surviving time indices. While the intersection is too
// short and more than two series remain it drops the series whose removal
// grows the intersection most, ties going to the later id.
func (p *Preprocessor) align(series []returns) ([]returns, []int, []models.Exclusion) {
	slices.SortFunc(series, func(a, b returns) int { return strings.Compare(a.id, b.id) })

	var dropped []models.Exclusion
	index := intersection(series, -1)
	for len(index) < p.opts.MinSamples && len(series) > 2 {
		worst, best := -1, -1
		for i := range series {
			if n := len(intersection(series, i)); n >= best {
				worst, best = i, n
			}
		}
		p.logger.WithFields(logrus.Fields{
			"series":       series[worst].id,
			"intersection": len(index),
			"after":        best,
		}).Debug("Dropping series to re-align returns")

		err := utils.NewInsufficientDataError(series[worst].id, ReasonAlignment, len(index), p.opts.MinSamples)
		dropped = append(dropped, seriesExclusion(series[worst].id, ReasonAlignment, err.Error()))
		series = slices.Delete(series, worst, worst+1)
		index = intersection(series, -1)
	}
	return series, index, dropped
}

// intersection lists the indices where every series except skip has a value.
func intersection(series []returns, skip int) []int {
	if len(series) == 0 {
		return nil
	}
	var out []int
	n := len(series[0].values)
	for t := 0; t < n; t++ {
		ok := true
		for i, r := range series {
			if i != skip && math.IsNaN(r.values[t]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

func seriesExclusion(id, reason, detail string) models.Exclusion {
	return models.Exclusion{Kind: models.ExclusionSeries, ID: id, Reason: reason, Detail: detail}
}
