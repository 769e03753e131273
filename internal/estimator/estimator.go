// Package estimator provides conditional mutual information estimators used
// to score transfer entropy between embedded return series.
package estimator

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"gonum.org/v1/gonum/stat"
)

// Estimator scores I(future ; source past | target past) for one sample set.
// Implementations must be safe for concurrent use; any randomness comes from rng.
type Estimator interface {
	Name() string
	Estimate(s embedding.Samples, rng *rand.Rand) (float64, error)
}

// Norm selects the distance used in nearest-neighbour searches.
type Norm string

const (
	NormMax       Norm = "max"
	NormEuclidean Norm = "euclidean"
)

// Backend names accepted by New.
const (
	BackendKraskov  = "kraskov"
	BackendGaussian = "gaussian"
)

// Options configures an estimator backend.
type Options struct {
	K          int
	NoiseLevel float64
	Norm       Norm
	LogBase    float64
	Normalise  bool
}

// DefaultOptions returns k=4, 1e-8 tie-breaking noise, max norm and nats.
func DefaultOptions() Options {
	return Options{
		K:          4,
		NoiseLevel: 1e-8,
		Norm:       NormMax,
		LogBase:    math.E,
		Normalise:  true,
	}
}

// New builds the named backend.
func New(name string, opts Options) (Estimator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendKraskov, "kraskovcmi", "pythonkraskovcmi", "jidtkraskovcmi":
		return NewKraskovCMI(opts)
	case BackendGaussian, "gaussiancmi", "jidtgaussiancmi":
		return NewGaussianCMI(opts), nil
	default:
		return nil, utils.NewValidationErrorf("unknown cmi_estimator %q", name)
	}
}

// toBase converts a value in nats to the configured logarithm base.
func toBase(nats, base float64) float64 {
	if base <= 0 || base == math.E {
		return nats
	}
	return nats / math.Log(base)
}

// copyBlock deep-copies rows so estimators never write into shared samples.
func copyBlock(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// normaliseColumns rescales every column of rows to zero mean and unit variance.
// Constant columns are only centred.
func normaliseColumns(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	col := make([]float64, len(rows))
	for c := 0; c < len(rows[0]); c++ {
		for i, r := range rows {
			col[i] = r[c]
		}
		mean, std := stat.MeanStdDev(col, nil)
		for _, r := range rows {
			r[c] -= mean
			if std > 0 {
				r[c] /= std
			}
		}
	}
}
