package estimator

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"
)

// KraskovCMI is the nearest-neighbour (KSG, algorithm 1) estimator of
// conditional mutual information. Without a conditioning block it reduces to
// the KSG mutual information estimator.
type KraskovCMI struct {
	opts Options
	l    float64
}

// NewKraskovCMI validates opts and returns the estimator.
func NewKraskovCMI(opts Options) (*KraskovCMI, error) {
	if opts.K < 1 {
		return nil, utils.NewValidationErrorf("kraskov_k must be >= 1, got %d", opts.K)
	}
	if opts.NoiseLevel < 0 {
		return nil, utils.NewValidationErrorf("noise_level must be >= 0, got %g", opts.NoiseLevel)
	}

	l := math.Inf(1)
	switch opts.Norm {
	case "", NormMax:
		opts.Norm = NormMax
	case NormEuclidean:
		l = 2
	default:
		return nil, utils.NewValidationErrorf("unknown distance_norm %q", opts.Norm)
	}
	return &KraskovCMI{opts: opts, l: l}, nil
}

// Name implements Estimator.
func (e *KraskovCMI) Name() string {
	return BackendKraskov
}

// K returns the neighbour count.
func (e *KraskovCMI) K() int {
	return e.opts.K
}

// Estimate implements Estimator. Negative finite-sample estimates are floored at zero.
func (e *KraskovCMI) Estimate(s embedding.Samples, rng *rand.Rand) (float64, error) {
	n := s.Len()
	k := e.opts.K
	if n < k+1 {
		return 0, utils.NewDegenerateInputErrorf("%d samples, need at least k+1=%d", n, k+1)
	}

	x := e.prepare(s.Future, rng)
	y := e.prepare(s.SourcePast, rng)
	z := e.prepare(s.TargetPast, rng)
	conditional := len(z[0]) > 0

	dx := make([]float64, n)
	dy := make([]float64, n)
	dz := make([]float64, n)
	joint := make([]float64, 0, n-1)

	var sum float64
	for i := 0; i < n; i++ {
		joint = joint[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dx[j] = floats.Distance(x[i], x[j], e.l)
			dy[j] = floats.Distance(y[i], y[j], e.l)
			if conditional {
				dz[j] = floats.Distance(z[i], z[j], e.l)
			}
			joint = append(joint, e.combine(e.combine(dx[j], dy[j]), dz[j]))
		}
		slices.Sort(joint)
		if joint[0] == 0 {
			return 0, utils.NewDegenerateInputErrorf("sample %d duplicates another row in the joint space", i)
		}
		eps := joint[k-1]

		var nx, ny, nz int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if conditional {
				if e.combine(dx[j], dz[j]) < eps {
					nx++
				}
				if e.combine(dy[j], dz[j]) < eps {
					ny++
				}
				if dz[j] < eps {
					nz++
				}
				continue
			}
			if dx[j] < eps {
				nx++
			}
			if dy[j] < eps {
				ny++
			}
		}

		if conditional {
			sum += mathext.Digamma(float64(nz+1)) - mathext.Digamma(float64(nx+1)) - mathext.Digamma(float64(ny+1))
		} else {
			sum -= mathext.Digamma(float64(nx+1)) + mathext.Digamma(float64(ny+1))
		}
	}

	estimate := mathext.Digamma(float64(k)) + sum/float64(n)
	if !conditional {
		estimate += mathext.Digamma(float64(n))
	}
	if estimate < 0 {
		estimate = 0
	}
	return toBase(estimate, e.opts.LogBase), nil
}

// prepare copies a block, normalises it and adds tie-breaking noise.
func (e *KraskovCMI) prepare(rows [][]float64, rng *rand.Rand) [][]float64 {
	out := copyBlock(rows)
	if e.opts.Normalise {
		normaliseColumns(out)
	}
	if e.opts.NoiseLevel > 0 && rng != nil {
		for _, r := range out {
			for c := range r {
				r[c] += e.opts.NoiseLevel * rng.NormFloat64()
			}
		}
	}
	return out
}

// combine merges distances of two subspaces under the configured norm.
func (e *KraskovCMI) combine(a, b float64) float64 {
	if math.IsInf(e.l, 1) {
		return math.Max(a, b)
	}
	return math.Hypot(a, b)
}
