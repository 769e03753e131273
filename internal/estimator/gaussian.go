package estimator

import (
	"math/rand/v2"

	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GaussianCMI assumes jointly Gaussian variables and computes conditional
// mutual information from covariance log-determinants:
//
//	I(X;Y|Z) = 1/2 (ln|Σxz| + ln|Σyz| - ln|Σz| - ln|Σxyz|)
type GaussianCMI struct {
	opts Options
}

// NewGaussianCMI returns the estimator. Only LogBase is used from opts.
func NewGaussianCMI(opts Options) *GaussianCMI {
	return &GaussianCMI{opts: opts}
}

// Name implements Estimator.
func (e *GaussianCMI) Name() string {
	return BackendGaussian
}

// Estimate implements Estimator. rng is unused.
func (e *GaussianCMI) Estimate(s embedding.Samples, _ *rand.Rand) (float64, error) {
	n := s.Len()
	dx, dy, dz := s.Dims()
	width := dx + dy + dz
	if n <= width {
		return 0, utils.NewDegenerateInputErrorf("%d samples for %d dimensions", n, width)
	}

	data := mat.NewDense(n, width, nil)
	for i := 0; i < n; i++ {
		row := make([]float64, 0, width)
		row = append(row, s.Future[i]...)
		row = append(row, s.SourcePast[i]...)
		row = append(row, s.TargetPast[i]...)
		data.SetRow(i, row)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	xs := indexRange(0, dx)
	ys := indexRange(dx, dx+dy)
	zs := indexRange(dx+dy, width)

	var total float64
	for _, part := range []struct {
		idx  []int
		sign float64
	}{
		{concat(xs, zs), 1},
		{concat(ys, zs), 1},
		{zs, -1},
		{concat(xs, ys, zs), -1},
	} {
		ld, err := logDet(&cov, part.idx)
		if err != nil {
			return 0, err
		}
		total += part.sign * ld
	}

	estimate := 0.5 * total
	if estimate < 0 {
		estimate = 0
	}
	return toBase(estimate, e.opts.LogBase), nil
}

func logDet(cov *mat.SymDense, idx []int) (float64, error) {
	if len(idx) == 0 {
		return 0, nil
	}
	sub := mat.NewSymDense(len(idx), nil)
	for i, a := range idx {
		for j := i; j < len(idx); j++ {
			sub.SetSym(i, j, cov.At(a, idx[j]))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sub); !ok {
		return 0, utils.NewDegenerateInputErrorf("covariance of %d variables is not positive definite", len(idx))
	}
	return chol.LogDet(), nil
}

func indexRange(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
