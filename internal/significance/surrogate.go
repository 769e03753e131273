package significance

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"

	"github.com/irfndi/celebrum-netinfer/internal/utils"
)

// SurrogateMethod decides how the source block is randomised.
type SurrogateMethod string

const (
	// SurrogateShuffle permutes source rows uniformly.
	SurrogateShuffle SurrogateMethod = "shuffle"
	// SurrogateRotate circularly shifts source rows by a random non-zero offset,
	// keeping the source's own autocorrelation.
	SurrogateRotate SurrogateMethod = "rotate"
)

// ParseSurrogateMethod accepts "" as shuffle.
func ParseSurrogateMethod(s string) (SurrogateMethod, error) {
	switch SurrogateMethod(s) {
	case "", SurrogateShuffle:
		return SurrogateShuffle, nil
	case SurrogateRotate:
		return SurrogateRotate, nil
	}
	return "", utils.NewValidationErrorf("unknown surrogate_method %q", s)
}

// order returns one surrogate row order for n samples.
func (m SurrogateMethod) order(n int, rng *rand.Rand) []int {
	if m == SurrogateRotate && n > 1 {
		shift := 1 + rng.IntN(n-1)
		out := make([]int, n)
		for i := range out {
			out[i] = (i + shift) % n
		}
		return out
	}
	return rng.Perm(n)
}

// taskRand returns the random stream of one task. The stream depends only on
// the run seed and the task identity, never on scheduling order.
func taskRand(seed uint64, source, target, stage string, lag int) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	for _, s := range []string{source, target, stage} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(lag))
	h.Write(buf[:])
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}
