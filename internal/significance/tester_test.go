package significance

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/estimator"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		TEThreshold: 0,
		Alpha:       0.05,
		PermMaxStat: 20,
		PermMinStat: 20,
		PermOmnibus: 20,
		Surrogate:   SurrogateShuffle,
		Seed:        42,
	}
}

func newTester(t *testing.T, lags embedding.LagConfig, cfg Config, opts estimator.Options) *Tester {
	t.Helper()
	b, err := embedding.NewBuilder(lags)
	require.NoError(t, err)
	est, err := estimator.NewKraskovCMI(opts)
	require.NoError(t, err)
	tester, err := NewTester(b, est, cfg, nil)
	require.NoError(t, err)
	return tester
}

func lagConfig(maxLag int) embedding.LagConfig {
	return embedding.LagConfig{MinSourceLag: 1, MaxSourceLag: maxLag, MaxTargetLag: 1, SourceTau: 1, TargetTau: 1, SourceDim: 1}
}

// laggedPair builds target[t] = source[t-lag] + 0.1*noise.
func laggedPair(n, lag int, seed uint64) Pair {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	source := make([]float64, n)
	target := make([]float64, n)
	for i := range source {
		source[i] = rng.NormFloat64()
	}
	for i := range target {
		if i >= lag {
			target[i] = source[i-lag] + 0.1*rng.NormFloat64()
		} else {
			target[i] = rng.NormFloat64()
		}
	}
	return Pair{Source: "SRC", Target: "TGT", SourceValues: source, TargetValues: target}
}

func noisePair(n int, seed uint64, name string) Pair {
	rng := rand.New(rand.NewPCG(seed, seed*31+7))
	source := make([]float64, n)
	target := make([]float64, n)
	for i := range source {
		source[i] = rng.NormFloat64()
		target[i] = rng.NormFloat64()
	}
	return Pair{Source: name, Target: name + "_T", SourceValues: source, TargetValues: target}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative threshold", func(c *Config) { c.TEThreshold = -1 }},
		{"alpha zero", func(c *Config) { c.Alpha = 0 }},
		{"alpha one", func(c *Config) { c.Alpha = 1 }},
		{"no permutations", func(c *Config) { c.PermOmnibus = 0 }},
		{"unknown surrogate", func(c *Config) { c.Surrogate = "bootstrap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, testConfig().Validate())
}

func TestSurrogateOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, m := range []SurrogateMethod{SurrogateShuffle, SurrogateRotate} {
		order := m.order(50, rng)
		sorted := slices.Clone(order)
		slices.Sort(sorted)
		for i, v := range sorted {
			require.Equal(t, i, v, "method %s must produce a permutation", m)
		}
	}

	rot := SurrogateRotate.order(10, rng)
	shift := rot[0]
	assert.NotZero(t, shift)
	for i, v := range rot {
		assert.Equal(t, (i+shift)%10, v)
	}

	m, err := ParseSurrogateMethod("")
	require.NoError(t, err)
	assert.Equal(t, SurrogateShuffle, m)
	_, err = ParseSurrogateMethod("block")
	assert.Error(t, err)
}

func TestTaskRand_Deterministic(t *testing.T) {
	a := taskRand(42, "A", "B", stageRaw, 1).Uint64()
	b := taskRand(42, "A", "B", stageRaw, 1).Uint64()
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, taskRand(42, "B", "A", stageRaw, 1).Uint64())
	assert.NotEqual(t, a, taskRand(42, "A", "B", stageRaw, 2).Uint64())
	assert.NotEqual(t, a, taskRand(42, "A", "B", stageOmnibus, 1).Uint64())
	assert.NotEqual(t, a, taskRand(43, "A", "B", stageRaw, 1).Uint64())
	// the separator keeps ("AB","C") and ("A","BC") apart
	assert.NotEqual(t, taskRand(1, "AB", "C", stageRaw, 1).Uint64(), taskRand(1, "A", "BC", stageRaw, 1).Uint64())
}

func TestTester_DetectsLagTwo(t *testing.T) {
	for _, method := range []SurrogateMethod{SurrogateShuffle, SurrogateRotate} {
		t.Run(string(method), func(t *testing.T) {
			cfg := testConfig()
			cfg.Surrogate = method
			tester := newTester(t, lagConfig(3), cfg, estimator.DefaultOptions())

			out, err := tester.Test(context.Background(), laggedPair(300, 2, 11))
			require.NoError(t, err)
			require.Equal(t, models.PairRawEdge, out.State, "reason: %s", out.Reason)
			assert.Equal(t, models.PairLagTested, out.Reached)
			require.NotNil(t, out.Edge)

			assert.Equal(t, 2, out.Edge.BestLag)
			assert.True(t, out.Edge.SignificantRaw)
			assert.LessOrEqual(t, out.Edge.PValue, 0.05)
			assert.LessOrEqual(t, out.Edge.OmnibusPValue, 0.05)
			assert.Contains(t, out.Edge.SelectedLags, 2)
			assert.Greater(t, out.Edge.Statistic, 0.5)
			assert.Len(t, out.LagStatistics, 3)
			for _, v := range out.LagStatistics {
				assert.GreaterOrEqual(t, v, 0.0)
			}
		})
	}
}

func TestTester_Deterministic(t *testing.T) {
	tester := newTester(t, lagConfig(3), testConfig(), estimator.DefaultOptions())
	p := laggedPair(150, 1, 5)

	first, err := tester.Test(context.Background(), p)
	require.NoError(t, err)
	second, err := tester.Test(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTester_TEThresholdFilter(t *testing.T) {
	cfg := testConfig()
	cfg.TEThreshold = 100
	tester := newTester(t, lagConfig(2), cfg, estimator.DefaultOptions())

	out, err := tester.Test(context.Background(), laggedPair(150, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, models.PairRejected, out.State)
	assert.Equal(t, models.ReasonBelowTEThreshold, out.Reason)
	assert.Equal(t, models.PairEmbeddingBuilt, out.Reached)
	assert.Nil(t, out.Edge)
	assert.Len(t, out.LagStatistics, 2)
}

func TestTester_DegenerateInputRejected(t *testing.T) {
	opts := estimator.DefaultOptions()
	opts.NoiseLevel = 0
	tester := newTester(t, lagConfig(2), testConfig(), opts)

	flat := make([]float64, 100)
	out, err := tester.Test(context.Background(), Pair{Source: "A", Target: "B", SourceValues: flat, TargetValues: flat})
	require.NoError(t, err)
	assert.Equal(t, models.PairRejected, out.State)
	assert.Equal(t, models.ReasonDegenerateInput, out.Reason)
	assert.Equal(t, models.PairScreened, out.Reached)
}

func TestTester_OmnibusRejectionStopsBeforeLagTest(t *testing.T) {
	cfg := testConfig()
	// with 20 surrogates only an omnibus p of exactly 0 passes
	cfg.Alpha = 0.01
	tester := newTester(t, lagConfig(2), cfg, estimator.DefaultOptions())

	rejected := 0
	for i := 0; i < 10; i++ {
		out, err := tester.Test(context.Background(), noisePair(120, uint64(100+i), fmt.Sprintf("OM%d", i)))
		require.NoError(t, err)
		if out.Reason != models.ReasonOmnibusNotSignificant {
			continue
		}
		rejected++
		assert.Equal(t, models.PairRejected, out.State)
		assert.Equal(t, models.PairOmnibusTested, out.Reached)
		require.NotNil(t, out.Edge)
		assert.Equal(t, out.Edge.OmnibusPValue, out.Edge.PValue)
		assert.False(t, out.Edge.SignificantRaw)
	}
	assert.Greater(t, rejected, 0)
}

func TestTester_ContextCancelled(t *testing.T) {
	tester := newTester(t, lagConfig(3), testConfig(), estimator.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tester.Test(ctx, laggedPair(100, 2, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTester_NoiseFalsePositiveRate(t *testing.T) {
	if testing.Short() {
		t.Skip("repeated surrogate testing")
	}
	tester := newTester(t, lagConfig(2), testConfig(), estimator.DefaultOptions())

	const trials = 40
	positives := 0
	for i := 0; i < trials; i++ {
		out, err := tester.Test(context.Background(), noisePair(150, uint64(i+1), fmt.Sprintf("N%d", i)))
		require.NoError(t, err)
		if out.Edge != nil {
			assert.GreaterOrEqual(t, out.Edge.PValue, 0.0)
			assert.LessOrEqual(t, out.Edge.PValue, 1.0)
			assert.GreaterOrEqual(t, out.Edge.OmnibusPValue, 0.0)
			assert.LessOrEqual(t, out.Edge.OmnibusPValue, 1.0)
			if out.Edge.SignificantRaw {
				positives++
			}
		}
	}
	// nominal rate 0.05; loose bound for 40 trials with 20 surrogates each
	assert.LessOrEqual(t, positives, 10)
}
