package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))
	m.RunFinished("ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))

	m.AddEstimations(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(m.estimations))

	m.PairFinished("raw_edge")
	m.PairFinished("raw_edge")
	m.PairFinished("rejected")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pairs.WithLabelValues("raw_edge")))

	m.SetEdges(5, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.edges.WithLabelValues("significant")))

	m.Excluded("series", "zero_variance")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.excluded.WithLabelValues("series", "zero_variance")))

	m.ObserveStage("correlation", 20*time.Millisecond)
	count, err := testutil.GatherAndCount(reg, "netinfer_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineMetrics_Nil(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("ok")
		m.ObserveStage("x", time.Second)
		m.AddEstimations(1)
		m.PairFinished("rejected")
		m.SetEdges(1, 1)
		m.Excluded("pair", "degenerate_input")
	})
}
