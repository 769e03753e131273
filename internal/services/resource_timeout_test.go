package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceOptimizer_ResolveWorkers(t *testing.T) {
	ro := NewResourceOptimizer(context.Background(), ResourceOptimizerConfig{}, nil)
	require.Greater(t, ro.CPUCores(), 0)

	assert.Equal(t, 3, ro.ResolveWorkers(3))
	assert.GreaterOrEqual(t, ro.ResolveWorkers(0), 1)
	assert.LessOrEqual(t, ro.ResolveWorkers(0), ro.CPUCores())

	capped := NewResourceOptimizer(context.Background(), ResourceOptimizerConfig{MaxWorkers: 1}, nil)
	assert.Equal(t, 1, capped.ResolveWorkers(0))
	assert.Equal(t, 5, capped.ResolveWorkers(5))
}

func TestResourceOptimizer_MemoryFactor(t *testing.T) {
	tests := []struct {
		name     string
		memoryGB float64
		want     int
	}{
		{"large host", 32, 8},
		{"medium host", 6, 6},
		{"small host", 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ro := &ResourceOptimizer{cpuCores: 8, memoryGB: tt.memoryGB, config: ResourceOptimizerConfig{MinWorkers: 1}}
			assert.Equal(t, tt.want, ro.ResolveWorkers(0))
		})
	}
}

func TestTimeoutManager_Start(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{Analysis: time.Hour, HealthCheck: time.Second}, nil)

	op := tm.Start(context.Background(), OperationAnalysis, "run-1", 0)
	deadline, ok := op.Ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)
	assert.True(t, tm.IsOperationActive("run-1"))
	assert.Equal(t, 1, tm.GetActiveOperationCount())

	tm.CompleteOperation("run-1")
	assert.False(t, tm.IsOperationActive("run-1"))
	assert.ErrorIs(t, op.Ctx.Err(), context.Canceled)
}

func TestTimeoutManager_CustomAndUnbounded(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{}, nil)

	op := tm.Start(context.Background(), OperationAnalysis, "run-2", 10*time.Millisecond)
	<-op.Ctx.Done()
	assert.ErrorIs(t, op.Ctx.Err(), context.DeadlineExceeded)
	tm.CompleteOperation("run-2")

	op = tm.Start(context.Background(), OperationAnalysis, "run-3", 0)
	_, ok := op.Ctx.Deadline()
	assert.False(t, ok)

	configured := NewTimeoutManager(&TimeoutConfig{Analysis: time.Hour}, nil)
	op2 := configured.Start(context.Background(), OperationAnalysis, "run-4", NoTimeout)
	_, ok = op2.Ctx.Deadline()
	assert.False(t, ok)
	configured.CompleteOperation("run-4")

	tm.CancelAllOperations()
	assert.Equal(t, 0, tm.GetActiveOperationCount())
	assert.Error(t, op.Ctx.Err())
}
