package services

import (
	"context"
	"runtime"

	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceOptimizer sizes the estimation worker pool from the host's
// resources. Detection runs once; callers resolve a worker count at run
// start and keep it for the whole run.
type ResourceOptimizer struct {
	cpuCores int
	memoryGB float64
	config   ResourceOptimizerConfig
	logger   *logrus.Entry
}

// ResourceOptimizerConfig bounds the resolved worker count.
type ResourceOptimizerConfig struct {
	MinWorkers int
	// MaxWorkers caps "use all" resolution; 0 means no cap.
	MaxWorkers int
}

// NewResourceOptimizer reads logical CPUs and total memory.
func NewResourceOptimizer(ctx context.Context, config ResourceOptimizerConfig, logger *logrus.Logger) *ResourceOptimizer {
	if config.MinWorkers < 1 {
		config.MinWorkers = 1
	}

	ro := &ResourceOptimizer{
		config: config,
		logger: logging.WithComponent(logger, "resource_optimizer"),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		ro.cpuCores = n
	} else {
		ro.cpuCores = runtime.NumCPU()
	}

	// Get initial memory info
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ro.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		ro.logger.WithError(err).Warn("Could not get memory info, using default")
		ro.memoryGB = 8.0
	}

	ro.logger.WithFields(logrus.Fields{
		"cpu_cores": ro.cpuCores,
		"memory_gb": ro.memoryGB,
	}).Debug("Resource optimizer initialized")
	return ro
}

// CPUCores returns the detected logical CPU count.
func (ro *ResourceOptimizer) CPUCores() int {
	return ro.cpuCores
}

// ResolveWorkers turns a num_threads request into a concrete pool size.
// requested > 0 is honoured as given; 0 uses every logical CPU, reduced on
// low-memory hosts.
func (ro *ResourceOptimizer) ResolveWorkers(requested int) int {
	if requested > 0 {
		return requested
	}

	memoryFactor := 1.0
	if ro.memoryGB < 4.0 {
		memoryFactor = 0.5
	} else if ro.memoryGB < 8.0 {
		memoryFactor = 0.75
	}

	workers := int(float64(ro.cpuCores) * memoryFactor)
	if workers < ro.config.MinWorkers {
		workers = ro.config.MinWorkers
	}
	if ro.config.MaxWorkers > 0 && workers > ro.config.MaxWorkers {
		workers = ro.config.MaxWorkers
	}
	return workers
}
