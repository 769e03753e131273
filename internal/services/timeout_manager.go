package services

import (
	"context"
	"sync"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/sirupsen/logrus"
)

// TimeoutConfig defines timeout settings for different operation types
type TimeoutConfig struct {
	Analysis       time.Duration
	DatabaseQuery  time.Duration
	RedisOperation time.Duration
	HealthCheck    time.Duration
}

// Operation types understood by the TimeoutManager.
const (
	OperationAnalysis = "analysis"
	OperationDatabase = "database_query"
	OperationRedis    = "redis_operation"
	OperationHealth   = "health_check"
)

// TimeoutManager hands out deadline-bound contexts and can cancel every
// operation still running, e.g. on shutdown.
type TimeoutManager struct {
	config         *TimeoutConfig
	logger         *logrus.Entry
	activeContexts map[string]context.CancelFunc
	mu             sync.RWMutex
	defaultTimeout time.Duration
}

// OperationContext wraps a context with timeout and cancellation
type OperationContext struct {
	Ctx         context.Context
	Cancel      context.CancelFunc
	OperationID string
	StartTime   time.Time
	Timeout     time.Duration
}

// NewTimeoutManager creates a new timeout manager
func NewTimeoutManager(config *TimeoutConfig, logger *logrus.Logger) *TimeoutManager {
	if config == nil {
		config = DefaultTimeoutConfig()
	}

	return &TimeoutManager{
		config:         config,
		logger:         logging.WithComponent(logger, "timeout_manager"),
		activeContexts: make(map[string]context.CancelFunc),
		defaultTimeout: 30 * time.Second,
	}
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Analysis:       30 * time.Minute,
		DatabaseQuery:  10 * time.Second,
		RedisOperation: 2 * time.Second,
		HealthCheck:    3 * time.Second,
	}
}

// NoTimeout passed as the custom timeout to Start disables the deadline.
const NoTimeout time.Duration = -1

// Start registers an operation under operationID with the timeout of
// operationType. A positive custom timeout overrides the configured one and
// zero keeps it.
func (tm *TimeoutManager) Start(parent context.Context, operationType, operationID string, custom time.Duration) *OperationContext {
	timeout := custom
	if timeout == 0 {
		timeout = tm.getTimeoutForOperation(operationType)
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	tm.mu.Lock()
	tm.activeContexts[operationID] = cancel
	tm.mu.Unlock()

	return &OperationContext{
		Ctx:         ctx,
		Cancel:      cancel,
		OperationID: operationID,
		StartTime:   time.Now(),
		Timeout:     timeout,
	}
}

// getTimeoutForOperation returns the appropriate timeout for an operation type
func (tm *TimeoutManager) getTimeoutForOperation(operationType string) time.Duration {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	switch operationType {
	case OperationAnalysis:
		return tm.config.Analysis
	case OperationDatabase:
		return tm.config.DatabaseQuery
	case OperationRedis:
		return tm.config.RedisOperation
	case OperationHealth:
		return tm.config.HealthCheck
	default:
		return tm.defaultTimeout
	}
}

// CompleteOperation marks an operation as complete and cleans up resources
func (tm *TimeoutManager) CompleteOperation(operationID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if cancel, exists := tm.activeContexts[operationID]; exists {
		cancel()
		delete(tm.activeContexts, operationID)
	}
}

// CancelAllOperations cancels all active operations
func (tm *TimeoutManager) CancelAllOperations() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for operationID, cancel := range tm.activeContexts {
		cancel()
		tm.logger.WithField("operation_id", operationID).Info("Operation cancelled during shutdown")
	}

	tm.activeContexts = make(map[string]context.CancelFunc)
}

// GetActiveOperationCount returns the number of active operations
func (tm *TimeoutManager) GetActiveOperationCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeContexts)
}

// IsOperationActive checks if an operation is currently active
func (tm *TimeoutManager) IsOperationActive(operationID string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.activeContexts[operationID]
	return exists
}
