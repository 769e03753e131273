package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("prices", cfg, quietLogger())
	cb.now = clock.Now
	return cb, clock
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("prices", CircuitBreakerConfig{}, nil)
	assert.Equal(t, 5, cb.config.FailureThreshold)
	assert.Equal(t, 1, cb.config.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cb.config.OpenTimeout)
	assert.Equal(t, 1, cb.config.MaxHalfOpenCalls)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, Open, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.RejectedRequests)
	assert.Equal(t, int64(1), stats.StateChanges)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, Open, cb.State())

	clock.Advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, HalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentCalls(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second, MaxHalfOpenCalls: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, Open, cb.State())

	cb.Reset()
	assert.Equal(t, Closed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 10*time.Millisecond, p.delay(0))
	assert.Equal(t, 20*time.Millisecond, p.delay(1))
	assert.Equal(t, 40*time.Millisecond, p.delay(2))
	assert.Equal(t, 50*time.Millisecond, p.delay(5))

	p.JitterEnabled = true
	for i := 0; i < 20; i++ {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, 15*time.Millisecond)
		assert.LessOrEqual(t, d, 25*time.Millisecond)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("eventual success", func(t *testing.T) {
		calls := 0
		attempts, err := Retry(ctx, fastPolicy(3), nil, func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausted", func(t *testing.T) {
		attempts, err := Retry(ctx, fastPolicy(2), nil, fail)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent", func(t *testing.T) {
		attempts, err := Retry(ctx, fastPolicy(5), func(err error) bool { return errors.Is(err, errBoom) }, fail)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, attempts)
	})

	t.Run("circuit open is not retried", func(t *testing.T) {
		attempts, err := Retry(ctx, fastPolicy(5), nil, func(context.Context) error { return ErrCircuitOpen })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		attempts, err := Retry(cctx, fastPolicy(5), nil, succeed)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, attempts)
	})
}

type sourceFunc func(context.Context, interfaces.SeriesRequest) (*models.SeriesSet, error)

func (f sourceFunc) LoadSeries(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, error) {
	return f(ctx, req)
}

var errNotFound = errors.New("no prices")

func TestGuardedSource(t *testing.T) {
	ctx := context.Background()
	req := interfaces.SeriesRequest{Symbols: []string{"BTC", "ETH"}, Hours: 24}
	want := &models.SeriesSet{IDs: []string{"BTC", "ETH"}}
	permanent := func(err error) bool { return errors.Is(err, errNotFound) }

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		src := sourceFunc(func(context.Context, interfaces.SeriesRequest) (*models.SeriesSet, error) {
			calls++
			if calls == 1 {
				return nil, errBoom
			}
			return want, nil
		})
		breaker := NewCircuitBreaker("prices", CircuitBreakerConfig{FailureThreshold: 5}, quietLogger())
		g := NewGuardedSource(src, breaker, fastPolicy(2), permanent, quietLogger())

		got, err := g.LoadSeries(ctx, req)
		require.NoError(t, err)
		assert.Same(t, want, got)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent error passes through without tripping", func(t *testing.T) {
		calls := 0
		src := sourceFunc(func(context.Context, interfaces.SeriesRequest) (*models.SeriesSet, error) {
			calls++
			return nil, errNotFound
		})
		breaker := NewCircuitBreaker("prices", CircuitBreakerConfig{FailureThreshold: 1}, quietLogger())
		g := NewGuardedSource(src, breaker, fastPolicy(3), permanent, quietLogger())

		_, err := g.LoadSeries(ctx, req)
		assert.ErrorIs(t, err, errNotFound)
		assert.Equal(t, 1, calls)
		assert.Equal(t, Closed, breaker.State())
	})

	t.Run("breaker opens and short circuits", func(t *testing.T) {
		calls := 0
		src := sourceFunc(func(context.Context, interfaces.SeriesRequest) (*models.SeriesSet, error) {
			calls++
			return nil, errBoom
		})
		breaker := NewCircuitBreaker("prices", CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, quietLogger())
		g := NewGuardedSource(src, breaker, fastPolicy(5), permanent, quietLogger())

		_, err := g.LoadSeries(ctx, req)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 2, calls)
		assert.Equal(t, Open, breaker.State())
	})

	t.Run("without breaker", func(t *testing.T) {
		src := sourceFunc(func(context.Context, interfaces.SeriesRequest) (*models.SeriesSet, error) {
			return want, nil
		})
		g := NewGuardedSource(src, nil, fastPolicy(0), nil, nil)
		got, err := g.LoadSeries(ctx, req)
		require.NoError(t, err)
		assert.Same(t, want, got)
	})
}
