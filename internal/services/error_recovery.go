package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy is used for price database reads.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// delay returns the wait before retry number attempt (zero based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.JitterEnabled && d > 0 {
		// up to 25% either way
		d += time.Duration(float64(d) * 0.25 * (2*rand.Float64() - 1))
	}
	return d
}

// Retry runs op until it succeeds, the policy is exhausted, permanent
// reports the error as not worth retrying, or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, permanent func(error) bool, op func(context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if err = op(ctx); err == nil {
			return attempt + 1, nil
		}
		if isPermanent(err, permanent) || attempt == policy.MaxRetries {
			return attempt + 1, err
		}

		timer := time.NewTimer(policy.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return policy.MaxRetries + 1, err
}

func isPermanent(err error, permanent func(error) bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	return permanent != nil && permanent(err)
}

// GuardedSource wraps a SeriesSource with retries and a circuit breaker.
// Errors matched by Permanent (for example "no prices stored") are passed
// through without retry and without tripping the breaker.
type GuardedSource struct {
	next      interfaces.SeriesSource
	breaker   *CircuitBreaker
	policy    RetryPolicy
	permanent func(error) bool
	logger    *logrus.Logger
}

// NewGuardedSource creates a guarded source. A nil breaker disables the
// breaker.
func NewGuardedSource(next interfaces.SeriesSource, breaker *CircuitBreaker, policy RetryPolicy, permanent func(error) bool, logger *logrus.Logger) *GuardedSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &GuardedSource{
		next:      next,
		breaker:   breaker,
		policy:    policy,
		permanent: permanent,
		logger:    logger,
	}
}

// LoadSeries implements interfaces.SeriesSource.
func (g *GuardedSource) LoadSeries(ctx context.Context, req interfaces.SeriesRequest) (*models.SeriesSet, error) {
	var set *models.SeriesSet
	load := func(ctx context.Context) error {
		s, err := g.next.LoadSeries(ctx, req)
		if err != nil {
			return err
		}
		set = s
		return nil
	}

	var passthrough error
	call := load
	if g.breaker != nil {
		call = func(ctx context.Context) error {
			return g.breaker.Execute(ctx, func(ctx context.Context) error {
				err := load(ctx)
				if err != nil && g.permanent != nil && g.permanent(err) {
					passthrough = err
					return nil
				}
				return err
			})
		}
	}

	attempts, err := Retry(ctx, g.policy, g.permanent, call)
	if err == nil && passthrough != nil {
		err = passthrough
	}
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"symbols":  req.Symbols,
			"attempts": attempts,
			"error":    err.Error(),
		}).Warn("Series load failed")
		return nil, err
	}
	if attempts > 1 {
		g.logger.WithFields(logrus.Fields{
			"symbols":  req.Symbols,
			"attempts": attempts,
		}).Info("Series load recovered after retry")
	}
	return set, nil
}
