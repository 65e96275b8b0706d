package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/irfndi/decoupling-detector/internal/analysis"
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

// Retry operation names.
const (
	OperationDatabaseConnect = "database_connect"
	OperationPriceLoad       = "price_load"
)

// DefaultRetryPolicies returns default retry policies for common operations
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		OperationDatabaseConnect: {
			MaxRetries:    5,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		OperationPriceLoad: {
			MaxRetries:    2,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}
}

var defaultPolicy = RetryPolicy{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	JitterEnabled: true,
}

// Retrier retries operations with exponential backoff under named policies.
type Retrier struct {
	logger   logrus.FieldLogger
	policies map[string]*RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier with DefaultRetryPolicies registered.
func NewRetrier(logger logrus.FieldLogger) *Retrier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Retrier{
		logger:   logger,
		policies: DefaultRetryPolicies(),
		sleep:    sleepContext,
	}
}

func (r *Retrier) policy(name string) RetryPolicy {
	if p, ok := r.policies[name]; ok && p != nil {
		return *p
	}
	return defaultPolicy
}

// ExecuteWithRetry runs operation until it succeeds, the policy is
// exhausted, ctx is done or the error is permanent. Analysis errors and
// context errors are permanent.
func (r *Retrier) ExecuteWithRetry(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	policy := r.policy(operationName)
	start := time.Now()
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if permanent(err) || attempt == policy.MaxRetries {
			break
		}

		r.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")

		if err := r.sleep(ctx, jitter(delay, policy)); err != nil {
			return lastErr
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	if !permanent(lastErr) {
		r.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"duration":  time.Since(start),
			"error":     lastErr.Error(),
		}).Error("Operation failed after all retries")
	}
	return lastErr
}

func permanent(err error) bool {
	return analysis.KindName(err) != "" ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// jitter spreads delay by up to 25% either way.
func jitter(delay time.Duration, policy RetryPolicy) time.Duration {
	if !policy.JitterEnabled || delay <= 0 {
		return delay
	}
	return delay + time.Duration(float64(delay)*0.25*(2*rand.Float64()-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
