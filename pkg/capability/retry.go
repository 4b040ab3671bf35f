package capability

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryPolicy defines retry and backoff behavior for transient capability errors.
type RetryPolicy struct {
	MaxRetries    int
	BaseBackoffMs int
	MaxBackoffMs  int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
}

// WithRetry wraps an answerer so transient failures are retried with exponential backoff.
// A BatchAnswerer stays a BatchAnswerer.
func WithRetry(a TextAnswerer, policy RetryPolicy, logger log.FieldLogger) TextAnswerer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	base := retryingAnswerer{TextAnswerer: a, policy: policy, logger: logger}
	if batch, ok := a.(BatchAnswerer); ok {
		return &retryingBatchAnswerer{retryingAnswerer: base, batch: batch}
	}
	return &base
}

// WithLocatorRetry wraps a localizer so transient failures are retried with exponential backoff.
func WithLocatorRetry(l ObjectLocalizer, policy RetryPolicy, logger log.FieldLogger) ObjectLocalizer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &retryingLocalizer{ObjectLocalizer: l, policy: policy, logger: logger}
}

type retryingAnswerer struct {
	TextAnswerer
	policy RetryPolicy
	logger log.FieldLogger
}

func (r *retryingAnswerer) Sample(ctx context.Context, img Image, query string) (string, error) {
	return withRetry(ctx, r.policy, r.logger.WithField("capability", r.Name()), func() (string, error) {
		return r.TextAnswerer.Sample(ctx, img, query)
	})
}

type retryingBatchAnswerer struct {
	retryingAnswerer
	batch BatchAnswerer
}

func (r *retryingBatchAnswerer) SampleN(ctx context.Context, img Image, query string, n int) ([]string, error) {
	return withRetry(ctx, r.policy, r.logger.WithField("capability", r.Name()), func() ([]string, error) {
		return r.batch.SampleN(ctx, img, query, n)
	})
}

type retryingLocalizer struct {
	ObjectLocalizer
	policy RetryPolicy
	logger log.FieldLogger
}

func (r *retryingLocalizer) Locate(ctx context.Context, img Image, query string) (DetectionResult, error) {
	return withRetry(ctx, r.policy, r.logger.WithField("capability", r.Name()), func() (DetectionResult, error) {
		return r.ObjectLocalizer.Locate(ctx, img, query)
	})
}

func withRetry[T any](ctx context.Context, policy RetryPolicy, logger log.FieldLogger, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		res, err := call()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == policy.MaxRetries {
			break
		}

		backoff := computeBackoff(policy.BaseBackoffMs, policy.MaxBackoffMs, attempt)
		logger.WithFields(log.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warnf("transient capability error, retrying: %v", err)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
