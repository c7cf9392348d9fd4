// Retry policy evaluation: a pure decision layer that computes whether and
// when a failed attempt should be retried. Backoff delays are deterministic
// (no jitter) so retry timing is reproducible: delay(n) = min(maxDelay,
// baseDelay * multiplier^(n-1)) for the n-th retry, 1-indexed.
package diagnostics

import (
	"fmt"
	"math"
	"time"
)

// System-wide retry defaults, applied when a test carries no RetryConfig or
// leaves fields at their zero value.
const (
	DefaultMaxRetries        = 1
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryDecision is the outcome of evaluating one failure against a policy.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// DefaultRetryCondition retries only when the attempt produced an error. A
// returned warning or fail result is final: soft states are not failures
// requiring retry unless a test's own condition opts in by inspecting the
// result.
func DefaultRetryCondition(err error, _ *DiagnosticResult) bool {
	return err != nil
}

// DefaultRetryConfig returns the system-wide default policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		RetryCondition:    DefaultRetryCondition,
	}
}

// NormalizeRetryConfig fills unset fields of cfg with system defaults. A nil
// cfg yields the full default policy. MaxRetries is kept as given: zero is a
// meaningful value (no retries) on an explicitly supplied config.
func NormalizeRetryConfig(cfg *RetryConfig) RetryConfig {
	if cfg == nil {
		return DefaultRetryConfig()
	}

	out := *cfg
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultMaxDelay
	}
	if out.BackoffMultiplier <= 0 {
		out.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if out.RetryCondition == nil {
		out.RetryCondition = DefaultRetryCondition
	}
	return out
}

// ValidateRetryConfig rejects malformed retry configuration. Registration
// calls this so configuration errors fail fast instead of surfacing mid-run.
// Zero values are legal (they inherit defaults); negative limits and
// sub-unity multipliers are not, since the latter would break the monotonic
// non-decreasing backoff guarantee.
func ValidateRetryConfig(cfg *RetryConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must be >= 0, got %d", ErrInvalidRetryConfig, cfg.MaxRetries)
	}
	if cfg.BaseDelay < 0 {
		return fmt.Errorf("%w: baseDelay must be >= 0, got %v", ErrInvalidRetryConfig, cfg.BaseDelay)
	}
	if cfg.MaxDelay < 0 {
		return fmt.Errorf("%w: maxDelay must be >= 0, got %v", ErrInvalidRetryConfig, cfg.MaxDelay)
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		return fmt.Errorf("%w: baseDelay %v exceeds maxDelay %v", ErrInvalidRetryConfig, cfg.BaseDelay, cfg.MaxDelay)
	}
	if cfg.BackoffMultiplier != 0 && cfg.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoffMultiplier must be >= 1, got %g", ErrInvalidRetryConfig, cfg.BackoffMultiplier)
	}
	return nil
}

// EvaluateRetry decides whether the failure described by err or result
// should be retried as the attempt-th retry (1-indexed: the first retry is
// evaluated with attempt=1). Exhaustion wins over the condition: once
// attempt exceeds cfg.MaxRetries the decision is final regardless of the
// predicate. This function never panics; a panicking user condition counts
// as a refusal to retry.
func EvaluateRetry(err error, result *DiagnosticResult, attempt int, cfg RetryConfig) RetryDecision {
	cfg = NormalizeRetryConfig(&cfg)

	if attempt < 1 || attempt > cfg.MaxRetries {
		return RetryDecision{}
	}
	if !safeCondition(cfg.RetryCondition, err, result) {
		return RetryDecision{}
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       BackoffDelay(attempt, cfg),
	}
}

// BackoffDelay computes the deterministic exponential backoff delay before
// the attempt-th retry, capped at cfg.MaxDelay. Overflow of the float
// arithmetic saturates at the cap.
func BackoffDelay(attempt int, cfg RetryConfig) time.Duration {
	cfg = NormalizeRetryConfig(&cfg)

	multiplier := math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	scaled := float64(cfg.BaseDelay) * multiplier
	if scaled < 0 || scaled > float64(cfg.MaxDelay) || math.IsInf(scaled, 0) || math.IsNaN(scaled) {
		return cfg.MaxDelay
	}
	return time.Duration(scaled)
}

func safeCondition(cond RetryCondition, err error, result *DiagnosticResult) (retry bool) {
	defer func() {
		if recover() != nil {
			retry = false
		}
	}()
	return cond(err, result)
}
