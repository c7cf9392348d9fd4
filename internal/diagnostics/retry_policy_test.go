package diagnostics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRetryConfig(t *testing.T) {
	tests := []struct {
		name     string
		config   *RetryConfig
		expected RetryConfig
	}{
		{
			name:   "nil config uses full defaults",
			config: nil,
			expected: RetryConfig{
				MaxRetries:        DefaultMaxRetries,
				BaseDelay:         DefaultBaseDelay,
				MaxDelay:          DefaultMaxDelay,
				BackoffMultiplier: DefaultBackoffMultiplier,
			},
		},
		{
			name: "explicit zero retries preserved",
			config: &RetryConfig{
				MaxRetries: 0,
				BaseDelay:  100 * time.Millisecond,
			},
			expected: RetryConfig{
				MaxRetries:        0,
				BaseDelay:         100 * time.Millisecond,
				MaxDelay:          DefaultMaxDelay,
				BackoffMultiplier: DefaultBackoffMultiplier,
			},
		},
		{
			name: "custom fields preserved",
			config: &RetryConfig{
				MaxRetries:        5,
				BaseDelay:         time.Second,
				MaxDelay:          time.Minute,
				BackoffMultiplier: 3,
			},
			expected: RetryConfig{
				MaxRetries:        5,
				BaseDelay:         time.Second,
				MaxDelay:          time.Minute,
				BackoffMultiplier: 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeRetryConfig(tt.config)
			assert.Equal(t, tt.expected.MaxRetries, got.MaxRetries)
			assert.Equal(t, tt.expected.BaseDelay, got.BaseDelay)
			assert.Equal(t, tt.expected.MaxDelay, got.MaxDelay)
			assert.Equal(t, tt.expected.BackoffMultiplier, got.BackoffMultiplier)
			require.NotNil(t, got.RetryCondition)
		})
	}
}

func TestValidateRetryConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *RetryConfig
		wantErr bool
	}{
		{name: "nil is valid", config: nil},
		{name: "zero value is valid", config: &RetryConfig{}},
		{
			name:   "complete config is valid",
			config: &RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2},
		},
		{name: "negative maxRetries", config: &RetryConfig{MaxRetries: -1}, wantErr: true},
		{name: "negative baseDelay", config: &RetryConfig{BaseDelay: -time.Second}, wantErr: true},
		{name: "negative maxDelay", config: &RetryConfig{MaxDelay: -time.Second}, wantErr: true},
		{
			name:    "baseDelay above maxDelay",
			config:  &RetryConfig{BaseDelay: 2 * time.Second, MaxDelay: time.Second},
			wantErr: true,
		},
		{name: "shrinking multiplier", config: &RetryConfig{BackoffMultiplier: 0.5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRetryConfig(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRetryConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateRetryExhaustion(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}
	err := errors.New("flaky")

	assert.True(t, EvaluateRetry(err, nil, 1, cfg).ShouldRetry)
	assert.True(t, EvaluateRetry(err, nil, 2, cfg).ShouldRetry)
	// Exhaustion wins over the predicate.
	assert.False(t, EvaluateRetry(err, nil, 3, cfg).ShouldRetry)
	assert.False(t, EvaluateRetry(err, nil, 0, cfg).ShouldRetry)
}

func TestEvaluateRetryDefaultConditionIgnoresResults(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	warning := &DiagnosticResult{Status: StatusWarning, Message: "slow"}
	failed := &DiagnosticResult{Status: StatusFail, Message: "broken"}

	assert.False(t, EvaluateRetry(nil, warning, 1, cfg).ShouldRetry,
		"a returned warning must never be retried by default")
	assert.False(t, EvaluateRetry(nil, failed, 1, cfg).ShouldRetry,
		"a returned fail must never be retried by default")
	assert.True(t, EvaluateRetry(errors.New("boom"), nil, 1, cfg).ShouldRetry)
}

func TestEvaluateRetryCustomCondition(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		RetryCondition: func(err error, result *DiagnosticResult) bool {
			return result != nil && result.Status == StatusFail
		},
	}

	assert.True(t, EvaluateRetry(nil, &DiagnosticResult{Status: StatusFail}, 1, cfg).ShouldRetry,
		"a condition inspecting the result may opt into result-based retry")
	assert.False(t, EvaluateRetry(nil, &DiagnosticResult{Status: StatusWarning}, 1, cfg).ShouldRetry)
	assert.False(t, EvaluateRetry(errors.New("boom"), nil, 1, cfg).ShouldRetry)
}

func TestEvaluateRetryPanickingConditionRefuses(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries: 3,
		RetryCondition: func(error, *DiagnosticResult) bool {
			panic("bad predicate")
		},
	}

	assert.NotPanics(t, func() {
		decision := EvaluateRetry(errors.New("boom"), nil, 1, cfg)
		assert.False(t, decision.ShouldRetry)
	})
}

func TestBackoffDelaySchedule(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	expected := []time.Duration{
		100 * time.Millisecond, // attempt 1
		200 * time.Millisecond, // attempt 2
		400 * time.Millisecond, // attempt 3
		800 * time.Millisecond, // attempt 4
		time.Second,            // attempt 5, capped
		time.Second,            // attempt 6, capped
	}
	for i, want := range expected {
		assert.Equal(t, want, BackoffDelay(i+1, cfg), "attempt %d", i+1)
	}
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 50, BaseDelay: 3 * time.Millisecond, MaxDelay: 750 * time.Millisecond, BackoffMultiplier: 1.7}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		delay := BackoffDelay(attempt, cfg)
		assert.GreaterOrEqual(t, delay, prev, "delay must be non-decreasing at attempt %d", attempt)
		assert.LessOrEqual(t, delay, cfg.MaxDelay, "delay must never exceed maxDelay at attempt %d", attempt)
		prev = delay
	}
}
