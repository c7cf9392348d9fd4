package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorPassesThroughResult(t *testing.T) {
	var executor Executor
	test := &DiagnosticTest{
		ID:       "ok",
		Category: CategoryAPI,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			return &DiagnosticResult{Status: StatusPass, Message: "fine"}, nil
		},
	}

	result, err := executor.Execute(context.Background(), test)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, CategoryAPI, result.Category, "executor fills the category from the test")
	assert.False(t, result.Timestamp.IsZero(), "executor fills the timestamp")
	assert.NotZero(t, result.Duration, "executor fills the duration")
}

func TestExecutorDoesNotMutateReturnedResult(t *testing.T) {
	var executor Executor
	original := &DiagnosticResult{Status: StatusWarning, Message: "soft"}
	test := &DiagnosticTest{
		ID:       "warn",
		Category: CategoryStorage,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			return original, nil
		},
	}

	result, err := executor.Execute(context.Background(), test)
	require.NoError(t, err)
	assert.Equal(t, CategoryStorage, result.Category)
	assert.Empty(t, original.Category, "the test's own result must stay untouched")
}

func TestExecutorPropagatesErrors(t *testing.T) {
	var executor Executor
	boom := errors.New("environment not ready")
	test := &DiagnosticTest{
		ID:       "err",
		Category: CategoryWorker,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			return nil, boom
		},
	}

	result, err := executor.Execute(context.Background(), test)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, boom)
}

func TestExecutorNormalizesPanics(t *testing.T) {
	var executor Executor
	test := &DiagnosticTest{
		ID:       "panicky",
		Category: CategoryDOM,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			panic("unexpected state")
		},
	}

	result, err := executor.Execute(context.Background(), test)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestExecutorTimeoutFiresEarly(t *testing.T) {
	var executor Executor
	test := &DiagnosticTest{
		ID:       "slow",
		Category: CategoryAPI,
		Timeout:  50 * time.Millisecond,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			select {
			case <-time.After(6 * time.Second):
				return &DiagnosticResult{Status: StatusPass}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	start := time.Now()
	result, err := executor.Execute(context.Background(), test)
	elapsed := time.Since(start)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected a timeout error, got %v", err)
	assert.Contains(t, err.Error(), "test timeout")
	assert.Less(t, elapsed, time.Second,
		"the executor must report the timeout near the deadline, not wait for the check")
}

func TestExecutorTimeoutIgnoresUncooperativeCheck(t *testing.T) {
	var executor Executor
	done := make(chan struct{})
	test := &DiagnosticTest{
		ID:       "stubborn",
		Category: CategoryAPI,
		Timeout:  30 * time.Millisecond,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			// Deliberately ignores ctx.
			time.Sleep(200 * time.Millisecond)
			close(done)
			return &DiagnosticResult{Status: StatusPass}, nil
		},
	}

	_, err := executor.Execute(context.Background(), test)
	assert.True(t, IsTimeout(err))

	// The straggler still finishes without blocking on the outcome channel.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background check never completed")
	}
}

func TestExecutorCallerCancellationIsNotATimeout(t *testing.T) {
	var executor Executor
	ctx, cancel := context.WithCancel(context.Background())
	test := &DiagnosticTest{
		ID:       "cancelled",
		Category: CategoryAPI,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Execute(ctx, test)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutorRejectsNilOutcome(t *testing.T) {
	var executor Executor
	test := &DiagnosticTest{
		ID:       "empty",
		Category: CategoryAPI,
		Timeout:  time.Second,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			return nil, nil
		},
	}

	result, err := executor.Execute(context.Background(), test)
	assert.Nil(t, result)
	require.Error(t, err)
}
