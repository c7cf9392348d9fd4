package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTestTimeout bounds a single attempt when a test declares no timeout.
const DefaultTestTimeout = 5 * time.Second

// TimeoutError indicates an attempt exceeded its per-test deadline. Timeouts
// are eligible for retry like any other attempt error, subject to the retry
// condition.
type TimeoutError struct {
	TestID   string
	Category Category
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test timeout: %s (%s) exceeded %v", e.TestID, e.Category, e.Timeout)
}

// IsTimeout reports whether err is an attempt timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Executor runs single attempts of diagnostic tests under their deadline.
// It normalizes every outcome into either a DiagnosticResult (the test
// returned, possibly with a warning or fail status) or an error (the test
// errored, panicked, or timed out). It never does both.
type Executor struct{}

type attemptOutcome struct {
	result *DiagnosticResult
	err    error
}

// Execute races one attempt of test against its timeout.
//
// The timeout is best-effort: the attempt context is cancelled at the
// deadline so cooperative checks stop, but a check that ignores its context
// keeps running in the background after the executor has already reported a
// timeout. The outcome channel is buffered so such a straggler can still
// finish and be collected instead of leaking a blocked goroutine.
func (e *Executor) Execute(ctx context.Context, test *DiagnosticTest) (*DiagnosticResult, error) {
	timeout := test.Timeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := make(chan attemptOutcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- attemptOutcome{err: fmt.Errorf("test %s panicked: %v", test.ID, r)}
			}
		}()
		result, err := test.Execute(attemptCtx)
		outcome <- attemptOutcome{result: result, err: err}
	}()

	select {
	case o := <-outcome:
		if o.err != nil {
			return nil, o.err
		}
		if o.result == nil {
			return nil, fmt.Errorf("test %s returned neither result nor error", test.ID)
		}
		return e.normalize(test, o.result, start), nil

	case <-attemptCtx.Done():
		// Distinguish caller cancellation from the per-test deadline.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{TestID: test.ID, Category: test.Category, Timeout: timeout}
	}
}

// normalize copies the returned result and fills fields a test may omit.
// Copying keeps the engine's no-mutation-after-finalize guarantee even when
// a test retains a pointer to the result it returned.
func (e *Executor) normalize(test *DiagnosticTest, result *DiagnosticResult, start time.Time) *DiagnosticResult {
	out := *result
	if out.Category == "" {
		out.Category = test.Category
	}
	if out.Status == "" {
		out.Status = StatusPass
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	return &out
}
