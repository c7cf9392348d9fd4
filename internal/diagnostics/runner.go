// The diagnostic runner orchestrates the whole engine: it owns the test
// registry, drives each test through the executor and the retry policy,
// aggregates results into SystemHealth, persists the snapshot best-effort,
// and manages the periodic scheduler.
//
// Concurrency model: distinct tests run concurrently inside a batch, bounded
// by a worker semaphore and a launch rate limiter. Within one test's retry
// loop attempts are strictly serial; each attempt follows the previous
// attempt's completion plus its backoff delay. The current SystemHealth
// snapshot is replaced as a whole, never mutated, so readers see either the
// old or the new snapshot with no lock of their own.

package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/statusphere/appdoctor/internal/eventbus"
	"github.com/statusphere/appdoctor/internal/storage"
)

// Execution limits for batch runs.
const (
	DefaultWorkerCount = 4
	DefaultRateLimit   = 10.0 // test launches per second
	DefaultRateBurst   = 5

	// DefaultSnapshotKey is where the last SystemHealth snapshot is
	// persisted in the key-value collaborator.
	DefaultSnapshotKey = "appdoctor/last_health"
)

// RunnerConfig configures batch execution and the default retry policy.
// Zero values inherit the defaults above.
type RunnerConfig struct {
	// DefaultRetry applies to tests that carry no RetryConfig of their own.
	DefaultRetry *RetryConfig

	// DefaultTimeout applies to tests that declare no timeout.
	DefaultTimeout time.Duration

	WorkerCount int
	RateLimit   float64
	RateBurst   int

	SnapshotKey string
}

// Collaborators are the external contracts the runner reports through. Any
// of them may be nil; missing collaborators degrade to no-ops (and the
// logger to the standard logrus logger).
type Collaborators struct {
	Bus       *eventbus.Bus
	Telemetry Telemetry
	Store     storage.Store
	Reporter  ErrorReporter
	Logger    logrus.FieldLogger
}

// Runner owns the diagnostic test registry and all in-flight retry state.
type Runner struct {
	mu     sync.RWMutex
	tests  map[string]*DiagnosticTest
	order  []string // registration order, for stable listings
	health *SystemHealth

	cfg      RunnerConfig
	executor Executor
	limiter  *rate.Limiter

	bus       *eventbus.Bus
	telemetry Telemetry
	store     storage.Store
	reporter  ErrorReporter
	log       logrus.FieldLogger

	schedMu   sync.Mutex
	schedStop chan struct{}
}

// NewRunner creates a runner with the given configuration and collaborators.
func NewRunner(cfg *RunnerConfig, c Collaborators) *Runner {
	if cfg == nil {
		cfg = &RunnerConfig{}
	}
	conf := *cfg
	if conf.WorkerCount <= 0 {
		conf.WorkerCount = DefaultWorkerCount
	}
	if conf.RateLimit <= 0 {
		conf.RateLimit = DefaultRateLimit
	}
	if conf.RateBurst <= 0 {
		conf.RateBurst = DefaultRateBurst
	}
	if conf.SnapshotKey == "" {
		conf.SnapshotKey = DefaultSnapshotKey
	}

	r := &Runner{
		tests:     make(map[string]*DiagnosticTest),
		cfg:       conf,
		limiter:   rate.NewLimiter(rate.Limit(conf.RateLimit), conf.RateBurst),
		bus:       c.Bus,
		telemetry: c.Telemetry,
		store:     c.Store,
		reporter:  c.Reporter,
		log:       c.Logger,
	}
	if r.bus == nil {
		r.bus = eventbus.New()
	}
	if r.telemetry == nil {
		r.telemetry = nopTelemetry{}
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.reporter == nil {
		r.reporter = &logReporter{log: r.log}
	}
	return r
}

// Bus returns the event bus the runner publishes on.
func (r *Runner) Bus() *eventbus.Bus { return r.bus }

// RegisterTest adds a test to the registry. Malformed definitions and retry
// configurations are rejected here, not at execution time.
func (r *Runner) RegisterTest(test *DiagnosticTest) error {
	if test == nil {
		return fmt.Errorf("%w: nil test", ErrInvalidTest)
	}
	if test.ID == "" {
		return fmt.Errorf("%w: empty test ID", ErrInvalidTest)
	}
	if !test.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q for test %s", ErrInvalidTest, test.Category, test.ID)
	}
	if test.Execute == nil {
		return fmt.Errorf("%w: test %s has no execute function", ErrInvalidTest, test.ID)
	}
	if test.Timeout < 0 {
		return fmt.Errorf("%w: test %s has negative timeout %v", ErrInvalidTest, test.ID, test.Timeout)
	}
	if err := ValidateRetryConfig(test.Retry); err != nil {
		return fmt.Errorf("test %s: %w", test.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tests[test.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTest, test.ID)
	}
	copied := *test
	r.tests[test.ID] = &copied
	r.order = append(r.order, test.ID)
	return nil
}

// UnregisterTest removes a test from the registry.
func (r *Runner) UnregisterTest(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tests[id]; !exists {
		return fmt.Errorf("%w: %s", ErrTestNotFound, id)
	}
	delete(r.tests, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetAvailableTests lists the registered tests grouped by category, in
// category reporting order and registration order within a category.
func (r *Runner) GetAvailableTests() []DiagnosticSuite {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byCategory := make(map[Category][]TestInfo)
	for _, id := range r.order {
		t := r.tests[id]
		byCategory[t.Category] = append(byCategory[t.Category], TestInfo{
			ID:       t.ID,
			Name:     t.Name,
			Category: t.Category,
			Timeout:  t.Timeout,
			Enabled:  t.Enabled,
		})
	}

	suites := make([]DiagnosticSuite, 0, len(byCategory))
	for _, cat := range AllCategories {
		if tests, ok := byCategory[cat]; ok {
			suites = append(suites, DiagnosticSuite{Category: cat, Tests: tests})
		}
	}
	return suites
}

// CurrentHealth returns the most recently published snapshot, or nil before
// the first run.
func (r *Runner) CurrentHealth() *SystemHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

// RunDiagnostics executes every enabled test matching the given categories
// (all categories when none are given), aggregates the results into a fresh
// SystemHealth snapshot, publishes it and returns it.
//
// Individual test failures never surface as an error here; they appear as
// fail results inside the snapshot.
func (r *Runner) RunDiagnostics(ctx context.Context, categories ...Category) (*SystemHealth, error) {
	runID := uuid.NewString()
	start := time.Now()
	scope := r.snapshotTests(categories)

	r.bus.Emit(DiagnosticsStartedEvent{
		RunID:      runID,
		Categories: categories,
		TestCount:  len(scope),
		Timestamp:  start.UTC(),
	})
	r.log.WithFields(logrus.Fields{
		"run_id": runID,
		"tests":  len(scope),
	}).Debug("diagnostics batch started")

	results := make([]DiagnosticResult, len(scope))
	sem := make(chan struct{}, r.cfg.WorkerCount)
	var wg sync.WaitGroup

	for i, test := range scope {
		wg.Add(1)
		go func(i int, test *DiagnosticTest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := r.limiter.Wait(ctx); err != nil {
				results[i] = *r.failureResult(test, 0, err)
				return
			}
			results[i] = *r.executeTestWithRetry(ctx, test)
		}(i, test)
	}
	wg.Wait()

	health := AggregateHealth(results)
	r.mu.Lock()
	r.health = health
	r.mu.Unlock()

	r.persistSnapshot(ctx, health)

	duration := time.Since(start)
	r.bus.Emit(DiagnosticsCompletedEvent{
		RunID:    runID,
		Health:   health,
		Duration: duration,
	})
	r.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"overall":  health.Overall,
		"passed":   health.Summary.Passed,
		"failed":   health.Summary.Failed,
		"warnings": health.Summary.Warnings,
		"duration": duration,
	}).Info("diagnostics batch completed")

	return health, nil
}

// RunSingleTest executes one test by ID through the full retry path and
// returns its finalized result. The enabled flag gates batch and scheduled
// runs only; an explicit single-test request runs the test regardless.
func (r *Runner) RunSingleTest(ctx context.Context, id string) (*DiagnosticResult, error) {
	r.mu.RLock()
	test, ok := r.tests[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, id)
	}
	return r.executeTestWithRetry(ctx, test), nil
}

// snapshotTests copies the enabled tests in scope under the read lock so a
// concurrent register/unregister cannot perturb a running batch.
func (r *Runner) snapshotTests(categories []Category) []*DiagnosticTest {
	inScope := func(c Category) bool {
		if len(categories) == 0 {
			return true
		}
		for _, want := range categories {
			if c == want {
				return true
			}
		}
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	scope := make([]*DiagnosticTest, 0, len(r.order))
	for _, id := range r.order {
		t := r.tests[id]
		if t.Enabled && inScope(t.Category) {
			scope = append(scope, t)
		}
	}
	return scope
}

// executeTestWithRetry drives one test through the retry state machine:
// Attempting, then Succeeded, RetryScheduled, Exhausted or RejectedByPolicy.
// Attempts for the test are strictly serial; the returned result always has
// FinalAttempt set.
func (r *Runner) executeTestWithRetry(ctx context.Context, test *DiagnosticTest) *DiagnosticResult {
	cfg := r.effectiveRetryConfig(test)
	attempt := 0

	for {
		result, err := r.executor.Execute(ctx, r.withDefaultTimeout(test))

		if err == nil {
			// The test returned a result. A warning or fail result is final
			// unless the test's own condition opted into result-based retry.
			decision := EvaluateRetry(nil, result, attempt+1, cfg)
			if result.Status == StatusPass || !decision.ShouldRetry {
				result.RetryAttempts = attempt
				result.FinalAttempt = true
				if attempt > 0 {
					r.telemetry.TrackRetrySuccess(test.ID, attempt+1)
					r.bus.Emit(RetrySuccessEvent{TestID: test.ID, Attempts: attempt + 1})
				}
				return result
			}

			r.trackRetry(test, attempt+1, cfg, decision.Delay, fmt.Errorf("result status %s: %s", result.Status, result.Message))
			if !r.waitBackoff(ctx, decision.Delay) {
				return r.finalizeAborted(test, attempt, ctx.Err())
			}
			attempt++
			continue
		}

		decision := EvaluateRetry(err, nil, attempt+1, cfg)
		if !decision.ShouldRetry {
			// Exhausted, or the policy rejected this failure outright.
			r.telemetry.TrackRetryExhausted(test.ID, attempt+1, err)
			r.bus.Emit(RetryExhaustedEvent{
				TestID:     test.ID,
				Attempts:   attempt + 1,
				FinalError: err.Error(),
			})
			return r.failureResult(test, attempt, err)
		}

		r.trackRetry(test, attempt+1, cfg, decision.Delay, err)
		if !r.waitBackoff(ctx, decision.Delay) {
			return r.finalizeAborted(test, attempt, ctx.Err())
		}
		attempt++
	}
}

func (r *Runner) trackRetry(test *DiagnosticTest, attempt int, cfg RetryConfig, delay time.Duration, err error) {
	r.telemetry.TrackRetryAttempt(test.ID, attempt, cfg.MaxRetries, delay, err)
	r.bus.Emit(RetryAttemptEvent{
		TestID:     test.ID,
		Attempt:    attempt,
		MaxRetries: cfg.MaxRetries,
		Delay:      delay,
		Error:      err.Error(),
	})
	r.log.WithFields(logrus.Fields{
		"test":    test.ID,
		"attempt": attempt,
		"delay":   delay,
	}).Debug("retrying diagnostic test")
}

// waitBackoff suspends for the backoff delay, returning false if the caller
// context was cancelled first.
func (r *Runner) waitBackoff(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) failureResult(test *DiagnosticTest, retries int, err error) *DiagnosticResult {
	return &DiagnosticResult{
		Category:      test.Category,
		Status:        StatusFail,
		Message:       fmt.Sprintf("%s failed after %d attempts: %v", r.displayName(test), retries+1, err),
		Timestamp:     time.Now().UTC(),
		RetryAttempts: retries,
		FinalAttempt:  true,
	}
}

// finalizeAborted finalizes a test whose backoff wait was cut short by batch
// cancellation.
func (r *Runner) finalizeAborted(test *DiagnosticTest, retries int, cause error) *DiagnosticResult {
	if cause == nil {
		cause = context.Canceled
	}
	r.telemetry.TrackRetryExhausted(test.ID, retries+1, cause)
	r.bus.Emit(RetryExhaustedEvent{
		TestID:     test.ID,
		Attempts:   retries + 1,
		FinalError: cause.Error(),
	})
	return r.failureResult(test, retries, cause)
}

func (r *Runner) displayName(test *DiagnosticTest) string {
	if test.Name != "" {
		return test.Name
	}
	return test.ID
}

func (r *Runner) effectiveRetryConfig(test *DiagnosticTest) RetryConfig {
	if test.Retry != nil {
		return NormalizeRetryConfig(test.Retry)
	}
	return NormalizeRetryConfig(r.cfg.DefaultRetry)
}

func (r *Runner) withDefaultTimeout(test *DiagnosticTest) *DiagnosticTest {
	if test.Timeout > 0 || r.cfg.DefaultTimeout <= 0 {
		return test
	}
	copied := *test
	copied.Timeout = r.cfg.DefaultTimeout
	return &copied
}

// persistSnapshot stores the snapshot in the key-value collaborator.
// Persistence failure is non-fatal: it is logged and swallowed.
func (r *Runner) persistSnapshot(ctx context.Context, health *SystemHealth) {
	if r.store == nil {
		return
	}
	if err := r.store.Set(ctx, r.cfg.SnapshotKey, health); err != nil {
		r.log.WithError(err).Warn("persisting health snapshot failed")
	}
}

// SchedulePeriodicDiagnostics starts a recurring full-registry run every
// interval. Re-invoking replaces the previous schedule; timers never stack.
// A failing tick is reported through the error reporter and the next tick
// proceeds normally. Ticks do not wait for a still-running batch.
func (r *Runner) SchedulePeriodicDiagnostics(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %v", interval)
	}

	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.schedStop != nil {
		close(r.schedStop)
	}
	stop := make(chan struct{})
	r.schedStop = stop

	go r.scheduleLoop(interval, stop)
	return nil
}

// StopPeriodicDiagnostics cancels the periodic schedule, if any.
func (r *Runner) StopPeriodicDiagnostics() {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.schedStop != nil {
		close(r.schedStop)
		r.schedStop = nil
	}
}

func (r *Runner) scheduleLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.runScheduled()
		}
	}
}

// runScheduled guards one scheduled tick. Panics and errors are routed to
// the error reporter so the timer loop never dies.
func (r *Runner) runScheduled() {
	defer func() {
		if rec := recover(); rec != nil {
			r.reporter.ReportError("scheduled diagnostics", fmt.Errorf("panic: %v", rec))
		}
	}()

	if _, err := r.RunDiagnostics(context.Background()); err != nil {
		r.reporter.ReportError("scheduled diagnostics", err)
	}
}

type nopTelemetry struct{}

func (nopTelemetry) TrackRetryAttempt(string, int, int, time.Duration, error) {}
func (nopTelemetry) TrackRetrySuccess(string, int)                            {}
func (nopTelemetry) TrackRetryExhausted(string, int, error)                   {}

// logReporter is the default error reporter: it logs through the runner's
// logger.
type logReporter struct {
	log logrus.FieldLogger
}

func (l *logReporter) ReportError(context string, err error) {
	l.log.WithError(err).WithField("context", context).Error("diagnostics error")
}
