// Package diagnostics contains the core diagnostic engine for Application Doctor.
//
// The engine runs a registry of health checks against a live, partially
// unreliable web-application environment (document availability, API
// endpoints, key-value storage, background workers, host performance, TLS
// posture), retries failures according to configurable backoff policies,
// classifies outcomes and folds them into a single SystemHealth snapshot.
package diagnostics

import (
	"context"
	"errors"
	"time"
)

// Category groups diagnostic tests by the part of the environment they probe.
type Category string

const (
	CategoryDOM         Category = "dom"
	CategoryAPI         Category = "api"
	CategoryStorage     Category = "storage"
	CategoryWorker      Category = "worker"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
)

// AllCategories lists every known category in reporting order.
var AllCategories = []Category{
	CategoryDOM,
	CategoryAPI,
	CategoryStorage,
	CategoryWorker,
	CategoryPerformance,
	CategorySecurity,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Status is the outcome classification of a single diagnostic result.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// OverallStatus is the aggregate classification of a SystemHealth snapshot.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// DiagnosticResult is the finalized outcome of one test run. Results handed
// to callers always have FinalAttempt set; there is no partial result
// exposed outside the retry loop, and nothing mutates a result after it has
// been finalized.
type DiagnosticResult struct {
	Category  Category               `json:"category"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// RetryAttempts counts retries actually performed; 0 means the first
	// attempt succeeded or was terminal.
	RetryAttempts int `json:"retryAttempts"`
	// FinalAttempt is true once no further retry will occur.
	FinalAttempt bool `json:"finalAttempt"`
}

// RetryCondition decides whether a particular failure is retryable. Exactly
// one of err and result is non-nil: err when the attempt produced an error
// (thrown or timeout), result when the test returned a non-pass result.
type RetryCondition func(err error, result *DiagnosticResult) bool

// RetryConfig describes how a failed attempt is retried. Total attempts for
// a test are MaxRetries + 1.
type RetryConfig struct {
	MaxRetries        int           `json:"maxRetries" yaml:"maxRetries"`
	BaseDelay         time.Duration `json:"baseDelay" yaml:"baseDelay"`
	MaxDelay          time.Duration `json:"maxDelay" yaml:"maxDelay"`
	BackoffMultiplier float64       `json:"backoffMultiplier" yaml:"backoffMultiplier"`

	// RetryCondition gates retries per failure. When nil the default
	// condition applies: retry only when the attempt produced an error,
	// never on a returned warning or fail result.
	RetryCondition RetryCondition `json:"-" yaml:"-"`
}

// DiagnosticTest is a named, categorized, independently schedulable check.
// Timeout enforcement is owned by the executor, not the test: Execute may
// run arbitrarily long, and the context it receives is cancelled when the
// attempt deadline passes so cooperative checks can stop early.
type DiagnosticTest struct {
	ID       string
	Name     string
	Category Category
	Timeout  time.Duration
	Enabled  bool

	// Retry overrides the runner's default retry policy when non-nil.
	Retry *RetryConfig

	Execute func(ctx context.Context) (*DiagnosticResult, error)
}

// CategoryHealth is the per-category portion of a SystemHealth snapshot.
type CategoryHealth struct {
	Status    Status             `json:"status"`
	LastCheck time.Time          `json:"lastCheck"`
	Results   []DiagnosticResult `json:"results"`
}

// Summary tallies results across all categories.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
}

// SystemHealth is the aggregate, point-in-time health snapshot. Snapshots
// are recomputed fresh on every diagnostics run and replaced atomically,
// never mutated in place, so a reader always observes a consistent snapshot.
type SystemHealth struct {
	Overall    OverallStatus                `json:"overall"`
	Categories map[Category]*CategoryHealth `json:"categories"`
	Summary    Summary                      `json:"summary"`
	CheckedAt  time.Time                    `json:"checkedAt"`
}

// TestInfo describes a registered test without exposing its execute function.
type TestInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category Category      `json:"category"`
	Timeout  time.Duration `json:"timeout"`
	Enabled  bool          `json:"enabled"`
}

// DiagnosticSuite groups the registered tests of one category.
type DiagnosticSuite struct {
	Category Category   `json:"category"`
	Tests    []TestInfo `json:"tests"`
}

// Telemetry receives retry-related occurrences from the runner. The bundled
// implementation lives in internal/telemetry; tests inject recorders.
type Telemetry interface {
	TrackRetryAttempt(testID string, attempt, maxRetries int, delay time.Duration, err error)
	TrackRetrySuccess(testID string, totalAttempts int)
	TrackRetryExhausted(testID string, totalAttempts int, finalErr error)
}

// ErrorReporter is invoked when a scheduled diagnostics tick fails. Failures
// at that boundary are reported and swallowed; the timer loop proceeds.
type ErrorReporter interface {
	ReportError(context string, err error)
}

var (
	// ErrTestNotFound is returned when a test ID is not registered.
	ErrTestNotFound = errors.New("diagnostic test not found")
	// ErrDuplicateTest is returned when registering an ID twice.
	ErrDuplicateTest = errors.New("diagnostic test already registered")
	// ErrInvalidTest is returned for structurally invalid test definitions.
	ErrInvalidTest = errors.New("invalid diagnostic test")
	// ErrInvalidRetryConfig is returned at registration time for malformed
	// retry configuration; validation never waits until execution.
	ErrInvalidRetryConfig = errors.New("invalid retry configuration")
)
