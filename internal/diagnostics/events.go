package diagnostics

import "time"

// Event names published on the engine's event bus. Each name corresponds to
// exactly one payload struct below.
const (
	EventDiagnosticsStarted   = "diagnostics_started"
	EventDiagnosticsCompleted = "diagnostics_completed"
	EventRetryAttempt         = "test:retry_attempt"
	EventRetrySuccess         = "test:retry_success"
	EventRetryExhausted       = "test:retry_exhausted"
)

// DiagnosticsStartedEvent marks the beginning of a diagnostics batch.
type DiagnosticsStartedEvent struct {
	RunID      string     `json:"runId"`
	Categories []Category `json:"categories"`
	TestCount  int        `json:"testCount"`
	Timestamp  time.Time  `json:"timestamp"`
}

func (DiagnosticsStartedEvent) EventName() string { return EventDiagnosticsStarted }

// DiagnosticsCompletedEvent carries the freshly aggregated snapshot.
type DiagnosticsCompletedEvent struct {
	RunID    string        `json:"runId"`
	Health   *SystemHealth `json:"health"`
	Duration time.Duration `json:"duration"`
}

func (DiagnosticsCompletedEvent) EventName() string { return EventDiagnosticsCompleted }

// RetryAttemptEvent records one scheduled retry before its backoff delay.
type RetryAttemptEvent struct {
	TestID     string        `json:"testId"`
	Attempt    int           `json:"attempt"`
	MaxRetries int           `json:"maxRetries"`
	Delay      time.Duration `json:"delay"`
	Error      string        `json:"error,omitempty"`
}

func (RetryAttemptEvent) EventName() string { return EventRetryAttempt }

// RetrySuccessEvent records a test that finalized after at least one retry.
type RetrySuccessEvent struct {
	TestID   string `json:"testId"`
	Attempts int    `json:"attempts"`
}

func (RetrySuccessEvent) EventName() string { return EventRetrySuccess }

// RetryExhaustedEvent records a test that finalized as a failure, either
// because its retry budget was consumed or its policy rejected a retry.
type RetryExhaustedEvent struct {
	TestID     string `json:"testId"`
	Attempts   int    `json:"attempts"`
	FinalError string `json:"finalError,omitempty"`
}

func (RetryExhaustedEvent) EventName() string { return EventRetryExhausted }
