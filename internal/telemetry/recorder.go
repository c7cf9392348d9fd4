// Package telemetry records retry-related occurrences from the diagnostic
// runner. Events are kept in a bounded ring buffer (most recent N) for
// inspection and exported as Prometheus counters. The ring buffer is
// deliberately separate from SystemHealth: telemetry is ephemeral
// observability data, not part of the health snapshot.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMaxEvents bounds the ring buffer when no size is given.
const DefaultMaxEvents = 256

// EventKind classifies a retry event.
type EventKind string

const (
	KindAttempt   EventKind = "attempt"
	KindSuccess   EventKind = "success"
	KindExhausted EventKind = "exhausted"
)

// RetryEvent is one recorded retry occurrence.
type RetryEvent struct {
	Kind       EventKind     `json:"kind"`
	TestID     string        `json:"testId"`
	Attempt    int           `json:"attempt,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	// TotalAttempts is set on success and exhausted events.
	TotalAttempts int       `json:"totalAttempts,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recorder implements the runner's Telemetry contract. It is safe for
// concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	events  []RetryEvent
	next    int
	wrapped bool
	max     int

	attempts    *prometheus.CounterVec
	successes   *prometheus.CounterVec
	exhaustions *prometheus.CounterVec
}

// NewRecorder creates a recorder keeping the most recent maxEvents entries
// and registering its counters with reg. A nil reg leaves the counters
// unregistered, which is what tests want. Counters are monotonic; there is
// no reset-on-overflow behavior.
func NewRecorder(maxEvents int, reg prometheus.Registerer) *Recorder {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	factory := promauto.With(reg)
	return &Recorder{
		events: make([]RetryEvent, 0, maxEvents),
		max:    maxEvents,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appdoctor",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry attempts scheduled, per test.",
		}, []string{"test"}),
		successes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appdoctor",
			Subsystem: "retry",
			Name:      "successes_total",
			Help:      "Tests that finalized successfully after at least one retry.",
		}, []string{"test"}),
		exhaustions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appdoctor",
			Subsystem: "retry",
			Name:      "exhaustions_total",
			Help:      "Tests that finalized as failures after retry rejection or exhaustion.",
		}, []string{"test"}),
	}
}

// TrackRetryAttempt records a scheduled retry.
func (r *Recorder) TrackRetryAttempt(testID string, attempt, maxRetries int, delay time.Duration, err error) {
	ev := RetryEvent{
		Kind:       KindAttempt,
		TestID:     testID,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Delay:      delay,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.record(ev)
	r.attempts.WithLabelValues(testID).Inc()
}

// TrackRetrySuccess records a test that recovered after retries.
func (r *Recorder) TrackRetrySuccess(testID string, totalAttempts int) {
	r.record(RetryEvent{
		Kind:          KindSuccess,
		TestID:        testID,
		TotalAttempts: totalAttempts,
		Timestamp:     time.Now().UTC(),
	})
	r.successes.WithLabelValues(testID).Inc()
}

// TrackRetryExhausted records a test whose retries were rejected or used up.
func (r *Recorder) TrackRetryExhausted(testID string, totalAttempts int, finalErr error) {
	ev := RetryEvent{
		Kind:          KindExhausted,
		TestID:        testID,
		TotalAttempts: totalAttempts,
		Timestamp:     time.Now().UTC(),
	}
	if finalErr != nil {
		ev.Error = finalErr.Error()
	}
	r.record(ev)
	r.exhaustions.WithLabelValues(testID).Inc()
}

// record appends to the circular buffer, overwriting the oldest entry once
// the buffer is full.
func (r *Recorder) record(ev RetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) < r.max {
		r.events = append(r.events, ev)
		r.next = len(r.events) % r.max
		return
	}
	r.events[r.next] = ev
	r.next = (r.next + 1) % r.max
	r.wrapped = true
}

// Events returns the retained events oldest-first. The slice is a copy.
func (r *Recorder) Events() []RetryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.wrapped {
		out := make([]RetryEvent, len(r.events))
		copy(out, r.events)
		return out
	}

	out := make([]RetryEvent, 0, r.max)
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
