// Built-in environment checks, one or more per category. Each constructor
// returns a DiagnosticTest wired against a collaborator (HTTP client,
// key-value store, heartbeat function) so the check implementations stay
// thin and swappable.
package diagnostics

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/statusphere/appdoctor/internal/storage"
)

// httpDoer is the slice of http.Client the checks need.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDocumentAvailabilityTest probes the application document: it fetches
// the app root and verifies the mount marker is present in the served HTML.
// A reachable page without the marker is a warning (the shell served but the
// app likely failed to mount), an unreachable page is an error and therefore
// retryable under the default condition.
func NewDocumentAvailabilityTest(appURL, mountMarker string, client httpDoer) *DiagnosticTest {
	if client == nil {
		client = http.DefaultClient
	}
	if mountMarker == "" {
		mountMarker = `id="root"`
	}

	return &DiagnosticTest{
		ID:       "document_availability",
		Name:     "Document Availability",
		Category: CategoryDOM,
		Timeout:  5 * time.Second,
		Enabled:  true,
		Retry: &RetryConfig{
			MaxRetries:        2,
			BaseDelay:         250 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			BackoffMultiplier: 2,
		},
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, appURL, nil)
			if err != nil {
				return nil, fmt.Errorf("building document request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetching application document: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &DiagnosticResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("application document returned status %d", resp.StatusCode),
					Metadata: map[string]interface{}{
						"url":    appURL,
						"status": resp.StatusCode,
					},
				}, nil
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, fmt.Errorf("reading application document: %w", err)
			}
			if !strings.Contains(string(body), mountMarker) {
				return &DiagnosticResult{
					Status:  StatusWarning,
					Message: fmt.Sprintf("document served but mount marker %q not found", mountMarker),
					Metadata: map[string]interface{}{
						"url":    appURL,
						"marker": mountMarker,
					},
				}, nil
			}

			return &DiagnosticResult{
				Status:   StatusPass,
				Message:  "application document reachable and mounted",
				Metadata: map[string]interface{}{"url": appURL},
			}, nil
		},
	}
}

// NewAPILatencyTest probes an API endpoint and classifies its latency:
// above warnAfter is a warning, a non-2xx status is a failure, a transport
// error is retryable.
func NewAPILatencyTest(endpoint string, warnAfter time.Duration, client httpDoer) *DiagnosticTest {
	if client == nil {
		client = http.DefaultClient
	}
	if warnAfter <= 0 {
		warnAfter = time.Second
	}

	return &DiagnosticTest{
		ID:       "api_latency",
		Name:     "API Latency",
		Category: CategoryAPI,
		Timeout:  10 * time.Second,
		Enabled:  true,
		Retry: &RetryConfig{
			MaxRetries:        3,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          3 * time.Second,
			BackoffMultiplier: 2,
		},
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("building API request: %w", err)
			}

			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("calling API endpoint: %w", err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
			latency := time.Since(start)

			meta := map[string]interface{}{
				"endpoint":   endpoint,
				"status":     resp.StatusCode,
				"latency_ms": latency.Milliseconds(),
			}

			switch {
			case resp.StatusCode >= 300:
				return &DiagnosticResult{
					Status:   StatusFail,
					Message:  fmt.Sprintf("API endpoint returned status %d", resp.StatusCode),
					Metadata: meta,
				}, nil
			case latency > warnAfter:
				return &DiagnosticResult{
					Status:   StatusWarning,
					Message:  fmt.Sprintf("API responded in %v (threshold %v)", latency, warnAfter),
					Metadata: meta,
				}, nil
			default:
				return &DiagnosticResult{
					Status:   StatusPass,
					Message:  fmt.Sprintf("API responded in %v", latency),
					Metadata: meta,
				}, nil
			}
		},
	}
}

// NewStorageRoundTripTest writes a probe value through the key-value
// collaborator and reads it back.
func NewStorageRoundTripTest(store storage.Store) *DiagnosticTest {
	return &DiagnosticTest{
		ID:       "storage_round_trip",
		Name:     "Storage Round Trip",
		Category: CategoryStorage,
		Timeout:  3 * time.Second,
		Enabled:  true,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			key := "appdoctor/probe"
			want := uuid.NewString()
			if err := store.Set(ctx, key, want); err != nil {
				return nil, fmt.Errorf("storage write probe: %w", err)
			}
			var got string
			if err := store.Get(ctx, key, &got); err != nil {
				return nil, fmt.Errorf("storage read probe: %w", err)
			}
			if got != want {
				return &DiagnosticResult{
					Status:  StatusFail,
					Message: "storage round trip returned a different value",
					Metadata: map[string]interface{}{
						"wrote": want,
						"read":  got,
					},
				}, nil
			}
			return &DiagnosticResult{
				Status:  StatusPass,
				Message: "storage round trip succeeded",
			}, nil
		},
	}
}

// NewWorkerHeartbeatTest pings the background worker through the given
// heartbeat function. The function should return once the worker has
// acknowledged, or an error when it is unreachable.
func NewWorkerHeartbeatTest(ping func(ctx context.Context) error) *DiagnosticTest {
	return &DiagnosticTest{
		ID:       "worker_heartbeat",
		Name:     "Worker Heartbeat",
		Category: CategoryWorker,
		Timeout:  2 * time.Second,
		Enabled:  true,
		Retry: &RetryConfig{
			MaxRetries:        2,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			BackoffMultiplier: 2,
		},
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			start := time.Now()
			if err := ping(ctx); err != nil {
				return nil, fmt.Errorf("worker heartbeat: %w", err)
			}
			return &DiagnosticResult{
				Status:   StatusPass,
				Message:  "worker acknowledged heartbeat",
				Metadata: map[string]interface{}{"rtt_ms": time.Since(start).Milliseconds()},
			}, nil
		},
	}
}

// NewMemoryPressureTest inspects the process heap. Warnings and failures
// returned here are terminal under the default condition: memory pressure
// does not resolve within a backoff window.
func NewMemoryPressureTest(warnMB, failMB uint64) *DiagnosticTest {
	if warnMB == 0 {
		warnMB = 256
	}
	if failMB == 0 {
		failMB = 1024
	}

	return &DiagnosticTest{
		ID:       "memory_pressure",
		Name:     "Memory Pressure",
		Category: CategoryPerformance,
		Timeout:  time.Second,
		Enabled:  true,
		Execute: func(_ context.Context) (*DiagnosticResult, error) {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			heapMB := stats.HeapAlloc / (1 << 20)

			meta := map[string]interface{}{
				"heap_alloc_mb": heapMB,
				"goroutines":    runtime.NumGoroutine(),
			}

			switch {
			case heapMB >= failMB:
				return &DiagnosticResult{
					Status:   StatusFail,
					Message:  fmt.Sprintf("heap allocation %dMB exceeds limit %dMB", heapMB, failMB),
					Metadata: meta,
				}, nil
			case heapMB >= warnMB:
				return &DiagnosticResult{
					Status:   StatusWarning,
					Message:  fmt.Sprintf("heap allocation %dMB above threshold %dMB", heapMB, warnMB),
					Metadata: meta,
				}, nil
			default:
				return &DiagnosticResult{
					Status:   StatusPass,
					Message:  fmt.Sprintf("heap allocation %dMB", heapMB),
					Metadata: meta,
				}, nil
			}
		},
	}
}

// NewTLSCertificateTest connects to addr (host:port) and checks the leaf
// certificate's validity window. A certificate expiring within warnWindow is
// a warning; an expired one is a failure.
func NewTLSCertificateTest(addr string, warnWindow time.Duration) *DiagnosticTest {
	if warnWindow <= 0 {
		warnWindow = 14 * 24 * time.Hour
	}

	return &DiagnosticTest{
		ID:       "tls_certificate",
		Name:     "TLS Certificate",
		Category: CategorySecurity,
		Timeout:  5 * time.Second,
		Enabled:  true,
		Execute: func(ctx context.Context) (*DiagnosticResult, error) {
			// Chain trust is not what this check measures; it inspects the
			// validity window of whatever certificate the peer presents.
			dialer := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
			}
			defer conn.Close()

			state := conn.(*tls.Conn).ConnectionState()
			if len(state.PeerCertificates) == 0 {
				return &DiagnosticResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("no peer certificate presented by %s", addr),
				}, nil
			}

			leaf := state.PeerCertificates[0]
			now := time.Now()
			remaining := leaf.NotAfter.Sub(now)
			meta := map[string]interface{}{
				"addr":      addr,
				"subject":   leaf.Subject.CommonName,
				"not_after": leaf.NotAfter,
			}

			switch {
			case now.After(leaf.NotAfter):
				return &DiagnosticResult{
					Status:   StatusFail,
					Message:  fmt.Sprintf("certificate for %s expired %v ago", addr, now.Sub(leaf.NotAfter).Round(time.Hour)),
					Metadata: meta,
				}, nil
			case remaining < warnWindow:
				return &DiagnosticResult{
					Status:   StatusWarning,
					Message:  fmt.Sprintf("certificate for %s expires in %v", addr, remaining.Round(time.Hour)),
					Metadata: meta,
				}, nil
			default:
				return &DiagnosticResult{
					Status:   StatusPass,
					Message:  fmt.Sprintf("certificate for %s valid for %v", addr, remaining.Round(24*time.Hour)),
					Metadata: meta,
				}, nil
			}
		},
	}
}
