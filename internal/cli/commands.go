// Package cli provides testable command implementations for the Application
// Doctor CLI. The cobra commands in cmd/appdoctor delegate here so the
// command logic can be exercised with injected writers and configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statusphere/appdoctor/internal/config"
	"github.com/statusphere/appdoctor/internal/diagnostics"
	"github.com/statusphere/appdoctor/internal/eventbus"
	"github.com/statusphere/appdoctor/internal/storage"
	"github.com/statusphere/appdoctor/internal/telemetry"
)

// Engine bundles the constructed runner with its collaborators so commands
// and tests can reach all of them.
type Engine struct {
	Runner    *diagnostics.Runner
	Bus       *eventbus.Bus
	Telemetry *telemetry.Recorder
	Store     storage.Store
}

// BuildEngine wires a runner from configuration: storage (file-backed when a
// path is configured), event bus, telemetry recorder, and the built-in
// environment checks for the configured targets.
func BuildEngine(cfg *config.Config, logger logrus.FieldLogger) (*Engine, error) {
	var store storage.Store
	if cfg.StoragePath != "" {
		fileStore, err := storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		store = fileStore
	} else {
		store = storage.NewMemoryStore()
	}

	bus := eventbus.New()
	recorder := telemetry.NewRecorder(cfg.TelemetryBuffer, nil)

	defaultRetry := &diagnostics.RetryConfig{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay.Std(),
		MaxDelay:          cfg.Retry.MaxDelay.Std(),
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}
	if err := diagnostics.ValidateRetryConfig(defaultRetry); err != nil {
		return nil, err
	}

	runner := diagnostics.NewRunner(&diagnostics.RunnerConfig{
		DefaultRetry:   defaultRetry,
		DefaultTimeout: cfg.DefaultTimeout.Std(),
		WorkerCount:    cfg.WorkerCount,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}, diagnostics.Collaborators{
		Bus:       bus,
		Telemetry: recorder,
		Store:     store,
		Logger:    logger,
	})

	tests := []*diagnostics.DiagnosticTest{
		diagnostics.NewDocumentAvailabilityTest(cfg.Targets.AppURL, cfg.Targets.MountMarker, nil),
		diagnostics.NewAPILatencyTest(cfg.Targets.APIEndpoint, time.Second, nil),
		diagnostics.NewStorageRoundTripTest(store),
		diagnostics.NewMemoryPressureTest(0, 0),
	}
	if cfg.Targets.TLSAddr != "" {
		tests = append(tests, diagnostics.NewTLSCertificateTest(cfg.Targets.TLSAddr, 0))
	}
	for _, test := range tests {
		if err := runner.RegisterTest(test); err != nil {
			return nil, fmt.Errorf("registering built-in checks: %w", err)
		}
	}

	return &Engine{Runner: runner, Bus: bus, Telemetry: recorder, Store: store}, nil
}

// RunDiagnose executes one diagnostics batch and writes the snapshot in the
// requested format.
func RunDiagnose(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, categories []string, format string, writer io.Writer) error {
	cats, err := parseCategories(categories)
	if err != nil {
		return err
	}

	engine, err := BuildEngine(cfg, logger)
	if err != nil {
		return err
	}

	health, err := engine.Runner.RunDiagnostics(ctx, cats...)
	if err != nil {
		return fmt.Errorf("running diagnostics: %w", err)
	}
	return OutputHealth(health, format, writer)
}

// RunSingle executes one registered test by ID and writes its result.
func RunSingle(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, testID, format string, writer io.Writer) error {
	engine, err := BuildEngine(cfg, logger)
	if err != nil {
		return err
	}
	result, err := engine.Runner.RunSingleTest(ctx, testID)
	if err != nil {
		return err
	}
	return OutputResult(result, format, writer)
}

// RunList writes the registered test suites.
func RunList(cfg *config.Config, logger logrus.FieldLogger, format string, writer io.Writer) error {
	engine, err := BuildEngine(cfg, logger)
	if err != nil {
		return err
	}
	return OutputSuites(engine.Runner.GetAvailableTests(), format, writer)
}

// RunWatch starts the periodic scheduler and blocks until ctx is cancelled,
// printing a summary line for every completed batch.
func RunWatch(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, interval time.Duration, writer io.Writer) error {
	engine, err := BuildEngine(cfg, logger)
	if err != nil {
		return err
	}

	if interval <= 0 {
		interval = cfg.ScheduleInterval.Std()
	}

	unsubscribe := engine.Bus.On(diagnostics.EventDiagnosticsCompleted, func(ev eventbus.Event) {
		completed, ok := ev.(diagnostics.DiagnosticsCompletedEvent)
		if !ok {
			return
		}
		writeSummaryLine(writer, completed.Health)
	})
	defer unsubscribe()

	if err := engine.Runner.SchedulePeriodicDiagnostics(interval); err != nil {
		return err
	}
	defer engine.Runner.StopPeriodicDiagnostics()

	fmt.Fprintf(writer, "watching every %v (ctrl-c to stop)\n", interval)
	<-ctx.Done()
	return nil
}

func parseCategories(raw []string) ([]diagnostics.Category, error) {
	cats := make([]diagnostics.Category, 0, len(raw))
	for _, s := range raw {
		c := diagnostics.Category(s)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q (known: %v)", s, diagnostics.AllCategories)
		}
		cats = append(cats, c)
	}
	return cats, nil
}
