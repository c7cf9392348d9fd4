package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/statusphere/appdoctor/internal/diagnostics"
)

var (
	passColor = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
)

// OutputHealth writes a SystemHealth snapshot in the requested format.
func OutputHealth(health *diagnostics.SystemHealth, format string, writer io.Writer) error {
	switch strings.ToLower(format) {
	case "json":
		return outputJSON(health, writer)
	case "yaml":
		return outputYAML(health, writer)
	case "table", "":
		return outputHealthTable(health, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// OutputResult writes a single test result in the requested format.
func OutputResult(result *diagnostics.DiagnosticResult, format string, writer io.Writer) error {
	switch strings.ToLower(format) {
	case "json":
		return outputJSON(result, writer)
	case "yaml":
		return outputYAML(result, writer)
	case "table", "":
		fmt.Fprintf(writer, "%s  [%s] %s", statusBadge(result.Status), result.Category, result.Message)
		if result.RetryAttempts > 0 {
			fmt.Fprintf(writer, " (after %d retries)", result.RetryAttempts)
		}
		fmt.Fprintln(writer)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// OutputSuites writes the registered test suites.
func OutputSuites(suites []diagnostics.DiagnosticSuite, format string, writer io.Writer) error {
	switch strings.ToLower(format) {
	case "json":
		return outputJSON(suites, writer)
	case "yaml":
		return outputYAML(suites, writer)
	case "table", "":
		for _, suite := range suites {
			fmt.Fprintf(writer, "%s:\n", suite.Category)
			for _, test := range suite.Tests {
				state := "enabled"
				if !test.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(writer, "  %-24s %-28s timeout=%-6v %s\n", test.ID, test.Name, test.Timeout, state)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputYAML(v interface{}, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(v)
}

func outputHealthTable(health *diagnostics.SystemHealth, writer io.Writer) error {
	fmt.Fprintf(writer, "Overall: %s\n\n", overallBadge(health.Overall))

	for _, category := range diagnostics.AllCategories {
		cat, ok := health.Categories[category]
		if !ok {
			continue
		}
		fmt.Fprintf(writer, "%s (%s):\n", category, cat.Status)
		for _, result := range cat.Results {
			fmt.Fprintf(writer, "  %s  %s", statusBadge(result.Status), result.Message)
			if result.RetryAttempts > 0 {
				fmt.Fprintf(writer, " (after %d retries)", result.RetryAttempts)
			}
			fmt.Fprintln(writer)
		}
	}

	fmt.Fprintf(writer, "\nSummary: %d total, %d passed, %d failed, %d warnings\n",
		health.Summary.Total, health.Summary.Passed, health.Summary.Failed, health.Summary.Warnings)
	return nil
}

func statusBadge(s diagnostics.Status) string {
	switch s {
	case diagnostics.StatusPass:
		return passColor.Sprint("✓")
	case diagnostics.StatusWarning:
		return warnColor.Sprint("!")
	default:
		return failColor.Sprint("✗")
	}
}

func overallBadge(s diagnostics.OverallStatus) string {
	switch s {
	case diagnostics.OverallHealthy:
		return passColor.Sprint(string(s))
	case diagnostics.OverallDegraded:
		return warnColor.Sprint(string(s))
	default:
		return failColor.Sprint(string(s))
	}
}

func writeSummaryLine(writer io.Writer, health *diagnostics.SystemHealth) {
	fmt.Fprintf(writer, "[%s] overall=%s passed=%d failed=%d warnings=%d\n",
		health.CheckedAt.Format("15:04:05"), health.Overall,
		health.Summary.Passed, health.Summary.Failed, health.Summary.Warnings)
}
