package diagnostics

import "time"

// statusSeverity orders result statuses for category escalation.
func statusSeverity(s Status) int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

func worseStatus(a, b Status) Status {
	if statusSeverity(b) > statusSeverity(a) {
		return b
	}
	return a
}

// AggregateHealth folds a set of finalized results into a SystemHealth
// snapshot. It is a pure reduction: idempotent, order-independent in its
// counts and statuses, and it never mutates its input.
//
// A category's status is fail if any contained result failed, else warning
// if any warned, else pass. Overall is critical if any category failed,
// degraded if any warned without failures, else healthy. Empty input yields
// a vacuously healthy snapshot with zero counts.
func AggregateHealth(results []DiagnosticResult) *SystemHealth {
	health := &SystemHealth{
		Overall:    OverallHealthy,
		Categories: make(map[Category]*CategoryHealth),
		Summary:    Summary{Total: len(results)},
		CheckedAt:  time.Now().UTC(),
	}

	for _, res := range results {
		switch res.Status {
		case StatusPass:
			health.Summary.Passed++
		case StatusWarning:
			health.Summary.Warnings++
		case StatusFail:
			health.Summary.Failed++
		}

		cat, ok := health.Categories[res.Category]
		if !ok {
			cat = &CategoryHealth{Status: StatusPass}
			health.Categories[res.Category] = cat
		}
		cat.Status = worseStatus(cat.Status, res.Status)
		if res.Timestamp.After(cat.LastCheck) {
			cat.LastCheck = res.Timestamp
		}
		cat.Results = append(cat.Results, res)
	}

	for _, cat := range health.Categories {
		switch cat.Status {
		case StatusFail:
			health.Overall = OverallCritical
		case StatusWarning:
			if health.Overall != OverallCritical {
				health.Overall = OverallDegraded
			}
		}
	}

	return health
}
