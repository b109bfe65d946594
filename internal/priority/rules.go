package priority

import (
	"fmt"
	"strings"
	"time"

	"github.com/joss/taskmesh/internal/task"
)

// Rule is one (condition, boost, weight) tuple of the rule engine. A true
// condition contributes boost*weight to the task's adjustment, with a
// human-readable reason for explainability.
type Rule struct {
	ID        string
	Enabled   bool
	Boost     float64
	Weight    float64
	Condition func(t *task.Task, ctx Context) (bool, string)
}

// DefaultRules returns the built-in rule set. Callers may extend or replace
// it via WithRules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "critical-analysis", Enabled: true, Boost: 20, Weight: 1.0,
			Condition: func(t *task.Task, _ Context) (bool, string) {
				if t.Type != task.TypeAnalysis {
					return false, ""
				}
				text := strings.ToLower(t.Title + " " + t.Description)
				for _, kw := range []string{"critical", "security", "vulnerability", "cve"} {
					if strings.Contains(text, kw) {
						return true, fmt.Sprintf("critical/security analysis (%q)", kw)
					}
				}
				return false, ""
			},
		},
		{
			ID: "interactive", Enabled: true, Boost: 15, Weight: 1.0,
			Condition: func(t *task.Task, _ Context) (bool, string) {
				if t.Interactive {
					return true, "task requires synchronous interaction"
				}
				return false, ""
			},
		},
		{
			ID: "high-load", Enabled: true, Boost: -10, Weight: 1.0,
			Condition: func(_ *task.Task, ctx Context) (bool, string) {
				if ctx.SystemLoad > 0.8 {
					return true, fmt.Sprintf("system load %.0f%%", ctx.SystemLoad*100)
				}
				return false, ""
			},
		},
		{
			ID: "starvation", Enabled: true, Boost: 12, Weight: 1.0,
			Condition: func(t *task.Task, ctx Context) (bool, string) {
				if t.Priority != task.PriorityHigh {
					return false, ""
				}
				pos, ok := ctx.QueuePosition[t.ID]
				if ok && pos > 10 {
					return true, fmt.Sprintf("high-priority task at queue position %d", pos)
				}
				return false, ""
			},
		},
		{
			ID: "deadline", Enabled: true, Boost: 25, Weight: 1.0,
			Condition: func(t *task.Task, ctx Context) (bool, string) {
				if t.Deadline == nil {
					return false, ""
				}
				remaining := t.Deadline.Sub(ctx.Now)
				if remaining <= 2*time.Hour {
					return true, fmt.Sprintf("deadline in %s", remaining.Round(time.Minute))
				}
				return false, ""
			},
		},
		{
			ID: "error-rate", Enabled: true, Boost: -8, Weight: 1.0,
			Condition: func(_ *task.Task, ctx Context) (bool, string) {
				if ctx.ErrorRate > 0.2 {
					return true, fmt.Sprintf("elevated error rate %.0f%%", ctx.ErrorRate*100)
				}
				return false, ""
			},
		},
		{
			ID: "spare-capacity", Enabled: true, Boost: 8, Weight: 1.0,
			Condition: func(t *task.Task, ctx Context) (bool, string) {
				sig := signatureName(t.Type)
				if idle, ok := ctx.SpareCapacity[sig]; ok && idle > 0.5 {
					return true, fmt.Sprintf("%s capacity %.0f%% idle", sig, idle*100)
				}
				return false, ""
			},
		},
		{
			ID: "proven-type", Enabled: true, Boost: 5, Weight: 1.0,
			Condition: func(t *task.Task, ctx Context) (bool, string) {
				if rate, ok := ctx.SuccessRate[t.Type]; ok && rate > 0.9 {
					return true, fmt.Sprintf("%s tasks succeed %.0f%% of the time", t.Type, rate*100)
				}
				return false, ""
			},
		},
	}
}

// signatureName mirrors the planner's type->signature mapping without
// importing it, keeping the rule engine dependency-free.
func signatureName(typ task.Type) string {
	switch typ {
	case task.TypeAnalysis:
		return "cpu-intensive"
	case task.TypeImplementation:
		return "balanced"
	case task.TypeTesting:
		return "io-intensive"
	case task.TypeDocumentation:
		return "low-resource"
	default:
		return "balanced"
	}
}
