// Package validation runs the fixed battery of pre-mutation checks against
// both hubs and aggregates them into a single go/no-go verdict.
package validation

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/hubfleet/switchover"
)

// Result is one check's outcome. A failed critical check forces an overall
// no-go; a failed non-critical check is surfaced as a warning.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

// Check is a single named validation. Run must be read-only against both
// clusters.
type Check struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Summary aggregates all check results into the final verdict.
type Summary struct {
	Results []Result `json:"results"`
}

// Passed reports the go/no-go verdict: no critical check failed.
func (s Summary) Passed() bool {
	for _, result := range s.Results {
		if !result.Passed && result.Critical {
			return false
		}
	}
	return true
}

// Warnings returns the non-critical failures.
func (s Summary) Warnings() []Result {
	var warnings []Result
	for _, result := range s.Results {
		if !result.Passed && !result.Critical {
			warnings = append(warnings, result)
		}
	}
	return warnings
}

// Failures returns the critical failures.
func (s Summary) Failures() []Result {
	var failures []Result
	for _, result := range s.Results {
		if !result.Passed && result.Critical {
			failures = append(failures, result)
		}
	}
	return failures
}

// String renders the "N/M checks passed" summary line.
func (s Summary) String() string {
	passed := 0
	for _, result := range s.Results {
		if result.Passed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d checks passed", passed, len(s.Results))
}

// Print writes a colored per-check table plus the summary line.
func (s Summary) Print(w io.Writer) {
	for _, result := range s.Results {
		switch {
		case result.Passed:
			fmt.Fprintf(w, "  %s %s: %s\n", color.GreenString("PASS"), result.Name, result.Message)
		case result.Critical:
			fmt.Fprintf(w, "  %s %s: %s\n", color.RedString("FAIL"), result.Name, result.Message)
		default:
			fmt.Fprintf(w, "  %s %s: %s\n", color.YellowString("WARN"), result.Name, result.Message)
		}
	}
	fmt.Fprintln(w, s.String())
}

// Runner executes a set of checks in order.
type Runner struct {
	checks []Check
	logger *slog.Logger
}

// NewRunner creates a runner over the given checks.
func NewRunner(logger *slog.Logger, checks ...Check) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{checks: checks, logger: logger}
}

// Run executes every check, even after failures, so the operator sees the
// complete picture in one pass.
func (r *Runner) Run(ctx context.Context) Summary {
	summary := Summary{Results: make([]Result, 0, len(r.checks))}
	for _, check := range r.checks {
		result := check.Run(ctx)
		result.Name = check.Name
		if result.Passed {
			r.logger.Info("validation check passed", "check", check.Name, "message", result.Message)
		} else {
			r.logger.Warn("validation check failed",
				"check", check.Name, "critical", result.Critical, "message", result.Message)
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}

// Gate adapts a runner into the orchestrator's go/no-go gate.
func Gate(runner *Runner, onSummary func(Summary)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		summary := runner.Run(ctx)
		if onSummary != nil {
			onSummary(summary)
		}
		if !summary.Passed() {
			failures := summary.Failures()
			return switchover.NewValidationError(
				fmt.Sprintf("%s: %s", summary.String(), failures[0].Message))
		}
		return nil
	}
}

// pass and fail build results; criticality is set by the caller because some
// checks decide it from what they observe.
func pass(message string) Result {
	return Result{Passed: true, Message: message}
}

func fail(critical bool, message string) Result {
	return Result{Passed: false, Critical: critical, Message: message}
}

func errorResult(critical bool, err error) Result {
	return Result{Passed: false, Critical: critical, Message: fmt.Sprintf("check could not run: %v", err)}
}
