// Package invariant plans and runs pre- and post-execution
// data-quality checks against the warehouse.
//
// Each check resolves to one aggregate query over either the
// destination partition or the check's own source SQL. The
// {destination} and {column} placeholders are substituted textually;
// @partition_date is bound as a typed query parameter.
package invariant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

// Check outcomes.
const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// CheckResult is the observed outcome of one invariant.
type CheckResult struct {
	Name     string
	Status   CheckStatus
	Severity core.Severity
	Message  string
	Details  string
}

// Report groups check results by phase.
type Report struct {
	Before []CheckResult
	After  []CheckResult
}

// HasBeforeErrors reports a failed error-severity before check.
func (r *Report) HasBeforeErrors() bool { return hasErrors(r.Before) }

// HasAfterErrors reports a failed error-severity after check.
func (r *Report) HasAfterErrors() bool { return hasErrors(r.After) }

// HasWarnings reports any failed warning-severity check.
func (r *Report) HasWarnings() bool {
	for _, c := range append(append([]CheckResult{}, r.Before...), r.After...) {
		if c.Status == StatusFailed && c.Severity == core.SeverityWarning {
			return true
		}
	}
	return false
}

// AllPassed reports whether every check passed.
func (r *Report) AllPassed() bool {
	for _, c := range append(append([]CheckResult{}, r.Before...), r.After...) {
		if c.Status != StatusPassed {
			return false
		}
	}
	return true
}

func hasErrors(results []CheckResult) bool {
	for _, c := range results {
		if c.Status == StatusFailed && c.Severity == core.SeverityError {
			return true
		}
	}
	return false
}

// Failure is the structured error for a failed error-severity check.
type Failure struct {
	Phase   string // "before" or "after"
	Results []CheckResult
}

func (f *Failure) Error() string {
	var names []string
	for _, r := range f.Results {
		if r.Status == StatusFailed && r.Severity == core.SeverityError {
			names = append(names, r.Name)
		}
	}
	return fmt.Sprintf("%s invariants failed: %s", f.Phase, strings.Join(names, ", "))
}

// Runner executes the checks of one (query, partition) unit.
type Runner struct {
	client  warehouse.Client
	project string
	dest    core.Destination
	key     core.PartitionKey
	logger  *slog.Logger
}

// NewRunner creates a runner bound to one destination partition.
func NewRunner(client warehouse.Client, project string, dest core.Destination, key core.PartitionKey, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{client: client, project: project, dest: dest, key: key, logger: logger}
}

// Run executes the given checks in order, one aggregate query each.
func (r *Runner) Run(ctx context.Context, checks []core.Invariant) ([]CheckResult, error) {
	var results []CheckResult
	for _, inv := range checks {
		res, err := r.runCheck(ctx, inv)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("invariant checked", "name", inv.Name, "status", res.Status, "message", res.Message)
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runCheck(ctx context.Context, inv core.Invariant) (CheckResult, error) {
	sev := inv.Severity
	if sev == "" {
		sev = core.SeverityError
	}
	switch inv.Check.Kind {
	case core.CheckRowCount:
		return r.checkRowCount(ctx, inv, sev)
	case core.CheckNullPercentage:
		return r.checkNullPercentage(ctx, inv, sev)
	case core.CheckValueRange:
		return r.checkValueRange(ctx, inv, sev)
	case core.CheckDistinctCount:
		return r.checkDistinctCount(ctx, inv, sev)
	default:
		return CheckResult{Name: inv.Name, Status: StatusSkipped, Severity: sev,
			Message: fmt.Sprintf("unknown check kind %q", inv.Check.Kind)}, nil
	}
}

func (r *Runner) destinationTable() string {
	return fmt.Sprintf("`%s.%s.%s`", r.project, r.dest.Dataset, r.dest.Table)
}

// defaultSource selects the destination partition when a check has no
// source of its own.
func (r *Runner) defaultSource() string {
	field := r.dest.Partition.Field
	if field == "" {
		field = "date"
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s = @partition_date", r.destinationTable(), field)
}

// resolveSource substitutes the textual placeholders of a check's
// source SQL. @partition_date stays a bound parameter.
func (r *Runner) resolveSource(inv core.Invariant) string {
	src := inv.Check.Source
	if src == "" {
		return r.defaultSource()
	}
	src = strings.ReplaceAll(src, "{destination}", r.destinationTable())
	if inv.Check.Column != "" {
		src = strings.ReplaceAll(src, "{column}", inv.Check.Column)
	}
	return src
}

func (r *Runner) params() warehouse.Params {
	return warehouse.Params{"partition_date": warehouse.PartitionParam(r.key)}
}

func (r *Runner) checkRowCount(ctx context.Context, inv core.Invariant, sev core.Severity) (CheckResult, error) {
	sql := fmt.Sprintf("SELECT COUNT(*) AS cnt FROM (%s) _source", r.resolveSource(inv))
	count, err := warehouse.QueryInt64(ctx, r.client, sql, r.params())
	if err != nil {
		return CheckResult{}, err
	}

	var violations []string
	if inv.Check.Min != nil && count < *inv.Check.Min {
		violations = append(violations, fmt.Sprintf("count %d < min %d", count, *inv.Check.Min))
	}
	if inv.Check.Max != nil && count > *inv.Check.Max {
		violations = append(violations, fmt.Sprintf("count %d > max %d", count, *inv.Check.Max))
	}
	if len(violations) == 0 {
		return CheckResult{Name: inv.Name, Status: StatusPassed, Severity: sev, Message: fmt.Sprintf("row count: %d", count)}, nil
	}
	return CheckResult{Name: inv.Name, Status: StatusFailed, Severity: sev,
		Message: strings.Join(violations, ", "), Details: fmt.Sprintf("actual row count: %d", count)}, nil
}

func (r *Runner) checkNullPercentage(ctx context.Context, inv core.Invariant, sev core.Severity) (CheckResult, error) {
	sql := fmt.Sprintf(
		"SELECT COUNTIF(%s IS NULL) * 100.0 / NULLIF(COUNT(*), 0) AS null_pct FROM (%s) _source",
		inv.Check.Column, r.resolveSource(inv))
	pct, err := warehouse.QueryFloat64(ctx, r.client, sql, r.params())
	if err != nil {
		return CheckResult{}, err
	}
	if pct <= inv.Check.MaxPercentage {
		return CheckResult{Name: inv.Name, Status: StatusPassed, Severity: sev,
			Message: fmt.Sprintf("null percentage: %.2f%%", pct)}, nil
	}
	return CheckResult{Name: inv.Name, Status: StatusFailed, Severity: sev,
		Message: fmt.Sprintf("null percentage %.2f%% > max %.2f%%", pct, inv.Check.MaxPercentage),
		Details: fmt.Sprintf("column: %s", inv.Check.Column)}, nil
}

func (r *Runner) checkValueRange(ctx context.Context, inv core.Invariant, sev core.Severity) (CheckResult, error) {
	sql := fmt.Sprintf(
		"SELECT MIN(%s) AS min_value, MAX(%s) AS max_value FROM (%s) _source",
		inv.Check.Column, inv.Check.Column, r.resolveSource(inv))
	rows, err := r.client.Query(ctx, sql, r.params())
	if err != nil {
		return CheckResult{}, err
	}
	if len(rows) == 0 {
		return CheckResult{Name: inv.Name, Status: StatusSkipped, Severity: sev, Message: "no rows in source"}, nil
	}
	minVal := asFloat(rows[0]["min_value"])
	maxVal := asFloat(rows[0]["max_value"])

	var violations []string
	if inv.Check.MinValue != nil && minVal < *inv.Check.MinValue {
		violations = append(violations, fmt.Sprintf("min %v < %v", minVal, *inv.Check.MinValue))
	}
	if inv.Check.MaxValue != nil && maxVal > *inv.Check.MaxValue {
		violations = append(violations, fmt.Sprintf("max %v > %v", maxVal, *inv.Check.MaxValue))
	}
	if len(violations) == 0 {
		return CheckResult{Name: inv.Name, Status: StatusPassed, Severity: sev,
			Message: fmt.Sprintf("values in [%v, %v]", minVal, maxVal)}, nil
	}
	return CheckResult{Name: inv.Name, Status: StatusFailed, Severity: sev,
		Message: strings.Join(violations, ", "), Details: fmt.Sprintf("column: %s", inv.Check.Column)}, nil
}

func (r *Runner) checkDistinctCount(ctx context.Context, inv core.Invariant, sev core.Severity) (CheckResult, error) {
	sql := fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS cnt FROM (%s) _source", inv.Check.Column, r.resolveSource(inv))
	count, err := warehouse.QueryInt64(ctx, r.client, sql, r.params())
	if err != nil {
		return CheckResult{}, err
	}

	var violations []string
	if inv.Check.Min != nil && count < *inv.Check.Min {
		violations = append(violations, fmt.Sprintf("distinct count %d < min %d", count, *inv.Check.Min))
	}
	if inv.Check.Max != nil && count > *inv.Check.Max {
		violations = append(violations, fmt.Sprintf("distinct count %d > max %d", count, *inv.Check.Max))
	}
	if len(violations) == 0 {
		return CheckResult{Name: inv.Name, Status: StatusPassed, Severity: sev,
			Message: fmt.Sprintf("distinct %s: %d", inv.Check.Column, count)}, nil
	}
	return CheckResult{Name: inv.Name, Status: StatusFailed, Severity: sev,
		Message: strings.Join(violations, ", "), Details: fmt.Sprintf("column: %s", inv.Check.Column)}, nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
