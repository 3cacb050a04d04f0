// Package warehouse defines the boundary to the execution backend.
//
// The core plans SQL; this package runs it. Implementations must be
// safe for concurrent use: the runner fans out across queries at one
// dependency level.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Row is one result row keyed by column name.
type Row map[string]any

// JobStats summarizes a completed statement.
type JobStats struct {
	RowsWritten    int64
	BytesProcessed int64
	Elapsed        time.Duration
}

// Params are named query parameters bound at submission time.
// The core binds @partition_date here rather than splicing it into
// the SQL text, so the stored executed SQL stays byte-identical to
// the authored text.
type Params map[string]any

// Table addresses one destination table, optionally a single
// partition of it via Decorator (the $YYYYMMDD suffix form).
type Table struct {
	Project   string
	Dataset   string
	Table     string
	Decorator string
	// Expiration, when set, is applied to the destination table
	// (scratch mode auto-expiry).
	Expiration time.Time
}

// Ref renders the dataset-qualified table with its decorator.
func (t Table) Ref() string {
	ref := t.Project + "." + t.Dataset + "." + t.Table
	if t.Decorator != "" {
		ref += "$" + t.Decorator
	}
	return ref
}

// Client executes SQL against the warehouse.
type Client interface {
	// Execute runs a statement for effect (DML, DDL) and returns its
	// job statistics.
	Execute(ctx context.Context, sql string, params Params) (JobStats, error)
	// ExecuteInto runs a SELECT and writes its result over the given
	// destination partition (truncating it). The SQL text is submitted
	// exactly as given; the destination travels in job configuration.
	ExecuteInto(ctx context.Context, sql string, params Params, dest Table) (JobStats, error)
	// Query runs a statement and materializes all result rows.
	Query(ctx context.Context, sql string, params Params) ([]Row, error)
}

// ErrorKind classifies warehouse failures for exit-code mapping and
// retry decisions.
type ErrorKind string

// Warehouse failure kinds.
const (
	KindSubmission ErrorKind = "submission"
	KindJobFailure ErrorKind = "job_failure"
	KindTimeout    ErrorKind = "timeout"
	KindQuota      ErrorKind = "quota"
)

// Error wraps a warehouse failure with its kind and the SQL that
// caused it.
type Error struct {
	Kind ErrorKind
	SQL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("warehouse %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapErr classifies err, mapping context deadline expiry to the
// distinguished timeout kind.
func WrapErr(err error, sql string, kind ErrorKind) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, SQL: sql, Err: err}
}

// QueryInt64 runs a single-row single-column query and returns the
// value as int64. Missing rows yield 0.
func QueryInt64(ctx context.Context, c Client, sql string, params Params) (int64, error) {
	rows, err := c.Query(ctx, sql, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return toInt64(v), nil
	}
	return 0, nil
}

// QueryFloat64 runs a single-row single-column query and returns the
// value as float64. Missing rows and NULLs yield 0.
func QueryFloat64(ctx context.Context, c Client, sql string, params Params) (float64, error) {
	rows, err := c.Query(ctx, sql, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return toFloat64(v), nil
	}
	return 0, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case nil:
		return 0
	default:
		return 0
	}
}
