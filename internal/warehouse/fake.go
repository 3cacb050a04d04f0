package warehouse

import (
	"context"
	"regexp"
	"sync"
)

// Fake is an in-memory Client for tests. Responses are scripted by
// regexp match against the submitted SQL; every submission is
// recorded in order.
type Fake struct {
	mu       sync.Mutex
	rules    []fakeRule
	executed []Submission
}

// Submission is one recorded statement.
type Submission struct {
	SQL    string
	Params Params
	// Dest is set for ExecuteInto submissions.
	Dest *Table
}

type fakeRule struct {
	pattern *regexp.Regexp
	rows    []Row
	stats   JobStats
	err     error
}

// NewFake creates an empty fake client. Unmatched queries return no
// rows; unmatched executes succeed with zero stats.
func NewFake() *Fake { return &Fake{} }

// Stub registers result rows for statements matching pattern.
func (f *Fake) Stub(pattern string, rows ...Row) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{pattern: regexp.MustCompile(pattern), rows: rows})
	return f
}

// StubStats registers job statistics for statements matching pattern.
func (f *Fake) StubStats(pattern string, stats JobStats) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{pattern: regexp.MustCompile(pattern), stats: stats})
	return f
}

// StubErr makes statements matching pattern fail.
func (f *Fake) StubErr(pattern string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{pattern: regexp.MustCompile(pattern), err: err})
	return f
}

// Executed returns every recorded submission in order.
func (f *Fake) Executed() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.executed...)
}

// ExecutedSQL returns just the SQL texts, in order.
func (f *Fake) ExecutedSQL() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	for i, s := range f.executed {
		out[i] = s.SQL
	}
	return out
}

// Reset drops recorded submissions but keeps stubs.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = nil
}

// Execute implements Client.
func (f *Fake) Execute(ctx context.Context, sql string, params Params) (JobStats, error) {
	if err := ctx.Err(); err != nil {
		return JobStats{}, WrapErr(err, sql, KindTimeout)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, Submission{SQL: sql, Params: params})
	if r := f.match(sql); r != nil {
		if r.err != nil {
			return JobStats{}, WrapErr(r.err, sql, KindJobFailure)
		}
		return r.stats, nil
	}
	return JobStats{}, nil
}

// ExecuteInto implements Client.
func (f *Fake) ExecuteInto(ctx context.Context, sql string, params Params, dest Table) (JobStats, error) {
	if err := ctx.Err(); err != nil {
		return JobStats{}, WrapErr(err, sql, KindTimeout)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := dest
	f.executed = append(f.executed, Submission{SQL: sql, Params: params, Dest: &d})
	if r := f.match(sql); r != nil {
		if r.err != nil {
			return JobStats{}, WrapErr(r.err, sql, KindJobFailure)
		}
		return r.stats, nil
	}
	return JobStats{}, nil
}

// Query implements Client.
func (f *Fake) Query(ctx context.Context, sql string, params Params) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapErr(err, sql, KindTimeout)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, Submission{SQL: sql, Params: params})
	if r := f.match(sql); r != nil {
		if r.err != nil {
			return nil, WrapErr(r.err, sql, KindJobFailure)
		}
		return r.rows, nil
	}
	return nil, nil
}

// match returns the most recently registered matching rule so tests
// can override earlier stubs.
func (f *Fake) match(sql string) *fakeRule {
	for i := len(f.rules) - 1; i >= 0; i-- {
		if f.rules[i].pattern.MatchString(sql) {
			return &f.rules[i]
		}
	}
	return nil
}
