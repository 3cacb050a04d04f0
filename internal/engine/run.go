package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/invariant"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunOptions vary per invocation of Execute.
type RunOptions struct {
	DryRun          bool
	SkipInvariants  bool
	Scratch         bool
	ContinueOnError bool
	Trigger         state.TriggeredBy
}

// UnitStatus is the outcome of one executed unit.
type UnitStatus string

// Unit outcomes.
const (
	UnitSuccess UnitStatus = "success"
	UnitFailed  UnitStatus = "failed"
	UnitSkipped UnitStatus = "skipped"
	UnitPlanned UnitStatus = "planned" // dry-run
)

// UnitResult reports one unit's execution.
type UnitResult struct {
	QueryName    string
	PartitionKey string
	Version      string
	Status       UnitStatus
	Error        string
	Stats        warehouse.JobStats
	Checks       invariant.Report
	SQL          string
}

// RunReport is the outcome of executing a plan.
type RunReport struct {
	Units []UnitResult
	// Interrupted is set when cancellation stopped scheduling before
	// the plan completed; completed units are still recorded.
	Interrupted bool
}

// Failed returns the failed units.
func (r *RunReport) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range r.Units {
		if u.Status == UnitFailed {
			out = append(out, u)
		}
	}
	return out
}

// Execute runs a plan. Groups sharing a dependency level fan out under
// the parallelism cap; partitions within a group run sequentially in
// ascending key order. No unit at level n+1 starts before every group
// at level <= n has committed.
//
// Cancellation is cooperative: submitted warehouse jobs are allowed to
// finish and record their outcome, but no new unit starts once ctx is
// done, and the report is marked interrupted.
func (e *Engine) Execute(ctx context.Context, plan *Plan, opts RunOptions) (*RunReport, error) {
	report := &RunReport{}
	if plan.Empty() {
		return report, nil
	}
	if opts.Trigger == "" {
		opts.Trigger = state.TriggerManual
	}

	maxLevel := 0
	for _, g := range plan.Groups {
		if g.Level > maxLevel {
			maxLevel = g.Level
		}
	}

	results := make(chan UnitResult, plan.UnitCount())
	for level := 0; level <= maxLevel; level++ {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		grp, grpCtx := errgroup.WithContext(context.WithoutCancel(ctx))
		grp.SetLimit(e.cfg.Parallelism)

		for _, g := range plan.Groups {
			if g.Level != level {
				continue
			}
			g := g
			grp.Go(func() error {
				e.runGroup(grpCtx, ctx, g, opts, results)
				return nil
			})
		}
		_ = grp.Wait()
	}
	close(results)
	for r := range results {
		report.Units = append(report.Units, r)
	}
	if ctx.Err() != nil {
		report.Interrupted = true
	}
	return report, nil
}

// runGroup executes one query's partitions sequentially in plan order.
// execCtx survives user cancellation so in-flight jobs can complete;
// userCtx gates starting the next partition.
func (e *Engine) runGroup(execCtx, userCtx context.Context, g Group, opts RunOptions, results chan<- UnitResult) {
	for _, u := range g.Units {
		if userCtx.Err() != nil {
			return
		}
		res := e.executeUnit(execCtx, u, opts)
		results <- res
		if res.Status == UnitFailed && !opts.ContinueOnError {
			e.logger.Warn("stopping remaining partitions after failure",
				"query", g.Query.Name, "partition", u.Key.String())
			return
		}
	}
}

// executeUnit drives one (query, partition) end to end: before
// checks, execute, after checks, record history then state.
func (e *Engine) executeUnit(ctx context.Context, u Unit, opts RunOptions) UnitResult {
	q := u.Query
	key := u.Key
	res := UnitResult{QueryName: q.Name, PartitionKey: key.String()}

	resolved, err := core.Resolve(q, key, e.now())
	if err != nil {
		res.Status = UnitFailed
		res.Error = err.Error()
		return res
	}
	res.Version = resolved.VersionLabel()
	res.SQL = resolved.SQL

	dest := e.destination(q, key, opts)
	checks := invariant.NewRunner(e.client, dest.Project, q.Destination, key, e.logger)

	if !opts.SkipInvariants && len(resolved.Invariants.Before) > 0 {
		before, err := checks.Run(ctx, resolved.Invariants.Before)
		if err != nil {
			res.Status = UnitFailed
			res.Error = err.Error()
			e.recordHistory(ctx, q, key, resolved, res, state.HistoryFailed, opts)
			return res
		}
		res.Checks.Before = before
		if (&invariant.Report{Before: before}).HasBeforeErrors() {
			// The query is not executed and no state is written; the
			// attempt is still auditable in history.
			res.Status = UnitSkipped
			res.Error = (&invariant.Failure{Phase: "before", Results: before}).Error()
			if !opts.DryRun {
				e.recordHistory(ctx, q, key, resolved, res, state.HistorySkippedByBeforeCheck, opts)
			}
			return res
		}
	}

	if opts.DryRun {
		res.Status = UnitPlanned
		return res
	}

	e.logger.Info("executing partition",
		"query", q.Name, "partition", key.String(), "version", res.Version, "destination", dest.Ref())

	start := e.now()
	stats, err := e.client.ExecuteInto(ctx, resolved.SQL, warehouse.Params{
		"partition_date": warehouse.PartitionParam(key),
	}, dest)
	if err != nil {
		res.Status = UnitFailed
		res.Error = err.Error()
		e.recordHistory(ctx, q, key, resolved, res, state.HistoryFailed, opts)
		return res
	}
	res.Stats = stats

	status := state.StatusSuccess
	if !opts.SkipInvariants && len(resolved.Invariants.After) > 0 {
		after, err := checks.Run(ctx, resolved.Invariants.After)
		if err != nil {
			res.Status = UnitFailed
			res.Error = err.Error()
			e.recordHistory(ctx, q, key, resolved, res, state.HistoryFailed, opts)
			return res
		}
		res.Checks.After = after
		if (&invariant.Report{After: after}).HasAfterErrors() {
			// Data is already written; the failed check demotes the
			// status so the partition reads as drifted and operators
			// are pointed at it.
			status = state.StatusFailed
			res.Error = (&invariant.Failure{Phase: "after", Results: after}).Error()
		}
	}

	upstreamStates, err := e.upstreamWatermarks(ctx, q)
	if err != nil {
		res.Status = UnitFailed
		res.Error = err.Error()
		e.recordHistory(ctx, q, key, resolved, res, state.HistoryFailed, opts)
		return res
	}

	executedAt := e.now()
	elapsed := executedAt.Sub(start).Milliseconds()
	sums, err := drift.FromResolved(resolved, q.RawYAML)
	if err != nil {
		res.Status = UnitFailed
		res.Error = err.Error()
		return res
	}

	histStatus := state.HistorySuccess
	if status == state.StatusFailed {
		histStatus = state.HistoryFailed
	}
	hist := &state.HistoryRecord{
		ID:              uuid.NewString(),
		QueryName:       q.Name,
		PartitionKey:    key.String(),
		Version:         resolved.Version,
		Revision:        resolved.Revision,
		ExecutedAt:      executedAt,
		ExecutionTimeMS: elapsed,
		RowsWritten:     stats.RowsWritten,
		BytesProcessed:  stats.BytesProcessed,
		Status:          histStatus,
		ErrorMessage:    res.Error,
		TriggeredBy:     opts.Trigger,
		ExecutedBy:      e.cfg.ExecutedBy,
	}

	rec := &state.StateRecord{
		QueryName:       q.Name,
		PartitionKey:    key.String(),
		PartitionDate:   key.Date(),
		Version:         resolved.Version,
		Revision:        resolved.Revision,
		EffectiveFrom:   effectiveFrom(q, resolved.Version),
		SQLChecksum:     sums.SQL,
		SchemaChecksum:  sums.Schema,
		YAMLChecksum:    sums.YAML,
		ExecutedSQLB64:  drift.CompressToBase64(resolved.SQL),
		UpstreamStates:  upstreamStates,
		ExecutedAt:      executedAt,
		ExecutionTimeMS: elapsed,
		RowsWritten:     stats.RowsWritten,
		BytesProcessed:  stats.BytesProcessed,
		Status:          status,
	}

	// History first, then state: a crash between the two leaves an
	// attempted audit row rather than unexplained state.
	if err := e.store.AppendHistory(ctx, hist); err != nil {
		res.Status = UnitFailed
		res.Error = fmt.Sprintf("append history: %v", err)
		return res
	}
	if err := e.store.UpsertState(ctx, rec); err != nil {
		res.Status = UnitFailed
		res.Error = fmt.Sprintf("upsert state: %v", err)
		return res
	}

	if status == state.StatusFailed {
		res.Status = UnitFailed
	} else {
		res.Status = UnitSuccess
	}
	return res
}

// recordHistory writes the audit row for attempts that do not reach a
// state upsert (failures and before-check skips).
func (e *Engine) recordHistory(ctx context.Context, q *core.Query, key core.PartitionKey, resolved core.ResolvedSource, res UnitResult, status state.HistoryStatus, opts RunOptions) {
	hist := &state.HistoryRecord{
		ID:           uuid.NewString(),
		QueryName:    q.Name,
		PartitionKey: key.String(),
		Version:      resolved.Version,
		Revision:     resolved.Revision,
		ExecutedAt:   e.now(),
		Status:       status,
		ErrorMessage: res.Error,
		TriggeredBy:  opts.Trigger,
		ExecutedBy:   e.cfg.ExecutedBy,
	}
	if err := e.store.AppendHistory(ctx, hist); err != nil {
		e.logger.Error("failed to append history", "query", q.Name, "partition", key.String(), "error", err)
	}
}

// upstreamWatermarks snapshots each upstream's execution watermark for
// the state row's upstream_states map.
func (e *Engine) upstreamWatermarks(ctx context.Context, q *core.Query) (map[string]time.Time, error) {
	if len(q.Upstreams) == 0 {
		return nil, nil
	}
	out := make(map[string]time.Time, len(q.Upstreams))
	for _, u := range q.Upstreams {
		latest, err := e.store.LatestExecutionAny(ctx, u)
		if err != nil {
			return nil, err
		}
		if !latest.IsZero() {
			out[u] = latest
		}
	}
	return out, nil
}

// destination picks the production or scratch target for a unit.
func (e *Engine) destination(q *core.Query, key core.PartitionKey, opts RunOptions) warehouse.Table {
	t := warehouse.Table{
		Project:   e.cfg.Project,
		Dataset:   q.Destination.Dataset,
		Table:     q.Destination.Table,
		Decorator: warehouse.TableDecorator(key),
	}
	if opts.Scratch && e.cfg.ScratchProject != "" {
		t.Project = e.cfg.ScratchProject
		if e.cfg.ScratchTTL > 0 {
			t.Expiration = e.now().Add(e.cfg.ScratchTTL)
		}
	}
	return t
}

func effectiveFrom(q *core.Query, version int) time.Time {
	for _, v := range q.Versions {
		if v.Version == version {
			return v.EffectiveFrom
		}
	}
	return time.Time{}
}
