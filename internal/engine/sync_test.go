package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the sync lifecycle end to end against the in-memory store:
// run, mutate the SQL in place, observe sql_changed plus an
// immutability violation, then re-execute with the override and
// observe the state converge back to current.
func TestSyncLifecycleAfterSourceMutation(t *testing.T) {
	q := makeQuery("analytics.daily_user_stats", "daily_user_stats",
		"SELECT user_id FROM analytics.events WHERE date = @partition_date")
	repo := makeRepo(q)
	fake := warehouse.NewFake()
	mem := state.NewMemory()
	eng := makeEngine(repo, fake, mem)
	ctx := context.Background()
	key := core.DayKey(2024, time.June, 15)

	classifier := drift.NewClassifier(repo, mem, nil).WithNow(fixedNow)
	auditor := drift.NewAuditor(repo, mem, nil)

	// First run: the partition becomes current.
	plan := eng.PlanRange(q, key, key, drift.StateNeverRun)
	report, err := eng.Execute(ctx, plan, RunOptions{Trigger: state.TriggerRun})
	require.NoError(t, err)
	require.Equal(t, UnitSuccess, report.Units[0].Status)

	d, err := classifier.Classify(ctx, q, key)
	require.NoError(t, err)
	require.Equal(t, drift.StateCurrent, d.Label)

	// In-place mutation of the executed SQL.
	q.Versions[0].SQL = "SELECT COALESCE(user_id, 'anon') FROM analytics.events WHERE date = @partition_date"

	d, err = classifier.Classify(ctx, q, key)
	require.NoError(t, err)
	assert.Equal(t, drift.StateSQLChanged, d.Label)

	audit, err := auditor.Audit(ctx)
	require.NoError(t, err)
	require.False(t, audit.Clean())
	assert.Equal(t, 1, len(audit.Violations))

	// With the override the partition re-executes; stored SQL and
	// checksums now match the mutated text, and history keeps both
	// attempts.
	seeds := []drift.PartitionDrift{d}
	plan, err = eng.Expand(seeds, false)
	require.NoError(t, err)
	report, err = eng.Execute(ctx, plan, RunOptions{Trigger: state.TriggerSync})
	require.NoError(t, err)
	require.Equal(t, UnitSuccess, report.Units[0].Status)

	d, err = classifier.Classify(ctx, q, key)
	require.NoError(t, err)
	assert.Equal(t, drift.StateCurrent, d.Label)

	audit, err = auditor.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Clean())

	assert.Len(t, mem.History(), 2)
}
