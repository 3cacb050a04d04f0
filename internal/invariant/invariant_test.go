package invariant

import (
	"context"
	"testing"
	"time"

	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(n int64) *int64     { return &n }
func f64(n float64) *float64 { return &n }

func dest() core.Destination {
	return core.Destination{
		Dataset:   "analytics",
		Table:     "daily_user_stats",
		Partition: core.PartitionSpec{Type: core.PartitionTime, Granularity: core.GranularityDay, Field: "date"},
	}
}

func runner(fake *warehouse.Fake) *Runner {
	key := core.DayKey(2024, time.June, 15)
	return NewRunner(fake, "proj", dest(), key, nil)
}

func TestRowCountAgainstDestinationPartition(t *testing.T) {
	fake := warehouse.NewFake().Stub(`SELECT COUNT\(\*\)`, warehouse.Row{"cnt": int64(500)})
	r := runner(fake)

	results, err := r.Run(context.Background(), []core.Invariant{{
		Name:  "row_count",
		Check: core.Check{Kind: core.CheckRowCount, Min: i64(100), Max: i64(1000)},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusPassed, results[0].Status)

	// The default source is the destination partition.
	sql := fake.ExecutedSQL()[0]
	assert.Contains(t, sql, "`proj.analytics.daily_user_stats`")
	assert.Contains(t, sql, "date = @partition_date")
}

func TestRowCountBelowMinFails(t *testing.T) {
	fake := warehouse.NewFake().Stub(`SELECT COUNT\(\*\)`, warehouse.Row{"cnt": int64(0)})
	r := runner(fake)

	results, err := r.Run(context.Background(), []core.Invariant{{
		Name:     "row_count",
		Severity: core.SeverityError,
		Check:    core.Check{Kind: core.CheckRowCount, Min: i64(1)},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "count 0 < min 1")
}

func TestRowCountWithCustomSourceAndPlaceholders(t *testing.T) {
	fake := warehouse.NewFake().Stub(`COUNT`, warehouse.Row{"cnt": int64(5)})
	r := runner(fake)

	_, err := r.Run(context.Background(), []core.Invariant{{
		Name: "source_fresh",
		Check: core.Check{
			Kind:   core.CheckRowCount,
			Source: "SELECT 1 FROM {destination} WHERE date = @partition_date",
			Min:    i64(1),
		},
	}})
	require.NoError(t, err)

	sub := fake.Executed()[0]
	assert.Contains(t, sub.SQL, "`proj.analytics.daily_user_stats`")
	assert.NotContains(t, sub.SQL, "{destination}")
	// @partition_date stays a bound parameter, not spliced text.
	assert.Contains(t, sub.SQL, "@partition_date")
	assert.Contains(t, sub.Params, "partition_date")
}

func TestNullPercentage(t *testing.T) {
	fake := warehouse.NewFake().Stub(`COUNTIF`, warehouse.Row{"null_pct": 7.5})
	r := runner(fake)

	results, err := r.Run(context.Background(), []core.Invariant{{
		Name:     "null_check",
		Severity: core.SeverityWarning,
		Check:    core.Check{Kind: core.CheckNullPercentage, Column: "user_id", MaxPercentage: 5},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, core.SeverityWarning, results[0].Severity)
	assert.Contains(t, results[0].Message, "7.50%")
}

func TestValueRange(t *testing.T) {
	fake := warehouse.NewFake().Stub(`MIN\(revenue\)`, warehouse.Row{"min_value": -3.0, "max_value": 50.0})
	r := runner(fake)

	results, err := r.Run(context.Background(), []core.Invariant{{
		Name:  "revenue_bounds",
		Check: core.Check{Kind: core.CheckValueRange, Column: "revenue", MinValue: f64(0), MaxValue: f64(100)},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Message, "min -3 < 0")
}

func TestDistinctCount(t *testing.T) {
	fake := warehouse.NewFake().Stub(`COUNT\(DISTINCT region\)`, warehouse.Row{"cnt": int64(12)})
	r := runner(fake)

	results, err := r.Run(context.Background(), []core.Invariant{{
		Name:  "region_cardinality",
		Check: core.Check{Kind: core.CheckDistinctCount, Column: "region", Min: i64(1), Max: i64(100)},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, results[0].Status)
}

func TestReportAccounting(t *testing.T) {
	r := &Report{
		Before: []CheckResult{
			{Name: "a", Status: StatusFailed, Severity: core.SeverityError},
		},
		After: []CheckResult{
			{Name: "b", Status: StatusPassed, Severity: core.SeverityError},
			{Name: "c", Status: StatusFailed, Severity: core.SeverityWarning},
		},
	}
	assert.True(t, r.HasBeforeErrors())
	assert.False(t, r.HasAfterErrors())
	assert.True(t, r.HasWarnings())
	assert.False(t, r.AllPassed())
}
