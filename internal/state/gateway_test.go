package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(fake *warehouse.Fake) *Gateway {
	return NewGateway(fake, "proj", "tracking", nil)
}

func TestEnsureTablesIsIdempotentDDL(t *testing.T) {
	fake := warehouse.NewFake()
	g := newGateway(fake)
	require.NoError(t, g.EnsureTables(context.Background()))
	require.NoError(t, g.EnsureTables(context.Background()))

	sqls := fake.ExecutedSQL()
	require.Len(t, sqls, 4)
	for _, sql := range sqls {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS")
	}
	assert.Contains(t, sqls[0], "_bqdrift_state")
	assert.Contains(t, sqls[1], "_bqdrift_history")
	assert.Contains(t, sqls[0], "CLUSTER BY query_name")
	assert.Contains(t, sqls[1], "PARTITION BY DATE(executed_at)")
}

func TestGetStateDecodesRow(t *testing.T) {
	executedAt := time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)
	fake := warehouse.NewFake().Stub(`FROM .*_bqdrift_state.* AND partition_key = @partition_key`, warehouse.Row{
		"query_name":       "analytics.daily_user_stats",
		"partition_key":    "2024-06-15",
		"version":          int64(2),
		"revision":         int64(1),
		"sql_checksum":     "abc",
		"schema_checksum":  "def",
		"yaml_checksum":    "ghi",
		"executed_sql_b64": "enc",
		"upstream_states":  `{"analytics.events":"2024-06-16T02:00:00Z"}`,
		"executed_at":      executedAt,
		"rows_written":     int64(100),
		"status":           "SUCCESS",
	})
	g := newGateway(fake)

	rec, err := g.GetState(context.Background(), "analytics.daily_user_stats", "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, 1, rec.Revision)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, executedAt, rec.ExecutedAt)
	require.Contains(t, rec.UpstreamStates, "analytics.events")
	assert.Equal(t, time.Date(2024, 6, 16, 2, 0, 0, 0, time.UTC), rec.UpstreamStates["analytics.events"])
}

func TestGetStateMissingReturnsNil(t *testing.T) {
	g := newGateway(warehouse.NewFake())
	rec, err := g.GetState(context.Background(), "q", "2024-06-15")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMalformedUpstreamStatesIsStateError(t *testing.T) {
	fake := warehouse.NewFake().Stub(`_bqdrift_state`, warehouse.Row{
		"query_name":      "q",
		"partition_key":   "2024-06-15",
		"version":         int64(1),
		"upstream_states": `{not json`,
		"status":          "SUCCESS",
	})
	g := newGateway(fake)

	_, err := g.GetState(context.Background(), "q", "2024-06-15")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "q", stateErr.Query)
}

func TestUpsertStateUsesSingleMerge(t *testing.T) {
	fake := warehouse.NewFake()
	g := newGateway(fake)

	rec := &StateRecord{
		QueryName:     "analytics.daily_user_stats",
		PartitionKey:  "2024-06-15",
		PartitionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
		Version:       1,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SQLChecksum:   "abc",
		ExecutedAt:    time.Now().UTC(),
		UpstreamStates: map[string]time.Time{
			"analytics.events": time.Date(2024, 6, 16, 2, 0, 0, 0, time.UTC),
		},
		Status: StatusSuccess,
	}
	require.NoError(t, g.UpsertState(context.Background(), rec))

	subs := fake.Executed()
	require.Len(t, subs, 1)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(subs[0].SQL), "MERGE"))
	assert.Equal(t, "analytics.daily_user_stats", subs[0].Params["query_name"])
	assert.Contains(t, subs[0].Params["upstream_states"], "analytics.events")
}

func TestAppendHistoryInserts(t *testing.T) {
	fake := warehouse.NewFake()
	g := newGateway(fake)

	rec := &HistoryRecord{
		ID:           "uuid-1",
		QueryName:    "q",
		PartitionKey: "2024-06-15",
		Version:      1,
		ExecutedAt:   time.Now().UTC(),
		Status:       HistoryFailed,
		ErrorMessage: "boom",
		TriggeredBy:  TriggerRun,
	}
	require.NoError(t, g.AppendHistory(context.Background(), rec))

	subs := fake.Executed()
	require.Len(t, subs, 1)
	assert.Contains(t, subs[0].SQL, "INSERT INTO")
	assert.Contains(t, subs[0].SQL, "_bqdrift_history")
	assert.Equal(t, "FAILED", subs[0].Params["status"])
}

func TestExecutedVersionsAndPartitions(t *testing.T) {
	fake := warehouse.NewFake().
		Stub(`SELECT DISTINCT version, revision`, warehouse.Row{"version": int64(1), "revision": int64(0)}, warehouse.Row{"version": int64(2), "revision": int64(1)}).
		Stub(`SELECT DISTINCT partition_key`, warehouse.Row{"partition_key": "2024-06-16"}, warehouse.Row{"partition_key": "2024-06-15"})
	g := newGateway(fake)

	vrs, err := g.ExecutedVersions(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []VersionRev{{1, 0}, {2, 1}}, vrs)

	keys, err := g.DistinctPartitionsFor(context.Background(), "q", VersionRev{1, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-15", "2024-06-16"}, keys)
}
