package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const dailyStats = `
name: analytics.daily_user_stats
destination:
  dataset: analytics
  table: daily_user_stats
  partition:
    type: DAY
    field: date
versions:
  - version: 1
    effective_from: 2024-01-01
    source: ${{ file: daily_user_stats.v1.sql }}
    schema:
      - name: date
        type: DATE
        mode: REQUIRED
      - name: user_id
        type: STRING
      - name: visits
        type: INT64
`

const dailyStatsSQL = `SELECT date, user_id, COUNT(*) AS visits
FROM analytics.events
WHERE date = @partition_date
GROUP BY date, user_id`

func loadFixture(t *testing.T, files map[string]string) *Repository {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		write(t, dir, name, content)
	}
	repo, err := Load(dir, Options{Project: "proj"})
	require.NoError(t, err)
	return repo
}

func TestLoadSimpleQuery(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"daily_user_stats.yaml":   dailyStats,
		"daily_user_stats.v1.sql": dailyStatsSQL,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)

	q, ok := repo.Query("analytics.daily_user_stats")
	require.True(t, ok)
	assert.Equal(t, "analytics.daily_user_stats", q.Destination.Relation())
	require.Len(t, q.Versions, 1)
	assert.Contains(t, q.Versions[0].SQL, "FROM analytics.events")
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Versions[0].EffectiveFrom)
	assert.NotEmpty(t, q.RawYAML)
}

func TestLegacySQLSpelling(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    sql: SELECT 1 AS date WHERE DATE(@partition_date) IS NOT NULL
    sql_revisions:
      - revision: 1
        effective_from: 2024-02-01
        sql: SELECT 2 AS date WHERE DATE(@partition_date) IS NOT NULL
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)
	q, _ := repo.Query("a.q")
	assert.Contains(t, q.Versions[0].SQL, "SELECT 1")
	require.Len(t, q.Versions[0].Revisions, 1)
	assert.Contains(t, q.Versions[0].Revisions[0].SQL, "SELECT 2")
}

func TestUnknownFieldWarns(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
flavour: mint
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)
	found := false
	for _, w := range repo.Warnings {
		if w.Code == "W100" {
			found = true
		}
	}
	assert.True(t, found, "expected an unknown-field warning, got %v", repo.Warnings)
}

func TestMissingRequiredFieldIsParseError(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": "name: a.q\nversions:\n  - version: 1\n    effective_from: 2024-01-01\n    source: SELECT 1\n",
	})
	require.False(t, repo.Valid())
	var parseErr *ParseError
	require.ErrorAs(t, repo.Errors[0], &parseErr)
	assert.Equal(t, "destination", parseErr.Field)
}

func TestSchemaInheritanceRemoveModifyAddOrder(t *testing.T) {
	// remove then add the same name: the field moves to the end.
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: a}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: a
        type: DATE
      - name: b
        type: STRING
  - version: 2
    effective_from: 2024-02-01
    source: SELECT 2 WHERE @partition_date IS NOT NULL
    schema:
      base: ${{ versions.1.schema }}
      remove: [b]
      add:
        - name: b
          type: INT64
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)
	q, _ := repo.Query("a.q")
	fields := q.Versions[1].Schema.Fields
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Name)
	assert.Equal(t, "b", fields[1].Name)
	assert.Equal(t, core.TypeInt64, fields[1].Type)
}

func TestSchemaModifyThenRemoveObservableOrder(t *testing.T) {
	// remove runs before modify: removing a field and modifying it in
	// the same mutator leaves it removed (the modify is a no-op).
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: a}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: a
        type: DATE
      - name: b
        type: STRING
  - version: 2
    effective_from: 2024-02-01
    source: SELECT 2 WHERE @partition_date IS NOT NULL
    schema:
      base: ${{ versions.1.schema }}
      remove: [b]
      modify:
        - name: b
          type: INT64
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)
	q, _ := repo.Query("a.q")
	fields := q.Versions[1].Schema.Fields
	require.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Name)
}

func TestSchemaRemoveMissingFieldFails(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: a}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: a
        type: DATE
  - version: 2
    effective_from: 2024-02-01
    source: SELECT 2 WHERE @partition_date IS NOT NULL
    schema:
      base: ${{ versions.1.schema }}
      remove: [nope]
`,
	})
	require.False(t, repo.Valid())
	assert.ErrorContains(t, repo.Errors[0], `"nope"`)
}

func TestInvariantInheritance(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 AS date WHERE @partition_date IS NOT NULL
    schema:
      - name: date
        type: DATE
    invariants:
      after:
        - name: row_count
          type: row_count
          min: 100
        - name: null_check
          type: null_percentage
          column: date
          max_percentage: 1.0
          severity: warning
  - version: 2
    effective_from: 2024-02-01
    source: SELECT 2 AS date WHERE @partition_date IS NOT NULL
    schema:
      - name: date
        type: DATE
    invariants:
      base: ${{ versions.1.invariants }}
      remove:
        after: [null_check]
      modify:
        after:
          - name: row_count
            type: row_count
            min: 500
      add:
        before:
          - name: source_fresh
            type: row_count
            source: SELECT 1 FROM a.src WHERE d = @partition_date
            min: 1
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)
	q, _ := repo.Query("a.q")
	iv := q.Versions[1].Invariants
	require.Len(t, iv.After, 1)
	assert.Equal(t, "row_count", iv.After[0].Name)
	require.NotNil(t, iv.After[0].Check.Min)
	assert.Equal(t, int64(500), *iv.After[0].Check.Min)
	require.Len(t, iv.Before, 1)
	assert.Equal(t, "source_fresh", iv.Before[0].Name)
	assert.Equal(t, core.SeverityError, iv.Before[0].Severity)
}

func TestDuplicateQueryNameAndDestination(t *testing.T) {
	base := `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
`
	repo := loadFixture(t, map[string]string{
		"one.yaml": base,
		"two.yaml": base,
	})
	require.False(t, repo.Valid())
	assert.ErrorContains(t, repo.Errors[0], "duplicate query name")
}

func TestRecordFieldRequiresNestedFields(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: date
        type: DATE
      - name: meta
        type: RECORD
`,
	})
	require.False(t, repo.Valid())
	assert.ErrorContains(t, repo.Errors[0], "RECORD")
}

func TestPartitionFieldMustExistInSchema(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"q.yaml": `
name: a.q
destination:
  dataset: a
  table: q
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: other
        type: STRING
`,
	})
	require.False(t, repo.Valid())
	assert.ErrorContains(t, repo.Errors[0], "partition field")
}

func TestDependencyExtractionBuildsGraph(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"daily_user_stats.yaml":   dailyStats,
		"daily_user_stats.v1.sql": dailyStatsSQL,
		"weekly_summary.yaml": `
name: analytics.weekly_summary
destination:
  dataset: analytics
  table: weekly_summary
  partition: {type: DAY, field: week}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: |
      SELECT DATE_TRUNC(date, WEEK) AS week, SUM(visits) AS visits
      FROM analytics.daily_user_stats
      WHERE date BETWEEN @partition_date AND DATE_ADD(@partition_date, INTERVAL 6 DAY)
      GROUP BY week
    schema:
      - name: week
        type: DATE
      - name: visits
        type: INT64
`,
	})
	require.True(t, repo.Valid(), "errors: %v", repo.Errors)

	weekly, _ := repo.Query("analytics.weekly_summary")
	assert.Equal(t, []string{"analytics.daily_user_stats"}, weekly.Upstreams)

	daily, _ := repo.Query("analytics.daily_user_stats")
	// events is not a repository destination, so it is filtered out
	assert.Empty(t, daily.Upstreams)

	assert.Equal(t, []string{"analytics.weekly_summary"}, repo.Graph.Downstream("analytics.daily_user_stats"))
}

func TestDependencyCycleIsLoadError(t *testing.T) {
	repo := loadFixture(t, map[string]string{
		"a.yaml": `
name: d.a
destination:
  dataset: d
  table: a
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT * FROM d.b WHERE date = @partition_date
`,
		"b.yaml": `
name: d.b
destination:
  dataset: d
  table: b
  partition: {type: DAY, field: date}
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT * FROM d.a WHERE date = @partition_date
`,
	})
	require.False(t, repo.Valid())
	found := false
	for _, err := range repo.Errors {
		msg := err.Error()
		if strings.Contains(msg, "cycle") && strings.Contains(msg, "d.a") && strings.Contains(msg, "d.b") {
			found = true
		}
	}
	assert.True(t, found, "expected a cycle error naming both nodes, got %v", repo.Errors)
}
