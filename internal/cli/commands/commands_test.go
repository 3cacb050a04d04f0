package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bqdrift/bqdrift/internal/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "daily_user_stats.yaml", `
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
      - name: visits
        type: INT64
`)
	write(t, dir, "daily_user_stats.v1.sql",
		"SELECT date, COUNT(*) AS visits\nFROM analytics.events\nWHERE date = @partition_date\nGROUP BY date")
	write(t, dir, "weekly_summary.yaml", `
name: analytics.weekly_summary
destination:
  dataset: analytics
  table: weekly_summary
  partition:
    type: DAY
    field: week
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT date AS week, SUM(visits) AS visits FROM analytics.daily_user_stats WHERE date = @partition_date GROUP BY week
    schema:
      - name: week
        type: DATE
      - name: visits
        type: INT64
`)
	return dir
}

// execute runs the CLI against the fixture repository and returns
// stdout plus the returned error.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--queries", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, fixtureRepo(t), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 queries validated")
}

func TestValidateCommandReportsAllProblems(t *testing.T) {
	dir := fixtureRepo(t)
	// Two independent problems in one file: both must be reported.
	write(t, dir, "broken.yaml", `
name: analytics.broken
destination:
  dataset: analytics
  table: broken
  partition:
    type: DAY
    field: missing
versions:
  - version: 1
    effective_from: 2024-01-01
    source: SELECT 1 WHERE @partition_date IS NOT NULL
    schema:
      - name: date
        type: DATE
      - name: rec
        type: RECORD
`)
	out, err := execute(t, dir, "validate")
	require.Error(t, err)
	assert.Equal(t, cli.ExitValidation, cli.ExitCode(err))
	assert.Contains(t, out, "partition field")
	assert.Contains(t, out, "RECORD")
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, fixtureRepo(t), "list", "--detailed")
	require.NoError(t, err)
	assert.Contains(t, out, "analytics.daily_user_stats")
	assert.Contains(t, out, "analytics.weekly_summary")
}

func TestShowCommand(t *testing.T) {
	out, err := execute(t, fixtureRepo(t), "show", "analytics.weekly_summary")
	require.NoError(t, err)
	assert.Contains(t, out, "upstreams:   analytics.daily_user_stats")
	assert.Contains(t, out, "v1 (effective from 2024-01-01)")
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, fixtureRepo(t), "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "analytics.daily_user_stats")
	assert.Contains(t, out, "└── analytics.weekly_summary")
}

func TestRunRequiresProject(t *testing.T) {
	_, err := execute(t, fixtureRepo(t), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project")
}
