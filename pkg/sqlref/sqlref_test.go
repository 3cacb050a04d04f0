package sqlref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleSelect(t *testing.T) {
	refs, err := Extract("SELECT * FROM my_table WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"my_table"}, refs)
}

func TestQualifiedAndBacktickedNames(t *testing.T) {
	refs, err := Extract("SELECT * FROM analytics.daily_user_stats JOIN `proj.analytics.sessions` s ON TRUE")
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics.daily_user_stats", "proj.analytics.sessions"}, refs)
}

func TestJoinsCollected(t *testing.T) {
	sql := `
		SELECT o.id
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		LEFT JOIN products p ON o.product_id = p.id
	`
	refs, err := Extract(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders", "products"}, refs)
}

func TestCTENamesExcluded(t *testing.T) {
	sql := `
		WITH daily AS (
			SELECT * FROM analytics.daily_user_stats
		),
		ranked AS (
			SELECT * FROM daily
		)
		SELECT * FROM ranked
	`
	refs, err := Extract(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics.daily_user_stats"}, refs)
}

func TestSubqueriesAndUnions(t *testing.T) {
	sql := `
		SELECT * FROM (SELECT * FROM inner_table) sub
		WHERE id IN (SELECT id FROM another_table)
		UNION ALL
		SELECT * FROM third_table
	`
	refs, err := Extract(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"another_table", "inner_table", "third_table"}, refs)
}

func TestTableFunctionsSkipped(t *testing.T) {
	sql := `SELECT x FROM UNNEST([1, 2, 3]) AS x JOIN real_table r ON TRUE`
	refs, err := Extract(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"real_table"}, refs)
}

func TestCommentsIgnored(t *testing.T) {
	sql := `
		-- FROM commented_out
		/* FROM also_commented */
		SELECT * FROM actual_table # FROM trailing
	`
	refs, err := Extract(sql)
	require.NoError(t, err)
	assert.Equal(t, []string{"actual_table"}, refs)
}

func TestStringLiteralsIgnored(t *testing.T) {
	refs, err := Extract(`SELECT 'FROM fake_table' AS s FROM real_table`)
	require.NoError(t, err)
	assert.Equal(t, []string{"real_table"}, refs)
}

func TestTemporaryReferencesSkipped(t *testing.T) {
	refs, err := Extract("SELECT * FROM _session.scratch JOIN analytics.real ON TRUE")
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics.real"}, refs)
}

func TestEmptySQL(t *testing.T) {
	_, err := Extract("   ")
	assert.ErrorIs(t, err, ErrEmptySQL)
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "analytics.events", Qualify("events", "proj", "analytics"))
	assert.Equal(t, "analytics.events", Qualify("analytics.events", "proj", "analytics"))
	assert.Equal(t, "analytics.events", Qualify("proj.analytics.events", "proj", "analytics"))
	assert.Equal(t, "other.raw.events", Qualify("other.raw.events", "proj", "analytics"))
}
