package nodes_test

import (
	"testing"

	"github.com/aretw0/espalier/pkg/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "queries: [unterminated"},
		{"missing id", "queries:\n  - question: q\n    sql: SELECT 1\n"},
		{"missing sql", "queries:\n  - id: a\n    question: q\n"},
		{"duplicate id", "queries:\n  - id: a\n    sql: SELECT 1\n  - id: a\n    sql: SELECT 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := nodes.ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCatalog_Match(t *testing.T) {
	c := nodes.DefaultCatalog()

	matches := c.Match("What were total sales per region last month?", 3)
	require.NotEmpty(t, matches)
	assert.Equal(t, "sales_by_region", matches[0].ID)
	assert.GreaterOrEqual(t, matches[0].Score, 0.8)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score, "matches are sorted best first")
	}

	middle := c.Match("sales per region last month", 1)
	require.Len(t, middle, 1)
	assert.Equal(t, "sales_by_region", middle[0].ID)
	assert.GreaterOrEqual(t, middle[0].Score, 0.5)
	assert.Less(t, middle[0].Score, 0.8)

	assert.Empty(t, c.Match("weather forecast tomorrow", 3))
}

func TestCatalog_BySQL(t *testing.T) {
	c := nodes.DefaultCatalog()
	e, ok := c.Lookup("channel_share")
	require.True(t, ok)

	got, ok := c.BySQL(nodes.EnsureLimit(e.SQL, 50))
	require.True(t, ok)
	assert.Equal(t, "channel_share", got.ID)

	_, ok = c.BySQL("SELECT 1")
	assert.False(t, ok)
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		sql string
		ok  bool
	}{
		{"SELECT region FROM sales", true},
		{"  with t as (select 1) select * from t;", true},
		{"SELECT created_at, updated_by FROM orders", true},
		{"", false},
		{"DELETE FROM sales", false},
		{"SELECT 1; DROP TABLE sales", false},
		{"SELECT * FROM sales WHERE 1=1 UNION SELECT * FROM x; ", true},
		{"WITH d AS (DELETE FROM sales RETURNING *) SELECT * FROM d", false},
		{"EXPLAIN SELECT 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			err := nodes.CheckReadOnly(tt.sql)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, nodes.ErrUnsafeQuery)
			}
		})
	}
}

func TestEnsureLimit(t *testing.T) {
	assert.Equal(t, "SELECT 1 LIMIT 10", nodes.EnsureLimit("SELECT 1;", 10))
	assert.Equal(t, "SELECT 1 limit 5", nodes.EnsureLimit("SELECT 1 limit 5", 10))
	assert.Equal(t, "SELECT 1", nodes.EnsureLimit("SELECT 1", 0))
}
