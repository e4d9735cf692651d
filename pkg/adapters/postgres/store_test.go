package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/aretw0/espalier/pkg/adapters/postgres"
	"github.com/aretw0/espalier/pkg/nodes"
	"github.com/aretw0/espalier/pkg/ports"
)

// startPostgres runs a throwaway Postgres. It skips under -short or when no
// container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("espalier"),
		tcpostgres.WithUsername("espalier"),
		tcpostgres.WithPassword("espalier"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("Contract", func(t *testing.T) {
		ports.RunCheckpointStoreContract(t, store)
	})

	t.Run("Custom table", func(t *testing.T) {
		custom, err := postgres.New(ctx, store.DB(), postgres.WithTable("audit_checkpoints"))
		require.NoError(t, err)
		require.NoError(t, custom.Save(ctx, "s1", ports.ContractCheckpoint("s1", 1)))

		_, err = store.Load(ctx, "s1")
		assert.Error(t, err, "tables are independent")
	})

	t.Run("Invalid table", func(t *testing.T) {
		_, err := postgres.New(ctx, store.DB(), postgres.WithTable("x; DROP TABLE y"))
		assert.Error(t, err)
	})

	t.Run("SQLRunner", func(t *testing.T) {
		db, err := nodes.OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		seed(t, db)

		runner := &nodes.SQLRunner{DB: db}
		est, err := runner.DryRun(ctx, "SELECT region, SUM(amount) FROM sales GROUP BY region")
		require.NoError(t, err)
		assert.Positive(t, est)

		rows, err := runner.Query(ctx, "SELECT region, SUM(amount)::float8 AS total FROM sales GROUP BY region ORDER BY region")
		require.NoError(t, err)
		assert.Equal(t, []string{"region", "total"}, rows.Columns)
		assert.Equal(t, [][]any{{"north", 15.5}, {"south", 7.0}}, rows.Rows)

		_, err = runner.Query(ctx, "SELECT regio FROM sales")
		assert.Error(t, err)

		_, err = runner.Query(ctx, "WITH d AS (DELETE FROM sales RETURNING *) SELECT * FROM d")
		assert.Error(t, err, "read-only transaction refuses writes")
	})
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
CREATE TABLE sales (region TEXT NOT NULL, amount NUMERIC NOT NULL);
INSERT INTO sales VALUES ('north', 10), ('north', 5.5), ('south', 7);`)
	require.NoError(t, err)
}
