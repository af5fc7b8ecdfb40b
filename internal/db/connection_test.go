package db_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authsession/internal/db"
	"github.com/nkiryanov/authsession/internal/testutil"
)

func TestMigrate(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	tableExists := func(t *testing.T) bool {
		var exists bool
		err := pg.Pool.QueryRow(t.Context(), "SELECT to_regclass('auth_storage') IS NOT NULL").Scan(&exists)
		require.NoError(t, err)
		return exists
	}

	require.NoError(t, db.Migrate(pg.DSN))
	require.True(t, tableExists(t), "auth_storage should be created")

	require.NoError(t, db.Migrate(pg.DSN), "second run has nothing to apply and must not fail")

	require.NoError(t, db.MigrateDown(pg.DSN))
	require.False(t, tableExists(t), "auth_storage should be dropped")

	require.NoError(t, db.Migrate(pg.DSN))
	require.True(t, tableExists(t))
}
