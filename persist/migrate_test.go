package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pvmtesting "github.com/sysprov/pvm/internal/testing"
)

func TestMigrateCreatesSchema(t *testing.T) {
	db := pvmtesting.CreateTestDB(t)
	require.NoError(t, Migrate(db, zaptest.NewLogger(t).Sugar()))

	for _, table := range []string{"schema_migrations", "entities", "edges"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := pvmtesting.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	require.NoError(t, Migrate(db, log))
	require.NoError(t, Migrate(db, log))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}
