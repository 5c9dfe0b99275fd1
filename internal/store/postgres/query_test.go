package postgres

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://app:pw@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "app", Password: "pw", Database: "ledger"}),
	)
	assert.Equal(t,
		"postgres://app:pw@db:6543/ledger?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, User: "app", Password: "pw", Database: "ledger", SSLMode: "require"}),
	)
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t,
		"postgres://app:p%40ss%2Fword@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "app", Password: "p@ss/word", Database: "ledger"}),
	)
}

func TestQuery_Builder(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newQuery("SELECT * FROM events WHERE block >= $1", int64(3))
	q.where("kind = $%d", "Deposit")
	q.timeRange("ts", domain.ListOpts{Since: &since})
	q.add(" ORDER BY block")
	q.page(10, 20)

	assert.Equal(t,
		"SELECT * FROM events WHERE block >= $1 AND kind = $2 AND ts >= $3 ORDER BY block LIMIT $4 OFFSET $5",
		q.sql,
	)
	assert.Equal(t, []any{int64(3), "Deposit", since, 10, 20}, q.args)
}

func TestQuery_NoPaging(t *testing.T) {
	q := newQuery("SELECT 1 WHERE TRUE")
	q.page(0, 0)
	q.timeRange("ts", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 WHERE TRUE", q.sql)
	assert.Empty(t, q.args)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.True(t, sort.StringsAreSorted(names))

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"calls", "events", "audit_log"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
