//go:build integration

package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

// TestMySQLStore runs against a throwaway MySQL server.
// Run with: go test -tags=integration ./internal/datastore/
func TestMySQLStore(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("ansd"),
		tcmysql.WithUsername("ansd"),
		tcmysql.WithPassword("ansd"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=UTC")
	require.NoError(t, err)

	store, err := OpenMySQL(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	exercisePreferenceStore(t, store)
}
