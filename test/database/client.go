package database

import (
	"testing"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The container/connection is automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	// Schema creation, migrations, and cleanup are handled by
	// SetupTestDatabase.
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
