// Package util carries shared test infrastructure. Every Postgres-backed test
// gets its own schema inside one shared database, so packages can run in
// parallel without paying for a container per test.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parleyhq/parley/pkg/database"
)

// Container reuse across one `go test` process. CI points tests at an
// external server through CI_DATABASE_URL instead of starting a container.
var (
	sharedOnce sync.Once
	sharedDSN  string
	sharedErr  error
)

// SetupTestDatabase creates a migrated audit-store schema owned by this test
// and returns a pool whose search_path is pinned to it. The schema is dropped
// on cleanup.
func SetupTestDatabase(t *testing.T) *stdsql.DB {
	t.Helper()
	ctx := context.Background()

	base := GetBaseConnectionString(t)
	schema := GenerateSchemaName(t)

	admin, err := stdsql.Open("pgx", base)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	db, err := stdsql.Open("pgx", AddSearchPathToConnString(base, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// The schema_migrations bookkeeping table follows search_path, so each
	// schema migrates independently.
	require.NoError(t, database.RunMigrations(db, "test"))

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})

	return db
}

// GetBaseConnectionString returns the DSN of the shared test server, without
// any search_path. Callers needing their own schema pair it with
// GenerateSchemaName and AddSearchPathToConnString.
func GetBaseConnectionString(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("CI_DATABASE_URL"); dsn != "" {
		return dsn
	}
	sharedOnce.Do(func() { sharedDSN, sharedErr = startContainer() })
	require.NoError(t, sharedErr, "shared postgres container")
	return sharedDSN
}

func startContainer() (string, error) {
	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(initScriptPath()),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("failed to get connection string: %w", err)
	}
	return dsn, nil
}

// GenerateSchemaName derives a schema identifier from the test name, capped
// well under Postgres's 63 byte identifier limit and suffixed for uniqueness
// across parallel runs of the same test.
func GenerateSchemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, t.Name())
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("failed to read random schema suffix: %v", err)
	}
	return "test_" + name + "_" + hex.EncodeToString(suffix)
}

// AddSearchPathToConnString pins every pooled connection to schemaName.
func AddSearchPathToConnString(connStr, schemaName string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return connStr + sep + "search_path=" + schemaName
}

// initScriptPath resolves deploy/postgres-init/01-init.sql relative to this
// source file, so tests in any package find it without cwd games.
func initScriptPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("runtime.Caller failed resolving the postgres init script path")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	return filepath.Join(root, "deploy", "postgres-init", "01-init.sql")
}
