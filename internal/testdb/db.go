// Package testdb provides utilities for database-backed tests. Tests
// using it are gated on DATABASE_URL so the default test run needs no
// external services.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/stretchr/testify/require"

	"github.com/recapd/recapd/internal/platform/postgres"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// GetTestDatabaseURL returns the database URL for tests. It checks
// DATABASE_URL and RECAPD_TEST_DB_URL, in that order.
func GetTestDatabaseURL() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}
	return os.Getenv("RECAPD_TEST_DB_URL")
}

// New opens a migrated, empty test database, skipping the test when no
// database URL is configured. The connection is closed on cleanup.
func New(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "test database unreachable")

	require.NoError(t, postgres.RunMigrations(db, testLogger()), "failed to migrate test database")

	Reset(t, db)
	return db
}

// Reset truncates all application tables between tests.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	_, err := db.ExecContext(ctx,
		`TRUNCATE tasks, processed_events, meetings CASCADE`)
	require.NoError(t, err, "failed to reset test database")
}
