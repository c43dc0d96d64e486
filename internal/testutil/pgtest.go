//go:build integration

// Package testutil provides the PostgreSQL harness for store integration
// tests. Tests reuse an existing database when POSTGRES_URL is set (CI)
// and otherwise boot a throwaway container.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/escrowd/migrations"
)

var gooseOnce sync.Once

// OpenDB returns a migrated database handle. The handle is closed, and any
// container terminated, when the test finishes.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		container, err := postgres.RunContainer(ctx,
			postgres.WithImage("postgres:16-alpine"),
			postgres.WithDatabase("escrowd_test"),
			postgres.WithUsername("escrowd"),
			postgres.WithPassword("escrowd"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("POSTGRES_URL not set and container start failed: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(ctx) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("resolving connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		t.Fatalf("connecting to database: %v", err)
	}

	gooseOnce.Do(func() { goose.SetBaseFS(migrations.FS) })
	if err := goose.UpContext(ctx, db, "."); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return db
}

// Truncate wipes the named tables so each test starts from a clean slate.
// Order matters when foreign keys are involved; CASCADE handles the rest.
func Truncate(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, tbl := range tables {
		if _, err := db.Exec("TRUNCATE TABLE " + tbl + " CASCADE"); err != nil {
			t.Fatalf("truncating %s: %v", tbl, err)
		}
	}
}
