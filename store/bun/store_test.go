//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/conveyor/store"
	bunstore "github.com/xraph/conveyor/store/bun"
	"github.com/xraph/conveyor/store/storetest"
)

// setupDB creates a Postgres container and returns a connected Bun DB.
func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("conveyor_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestConformance(t *testing.T) {
	db := setupDB(t)
	s := bunstore.New(db, bunstore.WithLockTimeout(storetest.LockTimeout))
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		if err := s.Setup(ctx); err != nil {
			t.Fatalf("Setup: %v", err)
		}
		if _, err := db.ExecContext(ctx, `TRUNCATE conveyor_jobs`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
