//go:build integration

package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/storage/sqlstore"
	"github.com/storysync/storysync/internal/testutil/teststore"
)

const doltImage = "dolthub/dolt-sql-server:1.43.0"

// TestDoltServerConformance runs the storage contract against a Dolt
// sql-server over the MySQL protocol. Requires Docker.
func TestDoltServerConformance(t *testing.T) {
	ctx := context.Background()
	ctr, err := dolt.Run(ctx, doltImage,
		dolt.WithDatabase("storysync"),
		dolt.WithUsername("storysync"),
		dolt.WithPassword("storysync"),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start dolt container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	// Each subtest gets an empty schema; drop rows rather than databases so the
	// container is reused.
	teststore.RunConformance(t, func(tb testing.TB) storage.Storage {
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Backend:         sqlstore.BackendMySQL,
			DSN:             dsn,
			RetryMaxElapsed: 10 * time.Second,
		})
		if err != nil {
			tb.Fatalf("open mysql store: %v", err)
		}
		for _, table := range []string{"tasks", "sync_log", "change_log"} {
			if _, err := s.DB().ExecContext(ctx, "DELETE FROM "+table); err != nil {
				tb.Fatalf("reset %s: %v", table, err)
			}
		}
		tb.Cleanup(func() { _ = s.Close() })
		return s
	})
}
