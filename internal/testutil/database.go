package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/infrastructure/database"
)

// TestDB provides a pgx pool pointed at a shared test PostgreSQL instance
// with a unique table prefix per test, so tests can run in parallel
// without stepping on each other's tables.
type TestDB struct {
	Pool      *pgxpool.Pool
	StoreName string
}

var (
	connOnce sync.Once
	connStr  string
	connErr  error
)

// connectionString resolves the test database: an explicit URL from
// EVENTSTORE_TEST_DATABASE_URL, or a throwaway testcontainers postgres.
// The container is cleaned up by the testcontainers reaper.
func connectionString() (string, error) {
	connOnce.Do(func() {
		if url := os.Getenv("EVENTSTORE_TEST_DATABASE_URL"); url != "" {
			connStr = url
			return
		}
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("eventstore_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			connErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}
		connStr, connErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
	})
	return connStr, connErr
}

// NewTestDB connects to the test database and initializes a fresh schema
// under a unique store name. Skips when no database is reachable.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	url, err := connectionString()
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("test database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	storeName := fmt.Sprintf("t%d", time.Now().UnixNano())
	schema, err := database.NewSchemaInitializer(pool, storeName, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, schema.Initialize(ctx))

	return &TestDB{Pool: pool, StoreName: storeName}
}
