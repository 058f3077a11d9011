// Package testutil provides shared test infrastructure for integration tests
// that require a live Postgres journal.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    code := m.Run()
//	    tc.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arcflow-db/eventjournal/internal/storage"
	"github.com/arcflow-db/eventjournal/migrations"
)

// TestContainer wraps a Postgres testcontainer with a DSN for connecting.
type TestContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
}

// MustStartPostgres starts a disposable Postgres container. Calls
// os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("journal"),
		postgres.WithUsername("journal"),
		postgres.WithPassword("journal"),
		postgres.BasicWaitStrategies(),
		postgres.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	return &TestContainer{Container: container, DSN: dsn}
}

// NewBackend connects to this container and runs every migration.
func (tc *TestContainer) NewBackend(ctx context.Context) (*storage.Postgres, error) {
	backend, err := storage.NewPostgres(ctx, storage.Config{ConnectionString: tc.DSN})
	if err != nil {
		return nil, fmt.Errorf("testutil: create backend: %w", err)
	}
	statements, err := storage.LoadSQLFiles(migrations.Postgres)
	if err != nil {
		return nil, fmt.Errorf("testutil: load migrations: %w", err)
	}
	if err := backend.RunMigrations(ctx, statements); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return backend, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// Logger returns a logger configured for test output (warns only).
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
