package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer is a disposable postgres instance for test runs
// that cannot assume a server on localhost.
type PostgresContainer struct {
	*postgres.PostgresContainer
	// AdminDSN connects to the default database with superuser
	// rights; suites derive per-test databases from it.
	AdminDSN string
}

// NewPostgresContainer starts postgres:16 and blocks until it accepts
// connections. Callers share one container per test process; the
// testcontainers reaper removes it after the process exits.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			// Postgres restarts once during init, so the second
			// ready line is the one that counts.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve container DSN: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: pg,
		AdminDSN:          dsn,
	}, nil
}
