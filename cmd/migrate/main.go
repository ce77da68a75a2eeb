package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
)

const migrationsDir = "migrations"

func main() {
	var (
		action  = flag.String("action", "up", "Migration action: up, down, version, force, create")
		name    = flag.String("name", "", "Migration name (for create action)")
		steps   = flag.Int("steps", 0, "Number of migrations to run (0 = all for up, 1 for down)")
		version = flag.Int("version", -1, "Target version (for force action)")
	)
	flag.Parse()

	if *action == "create" {
		if *name == "" {
			slog.Error("migration name is required for create action")
			os.Exit(1)
		}
		if err := createMigration(*name); err != nil {
			slog.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	m, err := migrate.New("file://"+migrationsDir, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to open migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *action {
	case "up":
		err = runUp(m, *steps)
	case "down":
		err = runDown(m, *steps)
	case "version":
		err = printVersion(m)
	case "force":
		if *version < 0 {
			slog.Error("version is required for force action")
			os.Exit(1)
		}
		err = m.Force(*version)
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func runUp(m *migrate.Migrate, steps int) error {
	var err error
	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no pending migrations")
		return nil
	}
	if err != nil {
		return err
	}
	return printVersion(m)
}

// runDown rolls back one migration unless -steps says otherwise. A full
// rollback requires asking for it explicitly.
func runDown(m *migrate.Migrate, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	err := m.Steps(-steps)
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no migrations to rollback")
		return nil
	}
	if err != nil {
		return err
	}
	return printVersion(m)
}

func printVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info("schema version", "version", "none")
		return nil
	}
	if err != nil {
		return err
	}
	if dirty {
		slog.Warn("schema version is dirty, fix and force before migrating",
			"version", version)
		return nil
	}
	slog.Info("schema version", "version", version)
	return nil
}

func createMigration(name string) error {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	for _, direction := range []string{"up", "down"} {
		filename := fmt.Sprintf("%s_%s.%s.sql", timestamp, name, direction)
		path := filepath.Join(migrationsDir, filename)

		content := fmt.Sprintf("-- %s (%s)\n\n", name, direction)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to create migration file: %w", err)
		}
		slog.Info("created migration", "file", path)
	}
	return nil
}
