package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/shoprules/internal/config"
	"github.com/liamcoop/shoprules/internal/logger"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var configPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&configPath, "config", "", "Path to an optional config file")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, steps, version, force")
	flag.Parse()

	if databaseURL == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Fatal("Failed to load config", "error", err)
		}
		databaseURL = cfg.DatabaseURL
	}

	if databaseURL == "" {
		logger.Fatal("Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	logger.Info("Connecting to database", "migrationsPath", migrationsPath)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("Failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to run (database is up to date)")
			return
		}
		if err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		logger.Info("Migrations completed")

	case "down":
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to rollback migrations", "error", err)
		}
		logger.Info("Rollback completed")

	case "steps":
		n, err := intArg("steps")
		if err != nil {
			logger.Fatal("Invalid step count", "error", err)
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to migrate steps", "steps", n, "error", err)
		}
		logger.Info("Migrated steps", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migrations applied yet")
			return
		}
		if err != nil {
			logger.Fatal("Failed to get version", "error", err)
		}
		logger.Info("Current version", "version", version, "dirty", dirty)

	case "force":
		version, err := intArg("force")
		if err != nil {
			logger.Fatal("Invalid version number", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("Failed to force version", "error", err)
		}
		logger.Info("Forced version", "version", version)

	default:
		logger.Fatal("Unknown command (use: up, down, steps, version, force)", "command", command)
	}
}

func intArg(command string) (int, error) {
	if flag.NArg() < 1 {
		return 0, fmt.Errorf("%s command requires a number: -command %s <n>", command, command)
	}
	return strconv.Atoi(flag.Arg(0))
}
