// Package main provides a CLI tool for running the placement journal migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	migrationsDir := flag.String("migrations", "migrations", "Directory holding the migration files")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		logger.Fatal("Usage: migrate [-config file] [-migrations dir] <up|down|down-all|version|force N>")
	}
	command := args[0]

	// Same file and QUANTIX_SCHED_* variables as the scheduler
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("Failed to create database driver", zap.Error(err))
	}

	migrationsURL := "file://" + *migrationsDir
	logger.Debug("Migrations path", zap.String("path", migrationsURL))

	m, err := migrate.NewWithDatabaseInstance(migrationsURL, "postgres", driver)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}

	switch command {
	case "up":
		logger.Info("Running migrations up...")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration failed", zap.Error(err))
		}
		logger.Info("Migrations completed successfully")

	case "down":
		logger.Info("Rolling back last migration...")
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Rollback failed", zap.Error(err))
		}
		logger.Info("Rollback completed successfully")

	case "down-all":
		logger.Info("Rolling back all migrations...")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Rollback failed", zap.Error(err))
		}
		logger.Info("All migrations rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("Failed to get version", zap.Error(err))
		}
		logger.Info("Current migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)

	case "force":
		if len(args) < 2 {
			logger.Fatal("Usage: migrate force <version>")
		}
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			logger.Fatal("Invalid version number", zap.Error(err))
		}
		logger.Info("Forcing version...", zap.Int("version", version))
		if err := m.Force(version); err != nil {
			logger.Fatal("Force failed", zap.Error(err))
		}
		logger.Info("Version forced successfully")

	default:
		fmt.Fprintln(os.Stderr, "Unknown command. Use: up, down, down-all, version, force")
		os.Exit(2)
	}
}
