// Package main applies the fleet schema migrations.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	dir := flag.String("dir", migrationsDir(), "Directory holding the schema migrations")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-config file] [-dir path] <up|down|down-all|version|force N>")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Database.Host == "" {
		logger.Fatal("database.host is not set")
	}

	m, closeDB, err := openMigrator(cfg.Database, *dir, logger)
	if err != nil {
		logger.Fatal("Failed to prepare migrations", zap.Error(err))
	}
	defer closeDB()

	if err := runCommand(m, flag.Args(), logger); err != nil {
		logger.Fatal("Migration command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

// openMigrator connects with the same DSN the daemon uses and binds the migration source.
func openMigrator(cfg config.DatabaseConfig, dir string, logger *zap.Logger) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", cfg.URL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if err := db.Ping(); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
	)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, cfg.Name, driver)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, closeDB, nil
}

// migrationsDir returns VMMIGRATE_MIGRATIONS_DIR, or "migrations" relative to the working directory.
func migrationsDir() string {
	if dir := os.Getenv("VMMIGRATE_MIGRATIONS_DIR"); dir != "" {
		return dir
	}
	return "migrations"
}
