package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"
)

// schemaMigrator is the subset of *migrate.Migrate the commands drive.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

var errUsage = errors.New("unknown command, use one of up, down, down-all, version, force N")

// runCommand executes one schema command. Having nothing to apply is not an error.
func runCommand(m schemaMigrator, args []string, logger *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "up":
		logger.Info("Applying pending migrations")
		return ignoreNoChange(m.Up())

	case "down":
		logger.Info("Rolling back last migration")
		return ignoreNoChange(m.Steps(-1))

	case "down-all":
		logger.Info("Rolling back all migrations")
		return ignoreNoChange(m.Down())

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migration applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil

	case "force":
		if len(args) < 2 {
			return errors.New("force needs a version number")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		logger.Info("Forcing schema version", zap.Int("version", version))
		return m.Force(version)

	default:
		return fmt.Errorf("%q: %w", args[0], errUsage)
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
