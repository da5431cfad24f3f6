package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMigrator struct {
	calls      []string
	err        error
	versionErr error
	steps      int
	forced     int
}

func (f *fakeMigrator) Up() error   { f.calls = append(f.calls, "up"); return f.err }
func (f *fakeMigrator) Down() error { f.calls = append(f.calls, "down-all"); return f.err }

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return f.err
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return 1, false, f.versionErr
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return f.err
}

func TestRunCommand(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("up", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runCommand(m, []string{"up"}, logger))
		assert.Equal(t, []string{"up"}, m.calls)
	})

	t.Run("down rolls back one step", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runCommand(m, []string{"down"}, logger))
		assert.Equal(t, -1, m.steps)
	})

	t.Run("down-all", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runCommand(m, []string{"down-all"}, logger))
		assert.Equal(t, []string{"down-all"}, m.calls)
	})

	t.Run("force", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runCommand(m, []string{"force", "3"}, logger))
		assert.Equal(t, 3, m.forced)
	})

	t.Run("nothing to apply", func(t *testing.T) {
		m := &fakeMigrator{err: migrate.ErrNoChange}
		assert.NoError(t, runCommand(m, []string{"up"}, logger))
	})

	t.Run("empty schema version", func(t *testing.T) {
		m := &fakeMigrator{versionErr: migrate.ErrNilVersion}
		assert.NoError(t, runCommand(m, []string{"version"}, logger))
	})
}

func TestRunCommand_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	boom := errors.New("boom")

	tests := []struct {
		name string
		m    *fakeMigrator
		args []string
	}{
		{"no command", &fakeMigrator{}, nil},
		{"unknown command", &fakeMigrator{}, []string{"sideways"}},
		{"force without version", &fakeMigrator{}, []string{"force"}},
		{"force with bad version", &fakeMigrator{}, []string{"force", "x"}},
		{"up fails", &fakeMigrator{err: boom}, []string{"up"}},
		{"version fails", &fakeMigrator{versionErr: boom}, []string{"version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, runCommand(tt.m, tt.args, logger))
		})
	}

	assert.ErrorIs(t, runCommand(&fakeMigrator{}, []string{"sideways"}, logger), errUsage)
}
