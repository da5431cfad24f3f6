package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/drs"
	"github.com/limiquantix/vmmigrate/internal/migration"
	"github.com/limiquantix/vmmigrate/internal/repository/memory"
	"github.com/limiquantix/vmmigrate/internal/usage"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *memory.Fleet) {
	t.Helper()

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}

	fleet := memory.NewFleet()
	require.NoError(t, memory.SeedDemoData(context.Background(), fleet))

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := migration.NewMetrics(reg)
	gate := migration.NewConfigGate(cfg.Migration)

	planner := migration.NewPlanner(cfg.Migration, fleet, usage.NewCollector(fleet, logger), gate, metrics, logger)
	executor := migration.NewExecutor(cfg.Migration, gate, fleet, metrics, logger)
	engine := drs.NewEngine(cfg.DRS, planner, executor, logger)

	return New(cfg, engine, logger, WithGatherer(reg)), fleet
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) drs.Report {
	t.Helper()
	var report drs.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	return report
}

func TestProbes(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/live"} {
		rec := do(t, s, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := do(t, s, http.MethodGet, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"components":{}}`, rec.Body.String())
}

func TestEvaluate(t *testing.T) {
	s, fleet := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/migrations/evaluate?policy=overcommit")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeReport(t, rec)
	assert.Equal(t, "overcommit", report.Policy)
	assert.True(t, report.Manual)
	assert.False(t, report.Executed)
	assert.NotEmpty(t, report.Decisions)
	assert.Empty(t, fleet.ActiveMigrations(context.Background()))
}

func TestEvaluate_DefaultsToConfiguredPolicy(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/migrations/evaluate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "consolidation", decodeReport(t, rec).Policy)
}

func TestRun(t *testing.T) {
	s, fleet := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/migrations/run?policy=overcommit")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeReport(t, rec)
	assert.True(t, report.Executed)
	assert.NotZero(t, report.Submitted)
	assert.Len(t, fleet.ActiveMigrations(context.Background()), report.Submitted)
}

func TestPassErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		target string
		status int
	}{
		{
			name:   "unknown policy",
			target: "/api/v1/migrations/evaluate?policy=balance",
			status: http.StatusBadRequest,
		},
		{
			name:   "not licensed",
			mutate: func(c *config.Config) { c.Migration.Licensed = false },
			target: "/api/v1/migrations/run",
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*config.Config)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			s, _ := newTestServer(t, mutate...)

			rec := do(t, s, http.MethodPost, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/migrations/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/migrations/evaluate")
	require.Equal(t, http.StatusOK, rec.Code)
	evaluated := decodeReport(t, rec)

	rec = do(t, s, http.MethodGet, "/api/v1/migrations/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, evaluated.ID, decodeReport(t, rec).ID)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/migrations/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	do(t, s, http.MethodPost, "/api/v1/migrations/evaluate?policy=overcommit")

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vmmigrate_plans_total")
	assert.Contains(t, rec.Body.String(), "vmmigrate_decisions_total")
}
