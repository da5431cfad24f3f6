// Package drs runs the migration engine: a periodic, leader-gated scheduling loop plus the
// on-demand evaluate and run entry points used by operators.
package drs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/migration"
)

// Event types published for every pass.
const (
	EventMigrationPlanned   = "migration.planned"
	EventMigrationSubmitted = "migration.submitted"
	EventMigrationFailed    = "migration.failed"
	EventPassFinished       = "migration.pass_finished"
)

// Planner produces migration decisions.
type Planner interface {
	PlanVMMigrations(ctx context.Context, policy migration.PolicyID, isManual bool) (*migration.DecisionQueue, error)
}

// Executor submits migration decisions.
type Executor interface {
	PerformVMMigrations(ctx context.Context, queue *migration.DecisionQueue) (int, error)
}

// Refresher reloads the fleet view before a pass.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Publisher broadcasts migration events.
type Publisher interface {
	PublishMigrationEvent(ctx context.Context, eventType, resourceID string, data any) error
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithRefresher reloads the fleet before every pass.
func WithRefresher(r Refresher) Option {
	return func(e *Engine) { e.refresher = r }
}

// WithPublisher publishes an event per planned decision and per execution outcome.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLeaderChecker restricts automatic passes to the elected leader.
func WithLeaderChecker(l LeaderChecker) Option {
	return func(e *Engine) { e.leaderChecker = l }
}

// Engine drives planning and execution.
type Engine struct {
	config        config.DRSConfig
	planner       Planner
	executor      Executor
	refresher     Refresher
	publisher     Publisher
	leaderChecker LeaderChecker
	logger        *zap.Logger

	// passMu serializes passes; planning is single-threaded.
	passMu sync.Mutex

	mu           sync.RWMutex
	isRunning    bool
	lastAnalysis time.Time
	lastReport   *Report
}

// NewEngine creates a new DRS engine.
func NewEngine(cfg config.DRSConfig, planner Planner, executor Executor, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		config:   cfg,
		planner:  planner,
		executor: executor,
		logger:   logger.With(zap.String("component", "drs")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs automatic passes every interval until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("DRS engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting DRS engine",
		zap.Duration("interval", e.config.Interval),
		zap.String("automation_level", e.config.AutomationLevel),
		zap.String("policy", e.config.Policy),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("DRS engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce performs one automatic pass with the configured policy. Decisions are executed
// only at the full automation level. A planning failure yields an empty report. Returns nil
// when this instance is not the leader.
func (e *Engine) RunOnce(ctx context.Context) *Report {
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		e.logger.Debug("Not leader, skipping DRS pass")
		return nil
	}

	policy := migration.PolicyID(e.config.Policy)
	execute := e.config.AutomationLevel == config.AutomationFull

	report, err := e.pass(ctx, policy, false, execute)
	if err != nil {
		e.logger.Error("DRS pass failed", zap.String("policy", string(policy)), zap.Error(err))
	}
	return report
}

// Evaluate plans a manual pass without submitting anything.
func (e *Engine) Evaluate(ctx context.Context, policy migration.PolicyID) (*Report, error) {
	return e.pass(ctx, policy, true, false)
}

// Run plans a manual pass and submits its decisions.
func (e *Engine) Run(ctx context.Context, policy migration.PolicyID) (*Report, error) {
	return e.pass(ctx, policy, true, true)
}

// pass plans and optionally executes. The report is complete, pass error included, before
// it becomes visible through LastReport and is not modified afterwards.
func (e *Engine) pass(ctx context.Context, policy migration.PolicyID, manual, execute bool) (_ *Report, err error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	report := &Report{
		ID:        uuid.NewString(),
		Policy:    string(policy),
		Manual:    manual,
		StartedAt: time.Now(),
	}
	defer func() {
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		report.FinishedAt = time.Now()
		e.mu.Lock()
		e.lastAnalysis = report.FinishedAt
		e.lastReport = report
		e.mu.Unlock()
		e.publish(context.WithoutCancel(ctx), EventPassFinished, report.ID, report)
	}()

	logger := e.logger.With(zap.String("report_id", report.ID), zap.String("policy", report.Policy))

	if e.refresher != nil {
		if err := e.refresher.Refresh(ctx); err != nil {
			return report, err
		}
	}

	queue, err := e.planner.PlanVMMigrations(ctx, policy, manual)
	if err != nil {
		return report, err
	}

	report.Decisions = decisionsOf(queue)
	for _, d := range report.Decisions {
		e.publish(ctx, EventMigrationPlanned, d.VMID, d)
	}

	if !execute {
		queue.Release()
		logger.Info("Migrations planned", zap.Int("decisions", len(report.Decisions)), zap.Bool("manual", manual))
		return report, nil
	}

	report.Executed = true
	submitted, err := e.executor.PerformVMMigrations(ctx, queue)
	report.Submitted = submitted
	for _, failure := range multierr.Errors(err) {
		report.Errors = append(report.Errors, failure.Error())
	}

	if submitted > 0 {
		e.publish(ctx, EventMigrationSubmitted, report.ID, report)
	}
	if err != nil {
		e.publish(ctx, EventMigrationFailed, report.ID, report)
	}

	logger.Info("Migrations executed",
		zap.Int("decisions", len(report.Decisions)),
		zap.Int("submitted", submitted),
		zap.Int("failed", len(report.Errors)),
		zap.Bool("manual", manual),
	)
	return report, nil
}

func (e *Engine) publish(ctx context.Context, eventType, resourceID string, data any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishMigrationEvent(ctx, eventType, resourceID, data); err != nil {
		e.logger.Warn("Failed to publish migration event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// GetLastAnalysisTime returns when the last pass finished.
func (e *Engine) GetLastAnalysisTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAnalysis
}

// LastReport returns the report of the last pass, if any.
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// IsRunning returns whether the periodic loop is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}
