package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
)

// Executor turns a decision queue into migration job submissions.
type Executor struct {
	gate          ExecutionGate
	submitter     JobSubmitter
	submitTimeout time.Duration
	metrics       *Metrics
	logger        *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg config.MigrationConfig, gate ExecutionGate, submitter JobSubmitter, metrics *Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		gate:          gate,
		submitter:     submitter,
		submitTimeout: cfg.SubmitTimeout,
		metrics:       metrics,
		logger:        logger.With(zap.String("component", "migration-executor")),
	}
}

// PerformVMMigrations submits one migration job per queued decision and returns how many
// were accepted. Nothing is submitted unless the scheduler runs in normal mode with VM
// decisions enabled. A failed submission does not stop the others; their errors are
// combined in the returned error.
//
// The queue is released before returning.
func (e *Executor) PerformVMMigrations(ctx context.Context, queue *DecisionQueue) (int, error) {
	defer queue.Release()

	if mode := e.gate.SchedulerMode(); mode != SchedulerModeNormal {
		e.logger.Info("Scheduler not in normal mode, not submitting migrations",
			zap.String("scheduler_mode", string(mode)),
			zap.Int("decisions", queue.Len()),
		)
		return 0, nil
	}
	if e.gate.VMDecisionsDisabled() {
		e.logger.Info("VM decisions disabled, not submitting migrations",
			zap.Int("decisions", queue.Len()),
		)
		return 0, nil
	}

	var (
		submitted int
		errs      error
	)
	for _, d := range queue.Decisions() {
		if err := e.submit(ctx, d); err != nil {
			e.metrics.observeSubmission("failed")
			e.logger.Error("Failed to submit VM migration",
				zap.String("vm_id", d.VM.ID),
				zap.String("source_node_id", d.SourceNode.ID),
				zap.String("destination_node_id", d.DestinationNode.ID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("vm %s: %w", d.VM.ID, err))
			continue
		}

		e.metrics.observeSubmission("submitted")
		submitted++
		e.logger.Info("Submitted VM migration",
			zap.String("vm_id", d.VM.ID),
			zap.String("vm_name", d.VM.Name),
			zap.String("source_node_id", d.SourceNode.ID),
			zap.String("destination_node_id", d.DestinationNode.ID),
			zap.String("policy", string(d.Policy)),
		)
	}

	return submitted, errs
}

func (e *Executor) submit(ctx context.Context, d MigrationDecision) error {
	if e.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.submitTimeout)
		defer cancel()
	}
	return e.submitter.SubmitMigrationJob(ctx, d.VM, d.DestinationNode.ID, d.Cause())
}
