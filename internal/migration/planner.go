package migration

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
)

// Planner produces migration decisions for a policy.
type Planner struct {
	fleet       Fleet
	snapshots   SnapshotProvider
	licenser    Licenser
	tracker     *Tracker
	eligibility *Eligibility
	throttle    *Throttle
	strategies  *StrategyTable
	metrics     *Metrics
	logger      *zap.Logger
}

// NewPlanner creates a planner with the strategies of the configured policies.
func NewPlanner(
	cfg config.MigrationConfig,
	fleet Fleet,
	snapshots SnapshotProvider,
	licenser Licenser,
	metrics *Metrics,
	logger *zap.Logger,
) *Planner {
	logger = logger.With(zap.String("component", "migration-planner"))
	tracker := NewTracker(fleet)
	eligibility := NewEligibility(fleet, tracker)

	return &Planner{
		fleet:       fleet,
		snapshots:   snapshots,
		licenser:    licenser,
		tracker:     tracker,
		eligibility: eligibility,
		throttle:    NewThrottle(cfg.ThrottleCeiling, tracker),
		strategies:  NewStrategyTable(cfg, fleet, tracker, eligibility, logger),
		metrics:     metrics,
		logger:      logger,
	}
}

// Strategies returns the policy table.
func (p *Planner) Strategies() *StrategyTable {
	return p.strategies
}

// Tracker returns the migration tracker used by the planner.
func (p *Planner) Tracker() *Tracker {
	return p.tracker
}

// PlanVMMigrations computes the decisions for one policy. An empty queue is a valid
// result. Consolidation first runs the consolidation-overcommit pass, when registered,
// over the same working snapshot and queue.
//
// The returned queue belongs to the caller.
func (p *Planner) PlanVMMigrations(ctx context.Context, policy PolicyID, isManual bool) (*DecisionQueue, error) {
	start := time.Now()
	logger := p.logger.With(zap.String("policy", string(policy)), zap.Bool("manual", isManual))

	if !p.licenser.IsLicensedForVM() {
		p.metrics.observePlan(policy, "unlicensed", 0, time.Since(start).Seconds())
		return nil, ErrNotLicensed
	}

	strategy, ok := p.strategies.Lookup(policy)
	if !ok {
		p.metrics.observePlan(policy, "unknown_policy", 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	budget := p.throttle.CalculateMaxVMMigrations(isManual)
	p.metrics.observeBudget(budget)

	queue := NewDecisionQueue()
	if budget == 0 {
		logger.Info("Migration throttle exhausted, skipping planning")
		p.metrics.observePlan(policy, "throttled", 0, time.Since(start).Seconds())
		return queue, nil
	}

	snapshot, err := p.snapshots.ComputeUsageSnapshot(ctx)
	if err != nil {
		p.metrics.observePlan(policy, "error", 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFailed, err)
	}

	working := snapshot.Clone()
	defer working.Release()

	pass := &Pass{
		ID:        uuid.NewString(),
		Loads:     working,
		Decisions: queue,
		Manual:    isManual,
	}
	logger = logger.With(zap.String("pass_id", pass.ID))

	var passes []Strategy
	if policy == PolicyConsolidation {
		if companion, ok := p.strategies.Lookup(PolicyConsolidationOvercommit); ok {
			passes = append(passes, companion)
		} else {
			logger.Debug("Consolidation-overcommit policy not registered, skipping its pass")
		}
	}
	passes = append(passes, strategy)

	for _, s := range passes {
		if err := p.planTypedMigrations(pass, s, &budget, logger); err != nil {
			queue.Release()
			p.metrics.observePlan(policy, "error", 0, time.Since(start).Seconds())
			return nil, err
		}
	}

	p.metrics.observePlan(policy, "ok", queue.Len(), time.Since(start).Seconds())
	logger.Info("Migration planning completed",
		zap.Int("decisions", queue.Len()),
		zap.Int("budget_left", budget),
		zap.Duration("duration", time.Since(start)),
	)

	return queue, nil
}

// planTypedMigrations runs the source-node loop of one strategy. budget is shared between
// consecutive passes; Unlimited is never decremented.
func (p *Planner) planTypedMigrations(pass *Pass, strategy Strategy, budget *int, logger *zap.Logger) error {
	nodes, err := BuildNodeCandidates(p.fleet, pass.Loads.NodeLoads)
	if err != nil {
		return err
	}
	slices.SortStableFunc(nodes, strategy.OrderNodes)

	for _, current := range nodes {
		if *budget == 0 {
			logger.Debug("Migration budget used up")
			return nil
		}
		if strategy.MigrationsDone(pass, current) {
			return nil
		}

		vms := BuildVMCandidates(p.fleet, current.Node, pass.Loads.VMLoads)
		if len(vms) == 0 || !strategy.NodeSetup(pass, current) {
			continue
		}
		slices.SortStableFunc(vms, strategy.OrderVMs)

		for _, vm := range vms {
			if *budget == 0 || strategy.MigrationsDoneForNode(pass, current, vm) {
				break
			}
			if _, inFlight := p.tracker.GetCurrentDestination(vm.VM, pass.Decisions); inFlight {
				continue
			}
			if reason := p.eligibility.IneligibleReason(vm.VM, pass.Manual); reason != "" {
				logger.Debug("VM not eligible for migration",
					zap.String("vm_id", vm.VM.ID),
					zap.String("reason", reason),
				)
				continue
			}

			dest, ok := p.selectDestination(pass, strategy, nodes, current, vm)
			if !ok {
				logger.Debug("No destination for VM",
					zap.String("vm_id", vm.VM.ID),
					zap.String("node_id", current.Node.ID),
				)
				continue
			}

			decision := MigrationDecision{
				VM:              vm.VM,
				SourceNode:      current.Node,
				DestinationNode: dest.Node,
				Policy:          strategy.Policy(),
			}
			if err := pass.Decisions.Add(decision); err != nil {
				// Unreachable: queued VMs are skipped above.
				logger.Warn("Dropping duplicate decision", zap.Error(err))
				continue
			}
			pass.Loads.MoveUsage(vm.Usage, current.Node.ID, dest.Node.ID)
			if *budget > 0 {
				*budget--
			}

			logger.Debug("Planned VM migration",
				zap.String("vm_id", vm.VM.ID),
				zap.String("source_node_id", current.Node.ID),
				zap.String("destination_node_id", dest.Node.ID),
				zap.String("strategy", string(strategy.Policy())),
			)
		}

		strategy.NodeTearDown(pass, current)
	}

	return nil
}

// selectDestination returns the first candidate, in the strategy's destination order,
// that can take the VM. The source node is never a candidate.
func (p *Planner) selectDestination(pass *Pass, strategy Strategy, nodes []NodeCandidate, source NodeCandidate, vm VMCandidate) (NodeCandidate, bool) {
	ranked := make([]NodeCandidate, 0, len(nodes))
	for _, n := range nodes {
		if n.Node.ID == source.Node.ID {
			continue
		}
		ranked = append(ranked, n)
	}
	slices.SortStableFunc(ranked, strategy.OrderDestinations)

	for _, candidate := range ranked {
		if strategy.NodeCanBeDestination(pass, candidate, vm) {
			return candidate, true
		}
	}
	return NodeCandidate{}, false
}
