package migration

import (
	"cmp"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/domain"
)

// PolicyID names a migration policy.
type PolicyID string

const (
	PolicyOvercommit              PolicyID = "overcommit"
	PolicyConsolidation           PolicyID = "consolidation"
	PolicyConsolidationOvercommit PolicyID = "consolidation-overcommit"
)

// Pass is the state shared by the planner and a strategy during one planning call.
type Pass struct {
	// ID correlates log lines of a single planning call.
	ID string

	Loads     *Snapshot
	Decisions *DecisionQueue
	Manual    bool
}

// Strategy is the policy-specific half of the planning algorithm. The planner owns the
// loop; a strategy only orders, filters and decides when to stop.
//
// Comparators must define a total order; ties fall back to IDs so that planning over the
// same inputs always yields the same decisions.
type Strategy interface {
	Policy() PolicyID

	// OrderNodes sorts source nodes.
	OrderNodes(a, b NodeCandidate) int

	// OrderVMs sorts the VMs of one source node.
	OrderVMs(a, b VMCandidate) int

	// MigrationsDone is checked before each source node and ends the pass when true.
	MigrationsDone(p *Pass, current NodeCandidate) bool

	// MigrationsDoneForNode is checked before each VM and moves on to the next node when true.
	MigrationsDoneForNode(p *Pass, current NodeCandidate, vm VMCandidate) bool

	// NodeSetup returns false to skip the node entirely.
	NodeSetup(p *Pass, current NodeCandidate) bool

	// NodeTearDown runs after the VMs of a node that passed NodeSetup were evaluated.
	NodeTearDown(p *Pass, current NodeCandidate)

	// OrderDestinations sorts the destination candidates for one VM.
	OrderDestinations(a, b NodeCandidate) int

	// NodeCanBeDestination reports whether the VM fits on the candidate.
	NodeCanBeDestination(p *Pass, candidate NodeCandidate, vm VMCandidate) bool
}

// StrategyTable maps policies to their strategies. It is built once and never modified.
type StrategyTable struct {
	strategies map[PolicyID]Strategy
}

// NewStrategyTable registers a strategy for each configured policy. Unknown policy names
// are ignored.
func NewStrategyTable(cfg config.MigrationConfig, fleet Fleet, tracker *Tracker, eligibility *Eligibility, logger *zap.Logger) *StrategyTable {
	limits := thresholds{
		overcommit:         cfg.OvercommitThreshold,
		consolidationLoad:  cfg.ConsolidationLoadThreshold,
		maxDestinationLoad: cfg.ConsolidationMaxDestinationLoad,
	}

	table := &StrategyTable{strategies: make(map[PolicyID]Strategy)}
	for _, name := range cfg.Policies {
		var s Strategy
		switch PolicyID(name) {
		case PolicyOvercommit:
			s = newOvercommitStrategy(limits, tracker, logger)
		case PolicyConsolidation:
			s = newConsolidationStrategy(limits, fleet, tracker, eligibility, logger)
		case PolicyConsolidationOvercommit:
			s = newConsolidationOvercommitStrategy(limits, tracker, logger)
		default:
			logger.Warn("Ignoring unknown migration policy", zap.String("policy", name))
			continue
		}
		table.strategies[s.Policy()] = s
	}
	return table
}

// Lookup returns the strategy registered for a policy.
func (t *StrategyTable) Lookup(id PolicyID) (Strategy, bool) {
	s, ok := t.strategies[id]
	return s, ok
}

// Policies returns the registered policy IDs in name order.
func (t *StrategyTable) Policies() []PolicyID {
	ids := make([]PolicyID, 0, len(t.strategies))
	for id := range t.strategies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type thresholds struct {
	overcommit         float64
	consolidationLoad  float64
	maxDestinationLoad float64
}

func ratio(value float64, capacity int64) float64 {
	if capacity <= 0 {
		if value > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return value / float64(capacity)
}

// overcommitRatio is the larger of allocated CPU per core and allocated memory per MiB of
// node memory.
func overcommitRatio(node *domain.Node, u *domain.ResourceUsage) float64 {
	return max(
		ratio(float64(u.AllocatedProcs), int64(node.Spec.CPU.TotalCores())),
		ratio(float64(u.AllocatedMem), node.Spec.Memory.TotalMiB),
	)
}

// loadFraction is the larger of measured CPU load per core and used memory per MiB of
// node memory.
func loadFraction(node *domain.Node, u *domain.ResourceUsage) float64 {
	return max(
		ratio(u.ProcLoad, int64(node.Spec.CPU.TotalCores())),
		ratio(float64(u.MemLoad), node.Spec.Memory.TotalMiB),
	)
}

// projectedUsage is the candidate's usage with the VM and any live inbound migrations added.
// An inbound VM leaving a node outside the snapshot has no record there and is measured
// from its own spec and stats.
func projectedUsage(tracker *Tracker, candidate NodeCandidate, vm VMCandidate, vmLoads Loads) *domain.ResourceUsage {
	projected := candidate.Usage.Clone()
	projected.Add(vm.Usage)
	for _, inbound := range tracker.GetVMsMigratingToNode(candidate.Node.ID, nil) {
		if inbound.ID == vm.VM.ID {
			continue
		}
		u, ok := vmLoads[inbound.ID]
		if !ok {
			u = domain.UsageOf(inbound)
		}
		projected.Add(u)
	}
	return projected
}

func byNodeID(a, b NodeCandidate) int {
	return cmp.Compare(a.Node.ID, b.Node.ID)
}

// largestVMFirst orders VMs by allocated CPU then allocated memory, both descending.
func largestVMFirst(a, b VMCandidate) int {
	if c := cmp.Compare(b.Usage.AllocatedProcs, a.Usage.AllocatedProcs); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Usage.AllocatedMem, a.Usage.AllocatedMem); c != 0 {
		return c
	}
	return cmp.Compare(a.VM.ID, b.VM.ID)
}
