package migration

import (
	"cmp"

	"go.uber.org/zap"
)

// consolidationStrategy empties lightly loaded nodes by packing their VMs onto the busiest
// nodes that still have headroom.
type consolidationStrategy struct {
	limits      thresholds
	fleet       Fleet
	tracker     *Tracker
	eligibility *Eligibility
	logger      *zap.Logger
}

func newConsolidationStrategy(limits thresholds, fleet Fleet, tracker *Tracker, eligibility *Eligibility, logger *zap.Logger) *consolidationStrategy {
	return &consolidationStrategy{
		limits:      limits,
		fleet:       fleet,
		tracker:     tracker,
		eligibility: eligibility,
		logger:      logger.With(zap.String("policy", string(PolicyConsolidation))),
	}
}

func (s *consolidationStrategy) Policy() PolicyID { return PolicyConsolidation }

// idle is a node with nothing allocated on it.
func idle(n NodeCandidate) bool {
	return n.Usage.AllocatedProcs == 0 && n.Usage.AllocatedMem == 0
}

// OrderNodes puts the least loaded non-idle node first and idle nodes last.
func (s *consolidationStrategy) OrderNodes(a, b NodeCandidate) int {
	if ia, ib := idle(a), idle(b); ia != ib {
		if ia {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(loadFraction(a.Node, a.Usage), loadFraction(b.Node, b.Usage)); c != 0 {
		return c
	}
	return byNodeID(a, b)
}

func (s *consolidationStrategy) OrderVMs(a, b VMCandidate) int {
	return largestVMFirst(a, b)
}

// MigrationsDone stops at the first node loaded above the consolidation threshold.
func (s *consolidationStrategy) MigrationsDone(_ *Pass, current NodeCandidate) bool {
	return !idle(current) && loadFraction(current.Node, current.Usage) > s.limits.consolidationLoad
}

// MigrationsDoneForNode is true once every VM left on the node is queued or cannot move.
func (s *consolidationStrategy) MigrationsDoneForNode(p *Pass, current NodeCandidate, _ VMCandidate) bool {
	return s.remaining(p, current) == 0
}

func (s *consolidationStrategy) remaining(p *Pass, current NodeCandidate) int {
	count := 0
	for _, vm := range s.fleet.ListVMsOnNode(current.Node.ID) {
		if _, queued := p.Decisions.Lookup(vm.ID); queued {
			continue
		}
		if s.eligibility.VMIsEligibleForMigration(vm, p.Manual) {
			count++
		}
	}
	return count
}

// NodeSetup skips nodes above the load threshold and nodes that are receiving VMs.
func (s *consolidationStrategy) NodeSetup(p *Pass, current NodeCandidate) bool {
	if loadFraction(current.Node, current.Usage) > s.limits.consolidationLoad {
		return false
	}
	if p.Decisions.IsDestination(current.Node.ID) {
		return false
	}
	if len(s.tracker.GetVMsMigratingToNode(current.Node.ID, nil)) > 0 {
		return false
	}

	s.logger.Debug("Attempting to vacate node",
		zap.String("pass_id", p.ID),
		zap.String("node_id", current.Node.ID),
		zap.Float64("load_fraction", loadFraction(current.Node, current.Usage)),
	)
	return true
}

func (s *consolidationStrategy) NodeTearDown(p *Pass, current NodeCandidate) {
	if left := s.remaining(p, current); left > 0 {
		s.logger.Info("Node only partially vacated",
			zap.String("pass_id", p.ID),
			zap.String("node_id", current.Node.ID),
			zap.Int("movable_vms_left", left),
		)
	}
}

// OrderDestinations puts the busiest node first.
func (s *consolidationStrategy) OrderDestinations(a, b NodeCandidate) int {
	return packingOrder(a, b)
}

// NodeCanBeDestination accepts a ready, non-idle node that is not being vacated and stays
// below both the destination load ceiling and the overcommit threshold after the move.
func (s *consolidationStrategy) NodeCanBeDestination(p *Pass, candidate NodeCandidate, vm VMCandidate) bool {
	if !candidate.Node.IsReady() || candidate.Node.ID == vm.VM.Status.NodeID {
		return false
	}
	if idle(candidate) || p.Decisions.IsSource(candidate.Node.ID) {
		return false
	}

	projected := projectedUsage(s.tracker, candidate, vm, p.Loads.VMLoads)
	return loadFraction(candidate.Node, projected) <= s.limits.maxDestinationLoad &&
		overcommitRatio(candidate.Node, projected) <= s.limits.overcommit
}

func packingOrder(a, b NodeCandidate) int {
	if c := cmp.Compare(loadFraction(b.Node, b.Usage), loadFraction(a.Node, a.Usage)); c != 0 {
		return c
	}
	return byNodeID(a, b)
}

// consolidationOvercommitStrategy relieves overcommitted nodes the way the overcommit
// strategy does, but packs the moved VMs onto the busiest nodes that stay within the
// threshold. It runs ahead of consolidation so that no node is left overcommitted.
type consolidationOvercommitStrategy struct {
	*overcommitStrategy
}

func newConsolidationOvercommitStrategy(limits thresholds, tracker *Tracker, logger *zap.Logger) *consolidationOvercommitStrategy {
	return &consolidationOvercommitStrategy{
		overcommitStrategy: &overcommitStrategy{
			limits:  limits,
			tracker: tracker,
			logger:  logger.With(zap.String("policy", string(PolicyConsolidationOvercommit))),
		},
	}
}

func (s *consolidationOvercommitStrategy) Policy() PolicyID { return PolicyConsolidationOvercommit }

func (s *consolidationOvercommitStrategy) OrderDestinations(a, b NodeCandidate) int {
	return packingOrder(a, b)
}
