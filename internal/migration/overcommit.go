package migration

import (
	"cmp"

	"go.uber.org/zap"
)

// overcommitStrategy relieves nodes whose allocated CPU or memory exceeds their capacity
// by the configured ratio. The most overcommitted nodes are handled first and their
// biggest VMs are moved to the least committed nodes that can absorb them.
type overcommitStrategy struct {
	limits  thresholds
	tracker *Tracker
	logger  *zap.Logger
}

func newOvercommitStrategy(limits thresholds, tracker *Tracker, logger *zap.Logger) *overcommitStrategy {
	return &overcommitStrategy{
		limits:  limits,
		tracker: tracker,
		logger:  logger.With(zap.String("policy", string(PolicyOvercommit))),
	}
}

func (s *overcommitStrategy) Policy() PolicyID { return PolicyOvercommit }

func (s *overcommitStrategy) overcommitted(n NodeCandidate) bool {
	return overcommitRatio(n.Node, n.Usage) > s.limits.overcommit
}

// OrderNodes puts the most overcommitted node first.
func (s *overcommitStrategy) OrderNodes(a, b NodeCandidate) int {
	if c := cmp.Compare(overcommitRatio(b.Node, b.Usage), overcommitRatio(a.Node, a.Usage)); c != 0 {
		return c
	}
	return byNodeID(a, b)
}

func (s *overcommitStrategy) OrderVMs(a, b VMCandidate) int {
	return largestVMFirst(a, b)
}

// MigrationsDone stops at the first node that is not overcommitted; nodes are visited in
// descending ratio order so none after it is either.
func (s *overcommitStrategy) MigrationsDone(_ *Pass, current NodeCandidate) bool {
	return !s.overcommitted(current)
}

func (s *overcommitStrategy) MigrationsDoneForNode(_ *Pass, current NodeCandidate, _ VMCandidate) bool {
	return !s.overcommitted(current)
}

func (s *overcommitStrategy) NodeSetup(p *Pass, current NodeCandidate) bool {
	if !s.overcommitted(current) {
		return false
	}
	s.logger.Debug("Relieving overcommitted node",
		zap.String("pass_id", p.ID),
		zap.String("node_id", current.Node.ID),
		zap.Float64("overcommit_ratio", overcommitRatio(current.Node, current.Usage)),
	)
	return true
}

func (s *overcommitStrategy) NodeTearDown(p *Pass, current NodeCandidate) {
	if s.overcommitted(current) {
		s.logger.Info("Node remains overcommitted after planning",
			zap.String("pass_id", p.ID),
			zap.String("node_id", current.Node.ID),
			zap.Float64("overcommit_ratio", overcommitRatio(current.Node, current.Usage)),
		)
	}
}

// OrderDestinations puts the least committed node first, then the least loaded.
func (s *overcommitStrategy) OrderDestinations(a, b NodeCandidate) int {
	if c := cmp.Compare(overcommitRatio(a.Node, a.Usage), overcommitRatio(b.Node, b.Usage)); c != 0 {
		return c
	}
	if c := cmp.Compare(loadFraction(a.Node, a.Usage), loadFraction(b.Node, b.Usage)); c != 0 {
		return c
	}
	return byNodeID(a, b)
}

// NodeCanBeDestination accepts a ready node that stays within the overcommit threshold
// once the VM and every live inbound migration have landed.
func (s *overcommitStrategy) NodeCanBeDestination(p *Pass, candidate NodeCandidate, vm VMCandidate) bool {
	if !candidate.Node.IsReady() || candidate.Node.ID == vm.VM.Status.NodeID {
		return false
	}
	projected := projectedUsage(s.tracker, candidate, vm, p.Loads.VMLoads)
	return overcommitRatio(candidate.Node, projected) <= s.limits.overcommit
}
