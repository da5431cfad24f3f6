package migration_test

import (
	"slices"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limiquantix/vmmigrate/internal/domain"
	"github.com/limiquantix/vmmigrate/internal/migration"
)

func candidate(id string, cores int32, memMiB int64, allocProcs int64, procLoad float64) migration.NodeCandidate {
	return migration.NodeCandidate{
		Node: &domain.Node{
			ID: id,
			Spec: domain.NodeSpec{
				CPU:    domain.NodeCPUInfo{Sockets: 1, CoresPerSocket: cores},
				Memory: domain.NodeMemoryInfo{TotalMiB: memMiB},
			},
		},
		Usage: &domain.ResourceUsage{Name: id, AllocatedProcs: allocProcs, ProcLoad: procLoad},
	}
}

func nodeIDs(nodes []migration.NodeCandidate) []string {
	return lo.Map(nodes, func(n migration.NodeCandidate, _ int) string { return n.Node.ID })
}

func strategies(t *testing.T) *migration.StrategyTable {
	f := newTestFleet(t)
	tracker := migration.NewTracker(f)
	return migration.NewStrategyTable(testConfig(), f, tracker, migration.NewEligibility(f, tracker), zaptest.NewLogger(t))
}

func TestStrategyTable(t *testing.T) {
	table := strategies(t)
	assert.Equal(t, []migration.PolicyID{
		migration.PolicyConsolidation,
		migration.PolicyConsolidationOvercommit,
		migration.PolicyOvercommit,
	}, table.Policies())

	for _, id := range table.Policies() {
		s, ok := table.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, id, s.Policy())
	}

	_, ok := table.Lookup("balance")
	assert.False(t, ok)
}

func TestOvercommit_Ordering(t *testing.T) {
	s, _ := strategies(t).Lookup(migration.PolicyOvercommit)

	nodes := []migration.NodeCandidate{
		candidate("c", 4, 8192, 2, 1),
		candidate("b", 4, 8192, 8, 1),
		candidate("a", 4, 8192, 2, 1),
		candidate("d", 0, 8192, 1, 0),
	}

	sources := slices.Clone(nodes)
	slices.SortStableFunc(sources, s.OrderNodes)
	// No cores with something allocated is infinitely overcommitted.
	assert.Equal(t, []string{"d", "b", "a", "c"}, nodeIDs(sources))

	destinations := slices.Clone(nodes)
	slices.SortStableFunc(destinations, s.OrderDestinations)
	assert.Equal(t, []string{"a", "c", "b", "d"}, nodeIDs(destinations))

	vms := []migration.VMCandidate{
		{VM: &domain.VirtualMachine{ID: "small"}, Usage: &domain.ResourceUsage{AllocatedProcs: 1, AllocatedMem: 1024}},
		{VM: &domain.VirtualMachine{ID: "wide-b"}, Usage: &domain.ResourceUsage{AllocatedProcs: 4, AllocatedMem: 1024}},
		{VM: &domain.VirtualMachine{ID: "wide-a"}, Usage: &domain.ResourceUsage{AllocatedProcs: 4, AllocatedMem: 1024}},
		{VM: &domain.VirtualMachine{ID: "fat"}, Usage: &domain.ResourceUsage{AllocatedProcs: 4, AllocatedMem: 8192}},
	}
	slices.SortStableFunc(vms, s.OrderVMs)
	assert.Equal(t, []string{"fat", "wide-a", "wide-b", "small"},
		lo.Map(vms, func(v migration.VMCandidate, _ int) string { return v.VM.ID }))
}

func TestOvercommit_DoneAndSetup(t *testing.T) {
	s, _ := strategies(t).Lookup(migration.PolicyOvercommit)
	pass := &migration.Pass{Decisions: migration.NewDecisionQueue()}

	hot := candidate("hot", 4, 8192, 6, 3)
	exact := candidate("exact", 4, 8192, 4, 3)

	assert.False(t, s.MigrationsDone(pass, hot))
	assert.True(t, s.NodeSetup(pass, hot))
	assert.True(t, s.MigrationsDone(pass, exact))
	assert.False(t, s.NodeSetup(pass, exact))
}

func TestConsolidation_Ordering(t *testing.T) {
	s, _ := strategies(t).Lookup(migration.PolicyConsolidation)

	nodes := []migration.NodeCandidate{
		candidate("busy", 8, 8192, 4, 6),
		candidate("empty", 8, 8192, 0, 0),
		candidate("quiet-b", 8, 8192, 2, 0.4),
		candidate("quiet-a", 8, 8192, 2, 0.4),
		candidate("mid", 8, 8192, 2, 2),
	}

	sources := slices.Clone(nodes)
	slices.SortStableFunc(sources, s.OrderNodes)
	assert.Equal(t, []string{"quiet-a", "quiet-b", "mid", "busy", "empty"}, nodeIDs(sources))

	destinations := slices.Clone(nodes)
	slices.SortStableFunc(destinations, s.OrderDestinations)
	assert.Equal(t, []string{"busy", "mid", "quiet-a", "quiet-b", "empty"}, nodeIDs(destinations))

	pass := &migration.Pass{Decisions: migration.NewDecisionQueue()}
	assert.False(t, s.MigrationsDone(pass, nodes[2]))
	assert.False(t, s.MigrationsDone(pass, nodes[4]), "a load equal to the threshold still qualifies")
	assert.True(t, s.MigrationsDone(pass, nodes[0]))
}
