package migration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/domain"
	"github.com/limiquantix/vmmigrate/internal/migration"
	"github.com/limiquantix/vmmigrate/internal/repository/memory"
	"github.com/limiquantix/vmmigrate/internal/usage"
)

// overcommittedFleet has n1 at 1.5x its cores, n2 and n3 with plenty of room.
func overcommittedFleet(t *testing.T) *testFleet {
	f := newTestFleet(t)
	f.addNode("n1", 4, 16384, 1.8, 6144)
	f.addNode("n2", 8, 32768, 0.3, 1024)
	f.addNode("n3", 8, 32768, 0.5, 1024)

	f.addVM("a", "n1", 2, 4096, 0.6)
	f.addVM("b", "n1", 2, 4096, 0.6)
	f.addVM("c", "n1", 2, 4096, 0.6)
	f.addVM("d", "n2", 1, 2048, 0.3)
	f.addVM("e", "n3", 2, 2048, 0.5)
	return f
}

// consolidationFleet has n1 nearly idle and two busier nodes with headroom.
func consolidationFleet(t *testing.T, opts ...func(*domain.VirtualMachine)) *testFleet {
	f := newTestFleet(t)
	f.addNode("n1", 8, 32768, 0.4, 1024)
	f.addNode("n2", 16, 65536, 6, 20000)
	f.addNode("n3", 16, 65536, 8, 30000)

	f.addVM("v1", "n1", 1, 1024, 0.2)
	f.addVM("v2", "n1", 1, 1024, 0.2, opts...)
	f.addVM("w1", "n2", 4, 8192, 3)
	f.addVM("w2", "n2", 4, 8192, 3)
	f.addVM("x1", "n3", 4, 8192, 4)
	f.addVM("x2", "n3", 4, 8192, 4)
	return f
}

func TestPlan_OvercommitRelief(t *testing.T) {
	f := overcommittedFleet(t)
	planner := newPlanner(t, f, testConfig())

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
	require.NoError(t, err)

	// Moving a single 2-core VM brings n1 down to exactly its core count.
	assert.Equal(t, []move{{vm: "a", from: "n1", to: "n2"}}, moves(queue))
	assert.Equal(t, migration.PolicyOvercommit, queue.Decisions()[0].Policy)
}

func TestPlan_ConsolidationFullyVacatesNode(t *testing.T) {
	f := consolidationFleet(t)
	planner := newPlanner(t, f, testConfig())

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyConsolidation, false)
	require.NoError(t, err)

	assert.Equal(t, []move{
		{vm: "v1", from: "n1", to: "n3"},
		{vm: "v2", from: "n1", to: "n3"},
	}, moves(queue))
}

func TestPlan_ConsolidationPartialEvacuation(t *testing.T) {
	f := consolidationFleet(t, func(vm *domain.VirtualMachine) {
		vm.Spec.MigrationDisabled = true
	})
	planner := newPlanner(t, f, testConfig())

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyConsolidation, false)
	require.NoError(t, err)
	assert.Equal(t, []move{{vm: "v1", from: "n1", to: "n3"}}, moves(queue))

	strategy, ok := planner.Strategies().Lookup(migration.PolicyConsolidation)
	require.True(t, ok)
	pass := &migration.Pass{Decisions: queue}
	current := migration.NodeCandidate{Node: f.node("n1"), Usage: &domain.ResourceUsage{Name: "n1"}}
	vm := migration.VMCandidate{VM: f.vm("v2"), Usage: domain.UsageOf(f.vm("v2"))}
	assert.True(t, strategy.MigrationsDoneForNode(pass, current, vm))
}

func TestPlan_ConsolidationRelievesOvercommitFirst(t *testing.T) {
	f := consolidationFleet(t)
	// n4 is overcommitted; the companion pass must move something off it.
	f.addNode("n4", 2, 8192, 1.5, 4096)
	f.addVM("y1", "n4", 2, 2048, 0.5)
	f.addVM("y2", "n4", 2, 2048, 0.5)

	planner := newPlanner(t, f, testConfig())
	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyConsolidation, false)
	require.NoError(t, err)

	decisions := queue.Decisions()
	require.NotEmpty(t, decisions)
	assert.Equal(t, "n4", decisions[0].SourceNode.ID)
	assert.Equal(t, migration.PolicyConsolidationOvercommit, decisions[0].Policy)
}

func TestPlan_ThrottleExhaustedSkipsSnapshot(t *testing.T) {
	f := overcommittedFleet(t)
	f.addVM("m1", "n3", 1, 1024, 0.1)
	f.addVM("m2", "n3", 1, 1024, 0.1)
	f.startMigration("m1", "n2")
	f.startMigration("m2", "n2")

	cfg := testConfig(func(c *config.MigrationConfig) { c.ThrottleCeiling = 2 })
	provider := &countingProvider{inner: usage.NewCollector(f, zaptest.NewLogger(t))}
	planner := newPlannerWith(t, f, cfg, provider)

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, 0, provider.calls)
}

func TestPlan_ManualIgnoresThrottle(t *testing.T) {
	f := overcommittedFleet(t)
	f.addVM("m1", "n3", 1, 1024, 0.1)
	f.addVM("m2", "n3", 1, 1024, 0.1)
	f.startMigration("m1", "n2")
	f.startMigration("m2", "n2")

	cfg := testConfig(func(c *config.MigrationConfig) { c.ThrottleCeiling = 2 })
	planner := newPlanner(t, f, cfg)

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
	require.NoError(t, err)
	assert.Equal(t, []move{{vm: "a", from: "n1", to: "n2"}}, moves(queue))
}

func TestPlan_RespectsThrottleBudget(t *testing.T) {
	f := newTestFleet(t)
	f.addNode("n1", 4, 32768, 3, 8192)
	f.addNode("n2", 16, 65536, 1, 4096)
	f.addNode("n3", 16, 65536, 1, 4096)
	for _, id := range []string{"a", "b", "c", "d"} {
		f.addVM(id, "n1", 2, 2048, 0.7)
	}
	f.addVM("e", "n2", 1, 1024, 0.5)
	f.addVM("g", "n3", 1, 1024, 0.5)
	f.startMigration("g", "n2")

	cfg := testConfig(func(c *config.MigrationConfig) { c.ThrottleCeiling = 2 })
	planner := newPlanner(t, f, cfg)

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
	require.NoError(t, err)
	// n1 needs two moves but only one slot is left.
	assert.Equal(t, 1, queue.Len())

	manual, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
	require.NoError(t, err)
	assert.Equal(t, 2, manual.Len())
}

func TestPlan_ManualIgnoresUsageChecks(t *testing.T) {
	f := overcommittedFleet(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.SetVMResources(context.Background(), id, domain.ResourceStats{}))
	}
	planner := newPlanner(t, f, testConfig())

	auto, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
	require.NoError(t, err)
	assert.Equal(t, 0, auto.Len())

	manual, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
	require.NoError(t, err)
	assert.Equal(t, 1, manual.Len())
}

func TestPlan_SkipsIneligibleVMs(t *testing.T) {
	f := newTestFleet(t)
	f.addNode("n1", 4, 16384, 2, 6144)
	f.addNode("n2", 16, 65536, 0.5, 2048)
	f.addVM("pinned", "n1", 4, 4096, 1, func(vm *domain.VirtualMachine) { vm.Spec.MigrationDisabled = true })
	f.addVM("booting", "n1", 2, 2048, 0.5, func(vm *domain.VirtualMachine) { vm.Status.State = domain.VMStateCreating })
	f.addVM("ok", "n1", 1, 1024, 0.3)
	f.addVM("peer", "n2", 1, 1024, 0.5)

	planner := newPlanner(t, f, testConfig())
	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
	require.NoError(t, err)

	assert.Equal(t, []move{{vm: "ok", from: "n1", to: "n2"}}, moves(queue))
}

func TestPlan_NoDestinationLeavesQueueEmpty(t *testing.T) {
	f := newTestFleet(t)
	f.addNode("n1", 2, 8192, 1, 4096)
	f.addNode("n2", 2, 8192, 1, 4096)
	f.addVM("a", "n1", 2, 2048, 0.5)
	f.addVM("b", "n1", 2, 2048, 0.5)
	f.addVM("c", "n2", 2, 2048, 0.5)

	planner := newPlanner(t, f, testConfig())
	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Len())
}

func TestPlan_Errors(t *testing.T) {
	t.Run("not licensed", func(t *testing.T) {
		f := overcommittedFleet(t)
		planner := newPlanner(t, f, testConfig(func(c *config.MigrationConfig) { c.Licensed = false }))

		_, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
		assert.ErrorIs(t, err, migration.ErrNotLicensed)
	})

	t.Run("unknown policy", func(t *testing.T) {
		f := overcommittedFleet(t)
		planner := newPlanner(t, f, testConfig())

		_, err := planner.PlanVMMigrations(context.Background(), "balance", false)
		assert.ErrorIs(t, err, migration.ErrUnknownPolicy)
	})

	t.Run("policy not configured", func(t *testing.T) {
		f := overcommittedFleet(t)
		planner := newPlanner(t, f, testConfig(func(c *config.MigrationConfig) {
			c.Policies = []string{"overcommit"}
		}))

		_, err := planner.PlanVMMigrations(context.Background(), migration.PolicyConsolidation, false)
		assert.ErrorIs(t, err, migration.ErrUnknownPolicy)
	})

	t.Run("snapshot failure", func(t *testing.T) {
		f := overcommittedFleet(t)
		provider := &countingProvider{err: errors.New("agent timeout")}
		planner := newPlannerWith(t, f, testConfig(), provider)

		_, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
		assert.ErrorIs(t, err, migration.ErrSnapshotFailed)
		assert.Equal(t, 1, provider.calls)
	})

	t.Run("empty fleet", func(t *testing.T) {
		f := newTestFleet(t)
		planner := newPlanner(t, f, testConfig())

		_, err := planner.PlanVMMigrations(context.Background(), migration.PolicyOvercommit, false)
		assert.ErrorIs(t, err, migration.ErrSnapshotFailed)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	})
}

func TestPlan_ConsolidationWithoutCompanion(t *testing.T) {
	f := consolidationFleet(t)
	planner := newPlanner(t, f, testConfig(func(c *config.MigrationConfig) {
		c.Policies = []string{"consolidation"}
	}))

	queue, err := planner.PlanVMMigrations(context.Background(), migration.PolicyConsolidation, false)
	require.NoError(t, err)
	assert.Equal(t, 2, queue.Len())
}

func TestPlan_Deterministic(t *testing.T) {
	f := newTestFleet(t)
	require.NoError(t, memory.SeedDemoData(context.Background(), f.Fleet))
	planner := newPlanner(t, f, testConfig())

	for _, policy := range planner.Strategies().Policies() {
		first, err := planner.PlanVMMigrations(context.Background(), policy, true)
		require.NoError(t, err)
		second, err := planner.PlanVMMigrations(context.Background(), policy, true)
		require.NoError(t, err)
		assert.Equal(t, moves(first), moves(second), "policy %s", policy)
	}
}

func TestPlan_Invariants(t *testing.T) {
	f := newTestFleet(t)
	require.NoError(t, memory.SeedDemoData(context.Background(), f.Fleet))
	cfg := testConfig()
	planner := newPlanner(t, f, cfg)
	collector := usage.NewCollector(f, zaptest.NewLogger(t))

	for _, policy := range planner.Strategies().Policies() {
		for _, manual := range []bool{false, true} {
			queue, err := planner.PlanVMMigrations(context.Background(), policy, manual)
			require.NoError(t, err)
			require.NotZero(t, queue.Len(), "policy %s manual %v", policy, manual)
			if !manual {
				assert.LessOrEqual(t, queue.Len(), cfg.ThrottleCeiling)
			}

			before, err := collector.ComputeUsageSnapshot(context.Background())
			require.NoError(t, err)
			after := before.Clone()

			seen := make(map[string]bool)
			for _, d := range queue.Decisions() {
				assert.False(t, seen[d.VM.ID], "vm %s queued twice", d.VM.ID)
				seen[d.VM.ID] = true
				assert.NotEqual(t, d.SourceNode.ID, d.DestinationNode.ID)
				assert.Equal(t, d.VM.Status.NodeID, d.SourceNode.ID)
				after.MoveUsage(after.VMLoads[d.VM.ID], d.SourceNode.ID, d.DestinationNode.ID)
			}

			total, moved := before.NodeLoads.Total(), after.NodeLoads.Total()
			assert.Equal(t, total.AllocatedProcs, moved.AllocatedProcs)
			assert.Equal(t, total.AllocatedMem, moved.AllocatedMem)
			assert.Equal(t, total.MemLoad, moved.MemLoad)
			assert.InDelta(t, total.ProcLoad, moved.ProcLoad, 1e-9)

			for _, d := range queue.Decisions() {
				dest := d.DestinationNode
				u := after.NodeLoads[dest.ID]
				assert.LessOrEqual(t, float64(u.AllocatedProcs)/float64(dest.Spec.CPU.TotalCores()), cfg.OvercommitThreshold,
					"destination %s overcommitted by %s", dest.ID, policy)
			}
		}
	}
}

func TestPlan_LiveInboundFromUnreadyNodeCountsAgainstDestination(t *testing.T) {
	build := func(t *testing.T, inbound bool) *testFleet {
		f := newTestFleet(t)
		f.addNode("n1", 4, 16384, 2, 4096)
		f.addNode("n2", 8, 32768, 0.5, 2048)
		f.addNode("bad", 8, 32768, 3, 4096)

		f.addVM("a", "n1", 3, 2048, 0.8)
		f.addVM("b", "n1", 3, 2048, 0.8)
		f.addVM("p", "n2", 1, 1024, 0.2)
		f.addVM("big", "bad", 6, 4096, 2)

		if inbound {
			f.startMigration("big", "n2")
		}
		bad := f.node("bad")
		bad.Status.Phase = domain.NodePhaseNotReady
		_, err := f.Nodes().Update(context.Background(), bad)
		require.NoError(t, err)
		return f
	}

	t.Run("without inbound migration", func(t *testing.T) {
		f := build(t, false)
		queue, err := newPlanner(t, f, testConfig()).PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
		require.NoError(t, err)
		require.Equal(t, 1, queue.Len())
		assert.Equal(t, "n2", queue.Decisions()[0].DestinationNode.ID)
	})

	t.Run("with inbound migration", func(t *testing.T) {
		f := build(t, true)
		queue, err := newPlanner(t, f, testConfig()).PlanVMMigrations(context.Background(), migration.PolicyOvercommit, true)
		require.NoError(t, err)
		// 1 resident + 3 moved + 6 inbound cores would exceed the 8 cores of n2.
		assert.Equal(t, 0, queue.Len())
	})
}
