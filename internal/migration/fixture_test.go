package migration_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/domain"
	"github.com/limiquantix/vmmigrate/internal/migration"
	"github.com/limiquantix/vmmigrate/internal/repository/memory"
	"github.com/limiquantix/vmmigrate/internal/usage"
)

type testFleet struct {
	*memory.Fleet
	t *testing.T
}

func newTestFleet(t *testing.T) *testFleet {
	return &testFleet{Fleet: memory.NewFleet(), t: t}
}

func (f *testFleet) addNode(id string, cores int32, memMiB int64, cpuLoad float64, memUsedMiB int64) *domain.Node {
	f.t.Helper()
	available := memMiB - memUsedMiB
	n, err := f.Nodes().Create(context.Background(), &domain.Node{
		ID:       id,
		Hostname: id,
		Spec: domain.NodeSpec{
			CPU:    domain.NodeCPUInfo{Sockets: 1, CoresPerSocket: cores, ThreadsPerCore: 1},
			Memory: domain.NodeMemoryInfo{TotalMiB: memMiB, AllocatableMiB: memMiB},
			Role:   domain.NodeRole{Compute: true},
		},
		Status: domain.NodeStatus{
			Phase: domain.NodePhaseReady,
			Load: domain.NodeLoad{
				CPULoad:                    cpuLoad,
				MemoryUsedMiB:              memUsedMiB,
				AvailableMemoryMiB:         available,
				PreviousAvailableMemoryMiB: available + 64,
			},
		},
	})
	require.NoError(f.t, err)
	return n
}

func (f *testFleet) addVM(id, nodeID string, cores int32, memMiB int64, cpuLoad float64, opts ...func(*domain.VirtualMachine)) *domain.VirtualMachine {
	f.t.Helper()
	vm := &domain.VirtualMachine{
		ID:        id,
		Name:      id,
		ProjectID: "test",
		Spec: domain.VMSpec{
			CPU:    domain.CPUConfig{Cores: cores},
			Memory: domain.MemoryConfig{SizeMiB: memMiB},
		},
		Status: domain.VMStatus{
			State:  domain.VMStateRunning,
			NodeID: nodeID,
			OS:     "linux",
			Resources: domain.ResourceStats{
				CPULoad:       cpuLoad,
				MemoryUsedMiB: memMiB / 2,
			},
		},
	}
	for _, opt := range opts {
		opt(vm)
	}
	created, err := f.AddVM(context.Background(), vm)
	require.NoError(f.t, err)
	return created
}

func (f *testFleet) startMigration(vmID, destinationNodeID string) {
	f.t.Helper()
	vm, ok := f.GetVM(vmID)
	require.True(f.t, ok)
	require.NoError(f.t, f.SubmitMigrationJob(context.Background(), vm, destinationNodeID, "test"))
}

func (f *testFleet) vm(id string) *domain.VirtualMachine {
	f.t.Helper()
	vm, ok := f.GetVM(id)
	require.True(f.t, ok, "vm %s", id)
	return vm
}

func (f *testFleet) node(id string) *domain.Node {
	f.t.Helper()
	n, ok := f.GetNode(id)
	require.True(f.t, ok, "node %s", id)
	return n
}

func testConfig(mutate ...func(*config.MigrationConfig)) config.MigrationConfig {
	cfg := config.Default().Migration
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

func newPlanner(t *testing.T, f *testFleet, cfg config.MigrationConfig) *migration.Planner {
	return newPlannerWith(t, f, cfg, usage.NewCollector(f, zaptest.NewLogger(t)))
}

func newPlannerWith(t *testing.T, f *testFleet, cfg config.MigrationConfig, snapshots migration.SnapshotProvider) *migration.Planner {
	return migration.NewPlanner(
		cfg,
		f,
		snapshots,
		migration.NewConfigGate(cfg),
		migration.NewMetrics(prometheus.NewRegistry()),
		zaptest.NewLogger(t),
	)
}

// countingProvider records how often a snapshot was requested.
type countingProvider struct {
	inner migration.SnapshotProvider
	calls int
	err   error
}

func (p *countingProvider) ComputeUsageSnapshot(ctx context.Context) (*migration.Snapshot, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.inner.ComputeUsageSnapshot(ctx)
}

type move struct {
	vm, from, to string
}

func moves(q *migration.DecisionQueue) []move {
	var out []move
	for _, d := range q.Decisions() {
		out = append(out, move{vm: d.VM.ID, from: d.SourceNode.ID, to: d.DestinationNode.ID})
	}
	return out
}
