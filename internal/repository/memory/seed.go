package memory

import (
	"context"
	"fmt"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

// SeedDemoData fills the fleet with a small cluster for local runs: one overcommitted node,
// two lightly loaded nodes and one busy node with headroom.
func SeedDemoData(ctx context.Context, f *Fleet) error {
	nodes := []struct {
		id, hostname string
		cores        int32
		memMiB       int64
		load         domain.NodeLoad
	}{
		{"node-01", "hv-01.lab", 8, 32768, domain.NodeLoad{CPULoad: 6.5, MemoryUsedMiB: 30000, AvailableMemoryMiB: 2768, PreviousAvailableMemoryMiB: 2800}},
		{"node-02", "hv-02.lab", 16, 65536, domain.NodeLoad{CPULoad: 0.6, MemoryUsedMiB: 4096, AvailableMemoryMiB: 61440, PreviousAvailableMemoryMiB: 61000}},
		{"node-03", "hv-03.lab", 16, 65536, domain.NodeLoad{CPULoad: 0.8, MemoryUsedMiB: 6144, AvailableMemoryMiB: 59392, PreviousAvailableMemoryMiB: 59000}},
		{"node-04", "hv-04.lab", 32, 131072, domain.NodeLoad{CPULoad: 12, MemoryUsedMiB: 60000, AvailableMemoryMiB: 71072, PreviousAvailableMemoryMiB: 70000}},
	}
	for _, n := range nodes {
		_, err := f.Nodes().Create(ctx, &domain.Node{
			ID:       n.id,
			Hostname: n.hostname,
			Spec: domain.NodeSpec{
				CPU:    domain.NodeCPUInfo{Sockets: 1, CoresPerSocket: n.cores, ThreadsPerCore: 1},
				Memory: domain.NodeMemoryInfo{TotalMiB: n.memMiB, AllocatableMiB: n.memMiB},
				Role:   domain.NodeRole{Compute: true},
			},
			Status: domain.NodeStatus{Phase: domain.NodePhaseReady, Load: n.load},
		})
		if err != nil {
			return fmt.Errorf("failed to seed node %s: %w", n.id, err)
		}
	}

	vms := []struct {
		nodeID string
		count  int
		cores  int32
		memMiB int64
		load   float64
	}{
		{"node-01", 5, 2, 8192, 1.2},
		{"node-02", 2, 1, 2048, 0.3},
		{"node-03", 1, 2, 4096, 0.8},
		{"node-04", 4, 4, 16384, 3},
	}
	for _, group := range vms {
		for i := range group.count {
			_, err := f.AddVM(ctx, &domain.VirtualMachine{
				ID:        fmt.Sprintf("%s-vm-%02d", group.nodeID, i+1),
				Name:      fmt.Sprintf("%s-vm-%02d", group.nodeID, i+1),
				ProjectID: "demo",
				Spec: domain.VMSpec{
					CPU:    domain.CPUConfig{Cores: group.cores},
					Memory: domain.MemoryConfig{SizeMiB: group.memMiB},
				},
				Status: domain.VMStatus{
					State:  domain.VMStateRunning,
					NodeID: group.nodeID,
					OS:     "linux",
					Resources: domain.ResourceStats{
						CPULoad:       group.load,
						MemoryUsedMiB: group.memMiB / 2,
					},
				},
			})
			if err != nil {
				return fmt.Errorf("failed to seed vm on %s: %w", group.nodeID, err)
			}
		}
	}

	return nil
}
