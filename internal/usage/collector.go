// Package usage turns the fleet inventory into the usage snapshot consumed by the planner.
package usage

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/domain"
	"github.com/limiquantix/vmmigrate/internal/migration"
)

// MetricVMCount is the generic metric counting the VMs behind a usage record.
const MetricVMCount = domain.MetricVMCount

// Inventory lists the nodes and their resident VMs.
type Inventory interface {
	ListNodes() []*domain.Node
	ListVMsOnNode(nodeID string) []*domain.VirtualMachine
}

// Collector computes usage snapshots from an inventory.
type Collector struct {
	inventory Inventory
	logger    *zap.Logger
}

// NewCollector creates a collector.
func NewCollector(inventory Inventory, logger *zap.Logger) *Collector {
	return &Collector{
		inventory: inventory,
		logger:    logger.With(zap.String("component", "usage-collector")),
	}
}

// ComputeUsageSnapshot builds one record per node that allows VM migration and one per VM
// resident on those nodes. A node's allocation is the sum of its VMs' allocations; its
// measured load is what the node reports.
func (c *Collector) ComputeUsageSnapshot(ctx context.Context) (*migration.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes := c.inventory.ListNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes in inventory: %w", domain.ErrUnavailable)
	}

	snapshot := migration.NewSnapshot()
	skipped := 0
	for _, node := range nodes {
		if !migration.NodeAllowsVMMigration(node) {
			skipped++
			continue
		}

		vms := c.inventory.ListVMsOnNode(node.ID)
		vmLoads := lo.Map(vms, func(vm *domain.VirtualMachine, _ int) *domain.ResourceUsage {
			return domain.UsageOf(vm)
		})
		for _, u := range vmLoads {
			snapshot.VMLoads[u.Name] = u
		}

		snapshot.NodeLoads[node.ID] = nodeUsage(node, vmLoads)
	}

	c.logger.Debug("Computed usage snapshot",
		zap.Int("nodes", len(snapshot.NodeLoads)),
		zap.Int("vms", len(snapshot.VMLoads)),
		zap.Int("nodes_skipped", skipped),
	)

	return snapshot, nil
}

func nodeUsage(node *domain.Node, vmLoads []*domain.ResourceUsage) *domain.ResourceUsage {
	load := node.Status.Load
	return &domain.ResourceUsage{
		Name:           node.ID,
		AllocatedProcs: lo.SumBy(vmLoads, func(u *domain.ResourceUsage) int64 { return u.AllocatedProcs }),
		AllocatedMem:   lo.SumBy(vmLoads, func(u *domain.ResourceUsage) int64 { return u.AllocatedMem }),
		AllocatedSwap:  lo.SumBy(vmLoads, func(u *domain.ResourceUsage) int64 { return u.AllocatedSwap }),
		AllocatedDisk:  lo.SumBy(vmLoads, func(u *domain.ResourceUsage) int64 { return u.AllocatedDisk }),
		ProcLoad:       load.CPULoad,
		MemLoad:        load.MemoryUsedMiB,
		SwapLoad:       load.SwapUsedMiB,
		DiskLoad:       load.DiskUsedGiB,
		GenericMetrics: []domain.GenericMetric{{Name: MetricVMCount, Value: float64(len(vmLoads))}},
	}
}
