// Package migration plans and executes VM migrations between hypervisor nodes.
//
// Planning is a pure function of a usage snapshot and a read-only view of the fleet: a
// policy strategy orders nodes and VMs, picks destinations and decides when it is done,
// while the planner applies each tentative move to a private working copy of the snapshot
// so that later decisions see the effect of earlier ones. Execution is a separate step that
// turns the resulting decisions into migration job submissions.
package migration

import (
	"context"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/domain"
)

// Fleet is a read-only view of the nodes, VMs and jobs known to the workload manager.
// Implementations must not block; planning runs inside a single scheduling iteration.
type Fleet interface {
	GetNode(id string) (*domain.Node, bool)
	GetVM(id string) (*domain.VirtualMachine, bool)
	ListVMsOnNode(nodeID string) []*domain.VirtualMachine
	ListVMs() []*domain.VirtualMachine
	GetJob(id string) (*domain.Job, bool)
}

// SnapshotProvider computes the per-node and per-VM usage maps for one planning pass.
type SnapshotProvider interface {
	ComputeUsageSnapshot(ctx context.Context) (*Snapshot, error)
}

// JobSubmitter requests that a VM be moved to a destination node. Success means a job was
// accepted, not that the move completed.
type JobSubmitter interface {
	SubmitMigrationJob(ctx context.Context, vm *domain.VirtualMachine, destinationNodeID, cause string) error
}

// Licenser gates whether the engine may run at all.
type Licenser interface {
	IsLicensedForVM() bool
}

// SchedulerMode tells whether the workload manager acts on its decisions.
type SchedulerMode string

const (
	SchedulerModeNormal  SchedulerMode = config.ModeNormal
	SchedulerModeMonitor SchedulerMode = config.ModeMonitor
	SchedulerModeTest    SchedulerMode = config.ModeTest
)

// ExecutionGate decides whether the executor is permitted to submit anything.
type ExecutionGate interface {
	SchedulerMode() SchedulerMode
	VMDecisionsDisabled() bool
}

// ConfigGate serves Licenser and ExecutionGate from static configuration.
type ConfigGate struct {
	cfg config.MigrationConfig
}

// NewConfigGate creates a gate backed by the migration configuration.
func NewConfigGate(cfg config.MigrationConfig) *ConfigGate {
	return &ConfigGate{cfg: cfg}
}

// IsLicensedForVM implements Licenser.
func (g *ConfigGate) IsLicensedForVM() bool {
	return g.cfg.Licensed
}

// SchedulerMode implements ExecutionGate.
func (g *ConfigGate) SchedulerMode() SchedulerMode {
	return SchedulerMode(g.cfg.SchedulerMode)
}

// VMDecisionsDisabled implements ExecutionGate.
func (g *ConfigGate) VMDecisionsDisabled() bool {
	return g.cfg.DecisionsDisabled
}
