package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

// Fleet groups the node, VM and job repositories and serves the read-only lookups the
// planner needs. Every returned object is a copy.
type Fleet struct {
	nodes *NodeRepository
	vms   *VMRepository
	jobs  *JobRepository
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{
		nodes: NewNodeRepository(),
		vms:   NewVMRepository(),
		jobs:  NewJobRepository(),
	}
}

// Nodes returns the node repository.
func (f *Fleet) Nodes() *NodeRepository { return f.nodes }

// VMs returns the VM repository.
func (f *Fleet) VMs() *VMRepository { return f.vms }

// Jobs returns the job repository.
func (f *Fleet) Jobs() *JobRepository { return f.jobs }

// Replace swaps the whole inventory, as loaded from an external store. All three
// repositories change under their locks at once, so a single lookup never mixes
// generations. Lookups spanning several calls are consistent only when they are
// serialized with Replace, as DRS passes are.
func (f *Fleet) Replace(nodes []*domain.Node, vms []*domain.VirtualMachine, jobs []*domain.Job) {
	jobData, nodeData, vmData := jobIndex(jobs), nodeIndex(nodes), vmIndex(vms)

	f.jobs.mu.Lock()
	f.nodes.mu.Lock()
	f.vms.mu.Lock()
	f.jobs.data, f.nodes.data, f.vms.data = jobData, nodeData, vmData
	f.vms.mu.Unlock()
	f.nodes.mu.Unlock()
	f.jobs.mu.Unlock()
}

// GetNode returns a node by ID.
func (f *Fleet) GetNode(id string) (*domain.Node, bool) {
	return f.nodes.lookup(id)
}

// ListNodes returns every node in ID order.
func (f *Fleet) ListNodes() []*domain.Node {
	return f.nodes.all()
}

// GetVM returns a VM by ID.
func (f *Fleet) GetVM(id string) (*domain.VirtualMachine, bool) {
	return f.vms.lookup(id)
}

// ListVMsOnNode returns the VMs resident on a node in ID order.
func (f *Fleet) ListVMsOnNode(nodeID string) []*domain.VirtualMachine {
	return f.vms.onNode(nodeID)
}

// ListVMs returns every VM in ID order.
func (f *Fleet) ListVMs() []*domain.VirtualMachine {
	vms, _ := f.vms.List(context.Background())
	return vms
}

// GetJob returns a job by ID.
func (f *Fleet) GetJob(id string) (*domain.Job, bool) {
	return f.jobs.lookup(id)
}

// SubmitMigrationJob records an active migration job for the VM and attaches it to the VM's
// action jobs.
func (f *Fleet) SubmitMigrationJob(ctx context.Context, vm *domain.VirtualMachine, destinationNodeID, cause string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	current, ok := f.vms.lookup(vm.ID)
	if !ok {
		return fmt.Errorf("vm %s: %w", vm.ID, domain.ErrNotFound)
	}
	if _, ok := f.nodes.lookup(destinationNodeID); !ok {
		return fmt.Errorf("destination node %s: %w", destinationNodeID, domain.ErrNotFound)
	}
	if current.Status.NodeID == destinationNodeID {
		return fmt.Errorf("vm %s already runs on node %s: %w", vm.ID, destinationNodeID, domain.ErrInvalidArgument)
	}

	job, err := f.jobs.Create(ctx, &domain.Job{
		Type:              domain.JobTypeVMMigrate,
		State:             domain.JobStateActive,
		VMID:              vm.ID,
		SourceNodeID:      current.Status.NodeID,
		DestinationNodeID: destinationNodeID,
		Cause:             cause,
	})
	if err != nil {
		return fmt.Errorf("failed to create migration job: %w", err)
	}

	return f.vms.mutate(vm.ID, func(stored *domain.VirtualMachine) {
		stored.Status.ActionJobIDs = append(stored.Status.ActionJobIDs, job.ID)
	})
}

// CompleteMigration finishes an active migration job: the VM moves to the destination node
// and the job is detached from it.
func (f *Fleet) CompleteMigration(ctx context.Context, jobID string) error {
	job, ok := f.jobs.lookup(jobID)
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	dest, ok := job.MigrationDestination()
	if !ok {
		return fmt.Errorf("job %s is not an active migration: %w", jobID, domain.ErrConflict)
	}

	if err := f.vms.mutate(job.VMID, func(vm *domain.VirtualMachine) {
		vm.Status.NodeID = dest
		vm.Status.ActionJobIDs = slices.DeleteFunc(vm.Status.ActionJobIDs, func(id string) bool {
			return id == jobID
		})
	}); err != nil {
		return fmt.Errorf("vm %s: %w", job.VMID, err)
	}

	return f.jobs.UpdateState(ctx, jobID, domain.JobStateCompleted)
}

// ActiveMigrations returns the active migration jobs in creation order.
func (f *Fleet) ActiveMigrations(ctx context.Context) []*domain.Job {
	jobs, _ := f.jobs.List(ctx)
	return slices.DeleteFunc(jobs, func(j *domain.Job) bool {
		_, ok := j.MigrationDestination()
		return !ok
	})
}

// SetNodeLoad records a node load sample.
func (f *Fleet) SetNodeLoad(ctx context.Context, nodeID string, load domain.NodeLoad) error {
	return f.nodes.UpdateLoad(ctx, nodeID, load)
}

// SetVMResources records a VM usage sample.
func (f *Fleet) SetVMResources(ctx context.Context, vmID string, stats domain.ResourceStats) error {
	return f.vms.mutate(vmID, func(vm *domain.VirtualMachine) {
		vm.Status.Resources = stats
	})
}

// AddVM stores a VM together with the active tracking job that owns it.
func (f *Fleet) AddVM(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}

	tracking, err := f.jobs.Create(ctx, &domain.Job{
		Type:      domain.JobTypeVMTracking,
		State:     domain.JobStateActive,
		VMID:      vm.ID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking job: %w", err)
	}

	vm.Status.TrackingJobID = tracking.ID
	created, err := f.vms.Create(ctx, vm)
	if err != nil {
		_ = f.jobs.UpdateState(ctx, tracking.ID, domain.JobStateCancelled)
		return nil, err
	}
	return created, nil
}
