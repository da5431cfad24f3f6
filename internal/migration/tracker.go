package migration

import (
	"github.com/limiquantix/vmmigrate/internal/domain"
)

// Tracker answers questions about in-flight migrations: those already running as jobs and
// those queued earlier in the current planning pass.
type Tracker struct {
	fleet Fleet
}

// NewTracker creates a tracker over the fleet.
func NewTracker(fleet Fleet) *Tracker {
	return &Tracker{fleet: fleet}
}

// liveDestination scans the VM's action jobs for an active migration.
func (t *Tracker) liveDestination(vm *domain.VirtualMachine) (string, bool) {
	for _, jobID := range vm.Status.ActionJobIDs {
		job, ok := t.fleet.GetJob(jobID)
		if !ok {
			continue
		}
		if dest, ok := job.MigrationDestination(); ok {
			return dest, true
		}
	}
	return "", false
}

// IsMigrating returns true if an active migration job exists for the VM.
func (t *Tracker) IsMigrating(vm *domain.VirtualMachine) bool {
	_, ok := t.liveDestination(vm)
	return ok
}

// GetCurrentDestination returns the node the VM is heading to, preferring a live job over
// a decision queued in this pass. The queue may be nil.
func (t *Tracker) GetCurrentDestination(vm *domain.VirtualMachine, queue *DecisionQueue) (string, bool) {
	if dest, ok := t.liveDestination(vm); ok {
		return dest, true
	}
	if d, ok := queue.Lookup(vm.ID); ok {
		return d.DestinationNode.ID, true
	}
	return "", false
}

// GetVMsMigratingToNode returns every VM with a live or queued migration towards the node.
// With a nil queue only live migrations are considered.
func (t *Tracker) GetVMsMigratingToNode(nodeID string, queue *DecisionQueue) []*domain.VirtualMachine {
	var inbound []*domain.VirtualMachine
	seen := make(map[string]struct{})

	for _, vm := range t.fleet.ListVMs() {
		if dest, ok := t.liveDestination(vm); ok && dest == nodeID {
			inbound = append(inbound, vm)
			seen[vm.ID] = struct{}{}
		}
	}

	for _, d := range queue.Decisions() {
		if d.DestinationNode.ID != nodeID {
			continue
		}
		if _, dup := seen[d.VM.ID]; dup {
			continue
		}
		inbound = append(inbound, d.VM)
		seen[d.VM.ID] = struct{}{}
	}

	return inbound
}

// ListMigratingVMs returns every VM with an active migration job.
func (t *Tracker) ListMigratingVMs() []*domain.VirtualMachine {
	var migrating []*domain.VirtualMachine
	for _, vm := range t.fleet.ListVMs() {
		if t.IsMigrating(vm) {
			migrating = append(migrating, vm)
		}
	}
	return migrating
}
