package migration

import (
	"github.com/limiquantix/vmmigrate/internal/domain"
)

// NodeAllowsVMMigration returns true if VMs may be moved to or from the node.
func NodeAllowsVMMigration(node *domain.Node) bool {
	if node == nil || !node.IsHypervisor() {
		return false
	}
	if node.Spec.Migration.Excluded {
		return false
	}
	if !node.Spec.Migration.TrustIdleMonitoring && node.MonitoringLooksBroken() {
		return false
	}

	switch node.Status.Phase {
	case domain.NodePhaseReady, domain.NodePhaseMaintenance, domain.NodePhaseDraining:
		return true
	default:
		return false
	}
}

// Eligibility decides which VMs may be moved.
type Eligibility struct {
	fleet   Fleet
	tracker *Tracker
}

// NewEligibility creates the VM eligibility checker.
func NewEligibility(fleet Fleet, tracker *Tracker) *Eligibility {
	return &Eligibility{fleet: fleet, tracker: tracker}
}

// VMIsEligibleForMigration returns true if the VM may be moved in this pass.
func (e *Eligibility) VMIsEligibleForMigration(vm *domain.VirtualMachine, isManual bool) bool {
	return e.IneligibleReason(vm, isManual) == ""
}

// IneligibleReason returns why the VM cannot be moved, or an empty string if it can.
// Manual passes skip the usage checks.
func (e *Eligibility) IneligibleReason(vm *domain.VirtualMachine, isManual bool) string {
	switch {
	case vm.Spec.MigrationDisabled:
		return "migration disabled"
	case vm.Status.State == domain.VMStateMigrating || e.tracker.IsMigrating(vm):
		return "already migrating"
	case vm.IsInitializing():
		return "initializing"
	case vm.IsBeingDestroyed():
		return "being destroyed"
	case vm.Status.OS == "":
		return "no operating system"
	case !e.hasActiveTrackingJob(vm):
		return "no active tracking job"
	}

	if !isManual {
		if vm.Status.State == domain.VMStateUnknown {
			return "state unknown"
		}
		if vm.ReportsNoUsage() {
			return "reports no usage"
		}
	}

	return ""
}

func (e *Eligibility) hasActiveTrackingJob(vm *domain.VirtualMachine) bool {
	if vm.Status.TrackingJobID == "" {
		return false
	}
	job, ok := e.fleet.GetJob(vm.Status.TrackingJobID)
	return ok && job.Type == domain.JobTypeVMTracking && job.IsActive()
}
