package domain

import (
	"time"
)

// VMState represents the power state of a virtual machine.
type VMState string

const (
	VMStatePending       VMState = "PENDING"
	VMStateCreating      VMState = "CREATING"
	VMStateStarting      VMState = "STARTING"
	VMStateRunning       VMState = "RUNNING"
	VMStateStopping      VMState = "STOPPING"
	VMStateStopped       VMState = "STOPPED"
	VMStatePaused        VMState = "PAUSED"
	VMStateSuspended     VMState = "SUSPENDED"
	VMStateMigrating     VMState = "MIGRATING"
	VMStateError         VMState = "ERROR"
	VMStateFailed        VMState = "FAILED"
	VMStateDeleting      VMState = "DELETING"
	VMStatePendingDelete VMState = "PENDING_DELETE"
	VMStateUnknown       VMState = "UNKNOWN"
)

// VirtualMachine represents a virtual machine in the system.
type VirtualMachine struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	ProjectID string            `json:"project_id"`
	Labels    map[string]string `json:"labels"`

	Spec   VMSpec   `json:"spec"`
	Status VMStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VMSpec represents the desired configuration of a virtual machine.
type VMSpec struct {
	CPU     CPUConfig    `json:"cpu"`
	Memory  MemoryConfig `json:"memory"`
	SwapMiB int64        `json:"swap_mib"`
	DiskGiB int64        `json:"disk_gib"`

	// MigrationDisabled pins the VM to its current node.
	MigrationDisabled bool `json:"migration_disabled"`
}

// CPUConfig represents CPU configuration for a VM.
type CPUConfig struct {
	Cores   int32 `json:"cores"`
	Sockets int32 `json:"sockets"`
	Threads int32 `json:"threads"`
}

// TotalCores returns the total number of vCPUs.
func (c CPUConfig) TotalCores() int32 {
	sockets := c.Sockets
	if sockets == 0 {
		sockets = 1
	}
	threads := c.Threads
	if threads == 0 {
		threads = 1
	}
	return c.Cores * sockets * threads
}

// MemoryConfig represents memory configuration for a VM.
type MemoryConfig struct {
	SizeMiB int64 `json:"size_mib"`
}

// VMStatus represents the current runtime status of a virtual machine.
type VMStatus struct {
	State     VMState       `json:"state"`
	NodeID    string        `json:"node_id,omitempty"`
	OS        string        `json:"os,omitempty"`
	Resources ResourceStats `json:"resources,omitempty"`

	// TrackingJobID is the job that owns the VM's lifecycle. A VM without an active
	// tracking job is not managed and must not be moved.
	TrackingJobID string `json:"tracking_job_id,omitempty"`

	// ActionJobIDs references jobs currently acting on the VM (migrations, snapshots...).
	ActionJobIDs []string `json:"action_job_ids,omitempty"`
}

// ResourceStats represents current measured resource consumption.
type ResourceStats struct {
	CPULoad       float64 `json:"cpu_load"`
	MemoryUsedMiB int64   `json:"memory_used_mib"`
	SwapUsedMiB   int64   `json:"swap_used_mib"`
	DiskUsedGiB   int64   `json:"disk_used_gib"`
}

// IsRunning returns true if the VM is in a running state.
func (vm *VirtualMachine) IsRunning() bool {
	return vm.Status.State == VMStateRunning
}

// IsInitializing returns true while the VM is still being provisioned.
func (vm *VirtualMachine) IsInitializing() bool {
	return vm.Status.State == VMStatePending || vm.Status.State == VMStateCreating
}

// IsBeingDestroyed returns true if the VM is being or about to be destroyed.
func (vm *VirtualMachine) IsBeingDestroyed() bool {
	return vm.Status.State == VMStateDeleting || vm.Status.State == VMStatePendingDelete
}

// ReportsNoUsage returns true when both compute and memory usage read zero.
func (vm *VirtualMachine) ReportsNoUsage() bool {
	return vm.Status.Resources.CPULoad == 0 && vm.Status.Resources.MemoryUsedMiB == 0
}
