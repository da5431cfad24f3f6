package domain

import (
	"time"
)

// JobType identifies what a job does.
type JobType string

const (
	// JobTypeVMTracking is the long-lived job that owns a VM.
	JobTypeVMTracking JobType = "VM_TRACKING"
	// JobTypeVMMigrate moves a VM to another node.
	JobTypeVMMigrate JobType = "VM_MIGRATE"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateActive    JobState = "ACTIVE"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// Job is a unit of work owned by the workload manager's job subsystem.
type Job struct {
	ID    string   `json:"id"`
	Type  JobType  `json:"type"`
	State JobState `json:"state"`

	VMID              string `json:"vm_id,omitempty"`
	SourceNodeID      string `json:"source_node_id,omitempty"`
	DestinationNodeID string `json:"destination_node_id,omitempty"`
	Cause             string `json:"cause,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive returns true if the job is pending or running.
func (j *Job) IsActive() bool {
	return j.State == JobStatePending || j.State == JobStateActive
}

// MigrationDestination returns the destination node of an active or pending VM
// migration job. The second value is false for any other kind of job.
func (j *Job) MigrationDestination() (string, bool) {
	if j.Type != JobTypeVMMigrate || !j.IsActive() || j.DestinationNodeID == "" {
		return "", false
	}
	return j.DestinationNodeID, true
}
