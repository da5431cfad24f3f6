package domain

import (
	"time"
)

// NodePhase represents the lifecycle phase of a node.
type NodePhase string

const (
	NodePhaseUnknown     NodePhase = "UNKNOWN"
	NodePhasePending     NodePhase = "PENDING"
	NodePhaseReady       NodePhase = "READY"
	NodePhaseNotReady    NodePhase = "NOT_READY"
	NodePhaseMaintenance NodePhase = "MAINTENANCE"
	NodePhaseDraining    NodePhase = "DRAINING"
	NodePhaseError       NodePhase = "ERROR"
)

// Node represents a physical hypervisor host.
type Node struct {
	ID           string            `json:"id"`
	Hostname     string            `json:"hostname"`
	ManagementIP string            `json:"management_ip"`
	Labels       map[string]string `json:"labels"`
	ClusterID    string            `json:"cluster_id,omitempty"`

	Spec   NodeSpec   `json:"spec"`
	Status NodeStatus `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// NodeSpec represents the hardware capabilities of a node.
type NodeSpec struct {
	CPU       NodeCPUInfo         `json:"cpu"`
	Memory    NodeMemoryInfo      `json:"memory"`
	SwapMiB   int64               `json:"swap_mib"`
	DiskGiB   int64               `json:"disk_gib"`
	Role      NodeRole            `json:"role"`
	Migration NodeMigrationPolicy `json:"migration"`
}

// NodeCPUInfo represents CPU information for a node.
type NodeCPUInfo struct {
	Model          string `json:"model"`
	Sockets        int32  `json:"sockets"`
	CoresPerSocket int32  `json:"cores_per_socket"`
	ThreadsPerCore int32  `json:"threads_per_core"`
}

// TotalCores returns the total number of CPU cores.
func (c NodeCPUInfo) TotalCores() int32 {
	return c.Sockets * c.CoresPerSocket
}

// NodeMemoryInfo represents memory information for a node.
type NodeMemoryInfo struct {
	TotalMiB       int64 `json:"total_mib"`
	AllocatableMiB int64 `json:"allocatable_mib"`
}

// NodeRole represents the role of a node in the cluster.
type NodeRole struct {
	// Compute marks the node as hypervisor-capable.
	Compute      bool `json:"compute"`
	Storage      bool `json:"storage"`
	ControlPlane bool `json:"control_plane"`
}

// NodeMigrationPolicy holds the administrative migration flags of a node.
type NodeMigrationPolicy struct {
	// Excluded nodes never take part in VM migration, neither as source nor as destination.
	Excluded bool `json:"excluded"`

	// TrustIdleMonitoring accepts a node reporting zero CPU load and unchanged available
	// memory. Without it such a node is treated as having broken monitoring.
	TrustIdleMonitoring bool `json:"trust_idle_monitoring"`
}

// NodeStatus represents the current status of a node.
type NodeStatus struct {
	Phase NodePhase   `json:"phase"`
	Load  NodeLoad    `json:"load"`
	Info  *SystemInfo `json:"system_info,omitempty"`
}

// NodeLoad is the measured load reported by the node agent.
type NodeLoad struct {
	CPULoad                    float64 `json:"cpu_load"`
	MemoryUsedMiB              int64   `json:"memory_used_mib"`
	SwapUsedMiB                int64   `json:"swap_used_mib"`
	DiskUsedGiB                int64   `json:"disk_used_gib"`
	AvailableMemoryMiB         int64   `json:"available_memory_mib"`
	PreviousAvailableMemoryMiB int64   `json:"previous_available_memory_mib"`
}

// SystemInfo represents system information about the node.
type SystemInfo struct {
	OS                string `json:"os"`
	Kernel            string `json:"kernel"`
	Architecture      string `json:"architecture"`
	HypervisorVersion string `json:"hypervisor_version"`
	AgentVersion      string `json:"agent_version"`
}

// IsReady returns true if the node is ready to accept VMs.
func (n *Node) IsReady() bool {
	return n.Status.Phase == NodePhaseReady
}

// IsHypervisor returns true if the node can run VMs.
func (n *Node) IsHypervisor() bool {
	return n.Spec.Role.Compute
}

// MonitoringLooksBroken reports a node that claims to be perfectly idle: zero CPU load and
// no change in available memory since the previous sample.
func (n *Node) MonitoringLooksBroken() bool {
	load := n.Status.Load
	return load.CPULoad == 0 && load.AvailableMemoryMiB == load.PreviousAvailableMemoryMiB
}
