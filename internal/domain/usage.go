package domain

// GenericMetric is a named numeric sample attached to a usage record.
type GenericMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ResourceUsage is the resource posture of a node or a VM at a point in time.
//
// Node and VM usage share this one shape so that moving a VM between nodes is plain
// addition and subtraction. Allocated* fields are capacity committed to (or by) the
// entity; *Load fields are measured utilization.
type ResourceUsage struct {
	Name string `json:"name"`

	AllocatedProcs int64 `json:"allocated_procs"`
	AllocatedMem   int64 `json:"allocated_mem"`
	AllocatedSwap  int64 `json:"allocated_swap"`
	AllocatedDisk  int64 `json:"allocated_disk"`

	ProcLoad float64 `json:"proc_load"`
	MemLoad  int64   `json:"mem_load"`
	SwapLoad int64   `json:"swap_load"`
	DiskLoad int64   `json:"disk_load"`

	GenericMetrics []GenericMetric `json:"generic_metrics,omitempty"`
}

// Add accumulates other into u. Generic metrics are matched by name; metrics only present
// in other are appended in their original order.
func (u *ResourceUsage) Add(other *ResourceUsage) {
	u.combine(other, 1)
}

// Sub removes other from u. Generic metrics are matched by name.
func (u *ResourceUsage) Sub(other *ResourceUsage) {
	u.combine(other, -1)
}

func (u *ResourceUsage) combine(other *ResourceUsage, sign int64) {
	if other == nil {
		return
	}

	u.AllocatedProcs += sign * other.AllocatedProcs
	u.AllocatedMem += sign * other.AllocatedMem
	u.AllocatedSwap += sign * other.AllocatedSwap
	u.AllocatedDisk += sign * other.AllocatedDisk

	u.ProcLoad += float64(sign) * other.ProcLoad
	u.MemLoad += sign * other.MemLoad
	u.SwapLoad += sign * other.SwapLoad
	u.DiskLoad += sign * other.DiskLoad

	for _, m := range other.GenericMetrics {
		idx := u.metricIndex(m.Name)
		if idx < 0 {
			u.GenericMetrics = append(u.GenericMetrics, GenericMetric{Name: m.Name})
			idx = len(u.GenericMetrics) - 1
		}
		u.GenericMetrics[idx].Value += float64(sign) * m.Value
	}
}

func (u *ResourceUsage) metricIndex(name string) int {
	for i, m := range u.GenericMetrics {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Metric returns the value of a named generic metric.
func (u *ResourceUsage) Metric(name string) (float64, bool) {
	if idx := u.metricIndex(name); idx >= 0 {
		return u.GenericMetrics[idx].Value, true
	}
	return 0, false
}

// Clone returns a deep copy of u.
func (u *ResourceUsage) Clone() *ResourceUsage {
	if u == nil {
		return nil
	}
	clone := *u
	clone.GenericMetrics = append([]GenericMetric(nil), u.GenericMetrics...)
	return &clone
}

// IsEmpty returns true if nothing is allocated and nothing is measured.
func (u *ResourceUsage) IsEmpty() bool {
	return u.AllocatedProcs == 0 && u.AllocatedMem == 0 && u.AllocatedSwap == 0 && u.AllocatedDisk == 0 &&
		u.ProcLoad == 0 && u.MemLoad == 0 && u.SwapLoad == 0 && u.DiskLoad == 0
}

// MetricVMCount is the generic metric counting the VMs behind a usage record.
const MetricVMCount = "vm_count"

// UsageOf returns the usage record of a single VM, built from its spec and reported stats.
func UsageOf(vm *VirtualMachine) *ResourceUsage {
	return &ResourceUsage{
		Name:           vm.ID,
		AllocatedProcs: int64(vm.Spec.CPU.TotalCores()),
		AllocatedMem:   vm.Spec.Memory.SizeMiB,
		AllocatedSwap:  vm.Spec.SwapMiB,
		AllocatedDisk:  vm.Spec.DiskGiB,
		ProcLoad:       vm.Status.Resources.CPULoad,
		MemLoad:        vm.Status.Resources.MemoryUsedMiB,
		SwapLoad:       vm.Status.Resources.SwapUsedMiB,
		DiskLoad:       vm.Status.Resources.DiskUsedGiB,
		GenericMetrics: []GenericMetric{{Name: MetricVMCount, Value: 1}},
	}
}
