package migration

import (
	"slices"

	"github.com/samber/lo"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

// Loads maps a node or VM ID to its usage record. Each ID appears at most once.
type Loads map[string]*domain.ResourceUsage

// Clone returns a deep copy of the map.
func (l Loads) Clone() Loads {
	clone := make(Loads, len(l))
	for name, usage := range l {
		clone[name] = usage.Clone()
	}
	return clone
}

// SortedNames returns the map keys in ascending order.
func (l Loads) SortedNames() []string {
	names := lo.Keys(l)
	slices.Sort(names)
	return names
}

// Total sums every record in name order.
func (l Loads) Total() domain.ResourceUsage {
	var total domain.ResourceUsage
	for _, name := range l.SortedNames() {
		total.Add(l[name])
	}
	return total
}

// Snapshot holds the usage maps of one planning pass.
type Snapshot struct {
	NodeLoads Loads
	VMLoads   Loads
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		NodeLoads: make(Loads),
		VMLoads:   make(Loads),
	}
}

// Clone returns a working copy that shares nothing with s.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		NodeLoads: s.NodeLoads.Clone(),
		VMLoads:   s.VMLoads.Clone(),
	}
}

// MoveUsage shifts vmUsage from the source node record to the destination node record.
// The sum of every node record is unchanged.
func (s *Snapshot) MoveUsage(vmUsage *domain.ResourceUsage, sourceNodeID, destinationNodeID string) {
	if src, ok := s.NodeLoads[sourceNodeID]; ok {
		src.Sub(vmUsage)
	}
	if dst, ok := s.NodeLoads[destinationNodeID]; ok {
		dst.Add(vmUsage)
	}
}

// Release drops both maps.
func (s *Snapshot) Release() {
	s.NodeLoads = nil
	s.VMLoads = nil
}
