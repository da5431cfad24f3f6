package migration

import (
	"github.com/limiquantix/vmmigrate/internal/domain"
)

// NodeCandidate pairs a node with its usage record in the working snapshot. The usage is
// shared with the snapshot, so moves applied during planning are visible through it.
type NodeCandidate struct {
	Node  *domain.Node
	Usage *domain.ResourceUsage
}

// VMCandidate pairs a VM with its usage record in the working snapshot.
type VMCandidate struct {
	VM    *domain.VirtualMachine
	Usage *domain.ResourceUsage
}

// BuildNodeCandidates returns one candidate per node record whose node still exists and
// allows migration, in node ID order.
func BuildNodeCandidates(fleet Fleet, nodeLoads Loads) ([]NodeCandidate, error) {
	if len(nodeLoads) == 0 {
		return nil, ErrNoCandidates
	}

	candidates := make([]NodeCandidate, 0, len(nodeLoads))
	for _, id := range nodeLoads.SortedNames() {
		node, ok := fleet.GetNode(id)
		if !ok || !NodeAllowsVMMigration(node) {
			continue
		}
		candidates = append(candidates, NodeCandidate{Node: node, Usage: nodeLoads[id]})
	}
	return candidates, nil
}

// BuildVMCandidates returns one candidate per VM resident on the node. A VM with no usage
// record gets an empty one.
func BuildVMCandidates(fleet Fleet, node *domain.Node, vmLoads Loads) []VMCandidate {
	residents := fleet.ListVMsOnNode(node.ID)
	candidates := make([]VMCandidate, 0, len(residents))
	for _, vm := range residents {
		usage, ok := vmLoads[vm.ID]
		if !ok {
			usage = &domain.ResourceUsage{Name: vm.ID}
		}
		candidates = append(candidates, VMCandidate{VM: vm, Usage: usage})
	}
	return candidates
}
