package migration

import (
	"fmt"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

// MigrationDecision is one planned move. It is never modified after being queued.
type MigrationDecision struct {
	VM              *domain.VirtualMachine
	SourceNode      *domain.Node
	DestinationNode *domain.Node
	Policy          PolicyID
}

// Cause returns the human-readable reason attached to the submitted job.
func (d MigrationDecision) Cause() string {
	return fmt.Sprintf("%s policy: move %s from %s to %s",
		d.Policy, d.VM.Name, d.SourceNode.Hostname, d.DestinationNode.Hostname)
}

// DecisionQueue is the insertion-ordered list of decisions of one planning pass.
// A VM appears at most once.
type DecisionQueue struct {
	decisions []MigrationDecision
	byVM      map[string]int
}

// NewDecisionQueue creates an empty queue.
func NewDecisionQueue() *DecisionQueue {
	return &DecisionQueue{byVM: make(map[string]int)}
}

// Add appends a decision. A second decision for the same VM is rejected.
func (q *DecisionQueue) Add(d MigrationDecision) error {
	if _, exists := q.byVM[d.VM.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDecision, d.VM.ID)
	}
	q.byVM[d.VM.ID] = len(q.decisions)
	q.decisions = append(q.decisions, d)
	return nil
}

// Len returns the number of queued decisions. A nil queue is empty.
func (q *DecisionQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.decisions)
}

// Decisions returns a copy of the queued decisions in insertion order.
func (q *DecisionQueue) Decisions() []MigrationDecision {
	if q == nil {
		return nil
	}
	return append([]MigrationDecision(nil), q.decisions...)
}

// Lookup returns the decision queued for a VM.
func (q *DecisionQueue) Lookup(vmID string) (MigrationDecision, bool) {
	if q == nil {
		return MigrationDecision{}, false
	}
	idx, ok := q.byVM[vmID]
	if !ok {
		return MigrationDecision{}, false
	}
	return q.decisions[idx], true
}

// IsSource reports whether any queued decision moves a VM away from the node.
func (q *DecisionQueue) IsSource(nodeID string) bool {
	for _, d := range q.Decisions() {
		if d.SourceNode.ID == nodeID {
			return true
		}
	}
	return false
}

// IsDestination reports whether any queued decision moves a VM onto the node.
func (q *DecisionQueue) IsDestination(nodeID string) bool {
	for _, d := range q.Decisions() {
		if d.DestinationNode.ID == nodeID {
			return true
		}
	}
	return false
}

// Release drops the queue storage.
func (q *DecisionQueue) Release() {
	if q == nil {
		return
	}
	q.decisions = nil
	q.byVM = make(map[string]int)
}
