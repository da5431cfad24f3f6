package drs

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/limiquantix/vmmigrate/internal/migration"
)

// Decision is the serializable form of a planned migration.
type Decision struct {
	VMID              string `json:"vm_id"`
	VMName            string `json:"vm_name"`
	SourceNodeID      string `json:"source_node_id"`
	SourceNode        string `json:"source_node"`
	DestinationNodeID string `json:"destination_node_id"`
	DestinationNode   string `json:"destination_node"`
	Policy            string `json:"policy"`
}

// Report summarizes one pass.
type Report struct {
	ID         string     `json:"id"`
	Policy     string     `json:"policy"`
	Manual     bool       `json:"manual"`
	Executed   bool       `json:"executed"`
	Decisions  []Decision `json:"decisions"`
	Submitted  int        `json:"submitted"`
	Errors     []string   `json:"errors,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

func decisionsOf(queue *migration.DecisionQueue) []Decision {
	decisions := make([]Decision, 0, queue.Len())
	for _, d := range queue.Decisions() {
		decisions = append(decisions, Decision{
			VMID:              d.VM.ID,
			VMName:            d.VM.Name,
			SourceNodeID:      d.SourceNode.ID,
			SourceNode:        d.SourceNode.Hostname,
			DestinationNodeID: d.DestinationNode.ID,
			DestinationNode:   d.DestinationNode.Hostname,
			Policy:            string(d.Policy),
		})
	}
	return decisions
}

// WriteTable prints the decisions as an aligned table.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VM\tSOURCE\tDESTINATION\tPOLICY")
	for _, d := range r.Decisions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.VMName, d.SourceNode, d.DestinationNode, d.Policy)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d migration(s) planned by policy %s\n", len(r.Decisions), r.Policy)
	return err
}
