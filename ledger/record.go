package ledger

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/invopop/jsonschema"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/workflow"
)

// Record is the ledger view of one node in one run
type Record struct {
	RunID      string     `json:"runId"`
	NodeID     string     `json:"nodeId"`
	Name       string     `json:"name,omitempty"`
	Kind       string     `json:"kind"`
	Level      int        `json:"level"`
	State      string     `json:"state"`
	Generated  bool       `json:"generated,omitempty"`
	Attempts   int        `json:"attempts"`
	ExitCode   int        `json:"exitCode"`
	Error      string     `json:"error,omitempty"`
	Category   string     `json:"category,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RecordKey is the ledger key of a node record. Runs sharing a ledger keep
// separate records.
func RecordKey(runID, nodeID string) string {
	return "run:" + runID + "/node:" + nodeID
}

// Register stores the initial Pending record of a node
func (l *Ledger) Register(runID string, n *workflow.Node, level int) error {
	return l.Put(RecordKey(runID, n.ID), Record{
		RunID:     runID,
		NodeID:    n.ID,
		Name:      n.Step.Name,
		Kind:      n.Step.Kind.String(),
		Level:     level,
		State:     n.State.String(),
		Generated: n.Step.Generated,
	})
}

// Transition stores a state change plus any extra field updates
func (l *Ledger) Transition(runID, nodeID string, state workflow.NodeState, fields map[string]any) error {
	update := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		update[k] = v
	}
	update["State"] = state.String()

	now := time.Now()
	switch state {
	case workflow.StateRunning:
		update["StartedAt"] = &now
	case workflow.StateSucceeded, workflow.StateFailed, workflow.StateSkipped:
		update["FinishedAt"] = &now
	}
	return l.UpdateFields(RecordKey(runID, nodeID), update)
}

// Finish stores the terminal outcome of an executed node
func (l *Ledger) Finish(runID string, state workflow.NodeState, res workflow.ExecutionResult) error {
	fields := map[string]any{
		"Attempts": res.Attempts,
		"ExitCode": res.ExitCode,
	}
	if res.Error != nil {
		fields["Error"] = res.Error.Error()
		fields["Category"] = string(flowerrors.CategoryOf(res.Error))
	}
	return l.Transition(runID, res.NodeID, state, fields)
}

// Record returns the record of nodeID in run runID
func (l *Ledger) Record(runID, nodeID string) (Record, error) {
	return Get[Record](l, RecordKey(runID, nodeID))
}

// Run returns the records of one run
func (l *Ledger) Run(runID string) []Record {
	var out []Record
	for _, rec := range l.Records() {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out
}

// Records returns every node record ordered by level, node ID, then run ID
func (l *Ledger) Records() []Record {
	var out []Record
	for _, key := range KeysByType[Record](l) {
		if rec, err := Get[Record](l, key); err == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// ByState returns the records currently in state
func (l *Ledger) ByState(state workflow.NodeState) []Record {
	var out []Record
	for _, rec := range l.Records() {
		if rec.State == state.String() {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot renders all records as indented JSON
func (l *Ledger) Snapshot() ([]byte, error) {
	records := l.Records()
	if records == nil {
		records = []Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// Schema is the JSON schema of Record
func Schema() *jsonschema.Schema {
	return TypeToSchema(reflect.TypeOf(Record{}))
}
