package scenariolog

import (
	"time"

	"justact/internal/evaluator"
	"justact/internal/interpreter"
	"justact/internal/scenario"
)

// Status is what happened to an issued command.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusRejected   Status = "rejected"
	StatusChecked    Status = "checked"
	StatusRolledBack Status = "rolled-back"
	StatusInspected  Status = "inspected"
	StatusFailed     Status = "failed"
)

// Outcome is the transcript's account of one command. Verdicts of checks
// live here and never on the entry timeline, so checking has no effect on
// snapshots or replay.
type Outcome struct {
	Status     Status              `json:"status"`
	Seq        scenario.Seq        `json:"seq"`
	SnapshotID string              `json:"snapshot_id"`
	Verdicts   []evaluator.Verdict `json:"verdicts,omitempty"`
	// Branch is the id of the branch a rollback discarded, if any.
	Branch int    `json:"branch,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Record is one line of the transcript.
type Record struct {
	Index      int                 `json:"index"`
	Command    interpreter.Command `json:"command"`
	Outcome    Outcome             `json:"outcome"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// Record appends a command and its outcome to the transcript.
func (l *Log) Record(cmd interpreter.Command, out Outcome) Record {
	r := Record{
		Index:      len(l.transcript),
		Command:    cmd,
		Outcome:    out,
		RecordedAt: l.now(),
	}
	l.transcript = append(l.transcript, r)
	return r
}

// Transcript returns a copy of every recorded command, in issue order.
func (l *Log) Transcript() []Record {
	return append([]Record(nil), l.transcript...)
}

// Commands returns the transcript's commands, in issue order.
func Commands(records []Record) []interpreter.Command {
	cmds := make([]interpreter.Command, len(records))
	for i, r := range records {
		cmds[i] = r.Command
	}
	return cmds
}
