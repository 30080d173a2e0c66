// Package scenariolog keeps the append-only history of a scenario: the
// timeline of applied deltas (from which any snapshot can be rebuilt), the
// branches discarded by rollback, and the transcript of every command a
// user issued together with its outcome.
package scenariolog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"justact/internal/interpreter"
	"justact/internal/scenario"
)

var (
	ErrNotMonotonic    = errors.New("log sequence is not monotonic")
	ErrReplayDiverged  = errors.New("replay diverged from recorded snapshot")
	ErrSeqOutOfRange   = errors.New("sequence out of range")
	ErrStoreAheadOfLog = errors.New("store is ahead of the log")
)

// Entry is one applied delta on the timeline.
type Entry struct {
	Seq        scenario.Seq        `json:"seq"`
	Command    interpreter.Command `json:"command"`
	Delta      scenario.Delta      `json:"-"`
	SnapshotID string              `json:"snapshot_id"`
	RecordedAt time.Time           `json:"recorded_at"`
}

type entryJSON struct {
	Seq        scenario.Seq        `json:"seq"`
	Command    interpreter.Command `json:"command"`
	Delta      json.RawMessage     `json:"delta"`
	SnapshotID string              `json:"snapshot_id"`
	RecordedAt time.Time           `json:"recorded_at"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	delta, err := scenario.EncodeDelta(e.Delta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryJSON{
		Seq:        e.Seq,
		Command:    e.Command,
		Delta:      delta,
		SnapshotID: e.SnapshotID,
		RecordedAt: e.RecordedAt,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delta, err := scenario.DecodeDelta(raw.Delta)
	if err != nil {
		return fmt.Errorf("entry %s: %w", raw.Seq, err)
	}
	*e = Entry{
		Seq:        raw.Seq,
		Command:    raw.Command,
		Delta:      delta,
		SnapshotID: raw.SnapshotID,
		RecordedAt: raw.RecordedAt,
	}
	return nil
}

// Branch is a run of entries discarded by a rollback. Its prefix up to From
// lives on Parent: the current timeline when Parent is 0, otherwise the
// branch a deeper rollback moved that prefix into. Replaying the prefix and
// then the branch reproduces the abandoned state.
type Branch struct {
	ID        int          `json:"id"`
	Parent    int          `json:"parent,omitempty"`
	From      scenario.Seq `json:"from"`
	Entries   []Entry      `json:"entries"`
	CreatedAt time.Time    `json:"created_at"`
}

// Head returns the last sequence on the branch.
func (b Branch) Head() scenario.Seq {
	if len(b.Entries) == 0 {
		return b.From
	}
	return b.Entries[len(b.Entries)-1].Seq
}

// Log is the scenario history. It is not safe for concurrent use; the
// session serialises access.
type Log struct {
	entries    []Entry
	branches   []Branch
	transcript []Record
	now        func() time.Time
	logger     *zap.Logger
}

// New returns an empty log. A nil clock means time.Now; a nil logger
// discards output.
func New(clock func() time.Time, logger *zap.Logger) *Log {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{now: clock, logger: logger}
}

// Head returns the sequence of the last entry, or NoSeq for an empty log.
func (l *Log) Head() scenario.Seq {
	if len(l.entries) == 0 {
		return scenario.NoSeq
	}
	return l.entries[len(l.entries)-1].Seq
}

// Len returns the number of entries on the timeline.
func (l *Log) Len() int { return len(l.entries) }

// Append records an applied delta. seq must directly follow Head.
func (l *Log) Append(seq scenario.Seq, cmd interpreter.Command, delta scenario.Delta, snapshotID string) (Entry, error) {
	if seq != l.Head()+1 {
		return Entry{}, fmt.Errorf("%w: append %s after %s", ErrNotMonotonic, seq, l.Head())
	}
	e := Entry{
		Seq:        seq,
		Command:    cmd,
		Delta:      delta,
		SnapshotID: snapshotID,
		RecordedAt: l.now(),
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Entries returns a copy of the timeline.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Entry returns the entry at seq.
func (l *Log) Entry(seq scenario.Seq) (Entry, bool) {
	if seq < 0 || int(seq) >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[seq], true
}

// Branches returns the discarded branches, oldest first.
func (l *Log) Branches() []Branch {
	return append([]Branch(nil), l.branches...)
}

// Branch returns the branch with the given id.
func (l *Log) Branch(id int) (Branch, bool) {
	for _, b := range l.branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// Truncate discards every entry after seq and keeps them as a new Branch.
// Truncating at Head discards nothing and records no branch.
func (l *Log) Truncate(seq scenario.Seq) (Branch, error) {
	if seq < scenario.NoSeq || seq > l.Head() {
		return Branch{}, fmt.Errorf("%w: truncate at %s, head %s", ErrSeqOutOfRange, seq, l.Head())
	}
	keep := int(seq) + 1
	if keep == len(l.entries) {
		return Branch{From: seq}, nil
	}
	b := Branch{
		ID:        len(l.branches) + 1,
		From:      seq,
		Entries:   append([]Entry(nil), l.entries[keep:]...),
		CreatedAt: l.now(),
	}
	// Branches forking above seq lose their prefix from the timeline; it
	// now continues on b.
	moved := 0
	for i := range l.branches {
		if l.branches[i].Parent == 0 && l.branches[i].From > seq {
			l.branches[i].Parent = b.ID
			moved++
		}
	}
	l.entries = l.entries[:keep:keep]
	l.branches = append(l.branches, b)
	l.logger.Debug("timeline truncated",
		zap.Int64("seq", int64(seq)),
		zap.Int("branch", b.ID),
		zap.Int("discarded", len(b.Entries)),
		zap.Int("reparented", moved))
	return b, nil
}

// Replay rebuilds a store from genesis by applying entries 0..to.
func (l *Log) Replay(to scenario.Seq) (*scenario.Store, error) {
	store := scenario.NewStore()
	if err := l.ReplayOnto(store, to); err != nil {
		return nil, err
	}
	return store, nil
}

// ReplayOnto applies the entries after store.Seq() up to and including to.
// Each re-derived snapshot digest must match the recorded one.
func (l *Log) ReplayOnto(store *scenario.Store, to scenario.Seq) error {
	if to < scenario.NoSeq || to > l.Head() {
		return fmt.Errorf("%w: replay to %s, head %s", ErrSeqOutOfRange, to, l.Head())
	}
	if store.Seq() > to {
		return fmt.Errorf("%w: store at %s, replay to %s", ErrStoreAheadOfLog, store.Seq(), to)
	}
	return replayEntries(store, l.entries[store.Seq()+1:to+1])
}

// ReplayBranch rebuilds the state at the tip of a discarded branch.
func (l *Log) ReplayBranch(id int) (*scenario.Store, error) {
	b, ok := l.Branch(id)
	if !ok {
		return nil, fmt.Errorf("unknown branch %d", id)
	}
	store, err := l.replayPrefix(b, 0)
	if err != nil {
		return nil, err
	}
	if err := replayEntries(store, b.Entries); err != nil {
		return nil, err
	}
	l.logger.Debug("branch replayed", zap.Int("branch", id), zap.Int64("head", int64(store.Seq())))
	return store, nil
}

// replayPrefix rebuilds the state at b.From by following the parent chain
// down to the current timeline.
func (l *Log) replayPrefix(b Branch, depth int) (*scenario.Store, error) {
	if depth > len(l.branches) {
		return nil, fmt.Errorf("branch %d: parent chain does not reach the timeline", b.ID)
	}
	if b.Parent == 0 {
		if b.From > l.Head() {
			return nil, fmt.Errorf("branch %d forks at %s beyond current head %s", b.ID, b.From, l.Head())
		}
		return l.Replay(b.From)
	}
	parent, ok := l.Branch(b.Parent)
	if !ok {
		return nil, fmt.Errorf("branch %d: unknown parent branch %d", b.ID, b.Parent)
	}
	if b.From < parent.From || b.From > parent.Head() {
		return nil, fmt.Errorf("branch %d forks at %s outside parent branch %d", b.ID, b.From, parent.ID)
	}
	store, err := l.replayPrefix(parent, depth+1)
	if err != nil {
		return nil, err
	}
	keep := int(b.From - parent.From)
	if err := replayEntries(store, parent.Entries[:keep]); err != nil {
		return nil, err
	}
	return store, nil
}

func replayEntries(store *scenario.Store, entries []Entry) error {
	for _, e := range entries {
		seq, err := store.Apply(e.Delta)
		if err != nil {
			return fmt.Errorf("replay entry %s: %w", e.Seq, err)
		}
		if seq != e.Seq {
			return fmt.Errorf("%w: entry %s applied at %s", ErrReplayDiverged, e.Seq, seq)
		}
		if got := store.Snapshot().Digest(); got != e.SnapshotID {
			return fmt.Errorf("%w: entry %s digest %s, recorded %s", ErrReplayDiverged, e.Seq, got, e.SnapshotID)
		}
	}
	return nil
}
