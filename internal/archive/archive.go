// Package archive keeps finished sessions in a SQLite database: the
// transcript, the timeline and the discarded branches, so that a session
// can be listed, inspected and replayed long after the process exited.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"justact/internal/scenario"
	"justact/internal/scenariolog"
	"justact/internal/session"
)

// ErrNotFound is returned by Load for an unknown session id.
var ErrNotFound = errors.New("session not archived")

// Session is one archived session.
type Session struct {
	ID         string
	Name       string
	Evaluator  string
	Head       scenario.Seq
	SnapshotID string
	SavedAt    time.Time
	Transcript []scenariolog.Record
	Entries    []scenariolog.Entry
	Branches   []scenariolog.Branch
}

// Summary is the listing view of an archived session.
type Summary struct {
	ID         string
	Name       string
	Evaluator  string
	Head       scenario.Seq
	SnapshotID string
	Commands   int
	SavedAt    time.Time
}

// Capture copies the state of a live session for archiving.
func Capture(s *session.Session) Session {
	st := s.State()
	return Session{
		ID:         s.ID(),
		Name:       s.Name(),
		Evaluator:  s.Evaluator(),
		Head:       st.Snapshot.Seq(),
		SnapshotID: st.Snapshot.Digest(),
		Transcript: st.Transcript,
		Entries:    st.Entries,
		Branches:   st.Branches,
	}
}

// Store is a SQLite session archive.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// Open opens or creates the archive at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Debug("archive opened", zap.String("path", path))
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes a session, replacing any earlier save under the same id.
func (s *Store) Save(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if sess.SavedAt.IsZero() {
		sess.SavedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sess.ID); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, name, evaluator, head, snapshot_id, commands, saved_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, sess.ID, sess.Name, sess.Evaluator, int64(sess.Head), sess.SnapshotID, len(sess.Transcript), sess.SavedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, r := range sess.Transcript {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", r.Index, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO transcript (session_id, idx, kind, status, seq, record) VALUES (?, ?, ?, ?, ?, ?)
`, sess.ID, r.Index, string(r.Command.Kind), string(r.Outcome.Status), int64(r.Outcome.Seq), string(data)); err != nil {
			return fmt.Errorf("insert record %d: %w", r.Index, err)
		}
	}

	for _, e := range sess.Entries {
		if err := insertEntry(ctx, tx, sess.ID, 0, e); err != nil {
			return err
		}
	}
	for _, b := range sess.Branches {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO branches (session_id, branch_id, parent_id, from_seq, created_at) VALUES (?, ?, ?, ?, ?)
`, sess.ID, b.ID, b.Parent, int64(b.From), b.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("insert branch %d: %w", b.ID, err)
		}
		for _, e := range b.Entries {
			if err := insertEntry(ctx, tx, sess.ID, b.ID, e); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Info("session archived",
		zap.String("session", sess.ID),
		zap.Int("commands", len(sess.Transcript)),
		zap.Int("branches", len(sess.Branches)))
	return nil
}

// insertEntry stores a timeline entry. Branch 0 is the main timeline.
func insertEntry(ctx context.Context, tx *sql.Tx, sessionID string, branch int, e scenariolog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.Seq, err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO entries (session_id, branch_id, seq, snapshot_id, entry) VALUES (?, ?, ?, ?, ?)
`, sessionID, branch, int64(e.Seq), e.SnapshotID, string(data)); err != nil {
		return fmt.Errorf("insert entry %s: %w", e.Seq, err)
	}
	return nil
}

// List returns every archived session, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, evaluator, head, snapshot_id, commands, saved_at
FROM sessions
ORDER BY saved_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			head    int64
			savedAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Evaluator, &head, &sum.SnapshotID, &sum.Commands, &savedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Head = scenario.Seq(head)
		sum.SavedAt = time.UnixMilli(savedAt).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Load reads an archived session back.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{ID: id}
	var head, savedAt int64
	err := s.db.QueryRowContext(ctx, `
SELECT name, evaluator, head, snapshot_id, saved_at FROM sessions WHERE id = ?
`, id).Scan(&sess.Name, &sess.Evaluator, &head, &sess.SnapshotID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Head = scenario.Seq(head)
	sess.SavedAt = time.UnixMilli(savedAt).UTC()

	if sess.Transcript, err = s.loadTranscript(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.loadEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Entries = entries[0]
	if sess.Branches, err = s.loadBranches(ctx, id, entries); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadTranscript(ctx context.Context, id string) ([]scenariolog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM transcript WHERE session_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []scenariolog.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var r scenariolog.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadEntries returns the entries of every timeline keyed by branch id.
func (s *Store) loadEntries(ctx context.Context, id string) (map[int][]scenariolog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT branch_id, entry FROM entries WHERE session_id = ? ORDER BY branch_id, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]scenariolog.Entry)
	for rows.Next() {
		var (
			branch int
			data   string
		)
		if err := rows.Scan(&branch, &data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var e scenariolog.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out[branch] = append(out[branch], e)
	}
	return out, rows.Err()
}

func (s *Store) loadBranches(ctx context.Context, id string, entries map[int][]scenariolog.Entry) ([]scenariolog.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT branch_id, parent_id, from_seq, created_at FROM branches WHERE session_id = ? ORDER BY branch_id`, id)
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	defer rows.Close()

	var out []scenariolog.Branch
	for rows.Next() {
		var (
			b         scenariolog.Branch
			from      int64
			createdAt int64
		)
		if err := rows.Scan(&b.ID, &b.Parent, &from, &createdAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.From = scenario.Seq(from)
		b.CreatedAt = time.UnixMilli(createdAt).UTC()
		b.Entries = entries[b.ID]
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes an archived session.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
