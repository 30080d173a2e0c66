// Package session drives a scenario: it owns the entity store and the
// scenario log, feeds every command through the interpreter, and sends
// check commands to the evaluation bridge.
//
// The flow for one command:
//
//	Command → Interpreter → Delta → Store.Apply → Log.Append → Outcome
//
// Control commands skip the delta step. check and check-all read an
// immutable snapshot, rollback rebuilds the store from the log, and inspect
// only reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"justact/internal/evaluator"
	"justact/internal/interpreter"
	"justact/internal/logging"
	"justact/internal/scenario"
	"justact/internal/scenariolog"
)

// slowReplay is the rollback replay time above which a warning is logged.
const slowReplay = 250 * time.Millisecond

// ErrSessionClosed is returned by every call after the session was closed,
// either explicitly or by a fatal evaluator failure.
var ErrSessionClosed = errors.New("session closed")

// Config holds the dependencies of a Session.
type Config struct {
	// ID identifies the session in logs and archives. Empty means a new
	// random id.
	ID   string
	Name string
	// Bridge evaluates check commands. Nil means a bridge with no backend,
	// which answers every check with an unavailable verdict.
	Bridge  *evaluator.Bridge
	Logging *logging.Registry
	// Clock stamps log entries and transcript records. Nil means time.Now.
	Clock func() time.Time
}

// Outcome is what Execute reports back to the driver.
type Outcome struct {
	Command interpreter.Command
	Status  scenariolog.Status
	// Seq is the store sequence after the command.
	Seq      scenario.Seq
	Snapshot *scenario.Snapshot
	// Verdicts is set for check and check-all, in policy load order.
	Verdicts []evaluator.Verdict
	// Branch is set by a rollback that discarded entries.
	Branch *scenariolog.Branch
	// Events is set by inspect.
	Events []scenario.Event
}

// Session is one running scenario. All methods are safe for concurrent use;
// commands are processed one at a time in call order.
type Session struct {
	mu sync.Mutex

	id     string
	name   string
	store  *scenario.Store
	log    *scenariolog.Log
	bridge *evaluator.Bridge

	logger      *zap.Logger
	cmdLogger   *zap.Logger
	storeLogger *zap.Logger

	closed error
}

// New starts an empty scenario.
func New(cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	bridge := cfg.Bridge
	if bridge == nil {
		bridge = evaluator.NewBridge(nil, evaluator.Options{})
	}
	logger := cfg.Logging.For(logging.CategorySession).With(zap.String("session", id))
	logger.Debug("session started", zap.String("name", cfg.Name), zap.String("evaluator", bridge.Evaluator()))

	return &Session{
		id:          id,
		name:        cfg.Name,
		store:       scenario.NewStore(),
		log:         scenariolog.New(cfg.Clock, cfg.Logging.For(logging.CategoryLog).With(zap.String("session", id))),
		bridge:      bridge,
		logger:      logger,
		cmdLogger:   cfg.Logging.For(logging.CategoryInterpreter).With(zap.String("session", id)),
		storeLogger: cfg.Logging.For(logging.CategoryStore).With(zap.String("session", id)),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Name returns the scenario name given at creation.
func (s *Session) Name() string { return s.name }

// Evaluator returns the name of the evaluation backend.
func (s *Session) Evaluator() string { return s.bridge.Evaluator() }

// Execute runs one command. Rejected commands leave the store and log
// untouched and are returned as errors (*interpreter.CommandError or
// *scenario.InvariantViolation). Evaluator failures are not errors: they
// come back as verdicts of KindError. Only a fatal evaluator failure is
// returned, and it closes the session.
//
// Every command issued to an open session is recorded in the transcript,
// including rejected ones.
func (s *Session) Execute(ctx context.Context, cmd interpreter.Command) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed != nil {
		return Outcome{}, s.closedErr()
	}

	switch cmd.Kind {
	case interpreter.KindCheck:
		return s.check(ctx, cmd)
	case interpreter.KindCheckAll:
		return s.checkAll(ctx, cmd)
	case interpreter.KindRollback:
		return s.rollback(cmd)
	case interpreter.KindInspect:
		return s.inspect(cmd), nil
	}
	return s.apply(cmd)
}

func (s *Session) apply(cmd interpreter.Command) (Outcome, error) {
	delta, err := interpreter.Interpret(s.store, cmd)
	if err != nil {
		return s.reject(cmd, err)
	}
	seq, err := s.store.Apply(delta)
	if err != nil {
		return s.reject(cmd, err)
	}
	snap := s.store.Snapshot()
	if _, err := s.log.Append(seq, cmd, delta, snap.Digest()); err != nil {
		// The store and log advance together under the session lock, so
		// this only fires on a programming error.
		return Outcome{}, fmt.Errorf("record %s: %w", cmd.Kind, err)
	}
	s.storeLogger.Debug("applied",
		zap.String("command", cmd.String()),
		zap.Int64("seq", int64(seq)),
		zap.String("snapshot", snap.Digest()))

	out := Outcome{Command: cmd, Status: scenariolog.StatusApplied, Seq: seq, Snapshot: snap}
	s.record(out, "")
	return out, nil
}

func (s *Session) check(ctx context.Context, cmd interpreter.Command) (Outcome, error) {
	snap := s.store.Snapshot()
	policy, err := interpreter.ActivePolicy(snap, cmd)
	if err != nil {
		return s.reject(cmd, err)
	}
	verdict, err := s.bridge.Evaluate(ctx, snap, policy)
	if err != nil {
		return s.fatal(cmd, snap, err)
	}
	return s.checked(cmd, snap, []evaluator.Verdict{verdict}), nil
}

func (s *Session) checkAll(ctx context.Context, cmd interpreter.Command) (Outcome, error) {
	snap := s.store.Snapshot()
	policies, err := interpreter.LoadedPolicies(snap, cmd)
	if err != nil {
		return s.reject(cmd, err)
	}
	verdicts, err := s.bridge.EvaluateAll(ctx, snap, policies)
	if err != nil {
		return s.fatal(cmd, snap, err)
	}
	return s.checked(cmd, snap, verdicts), nil
}

func (s *Session) checked(cmd interpreter.Command, snap *scenario.Snapshot, verdicts []evaluator.Verdict) Outcome {
	for _, v := range verdicts {
		s.logger.Info("verdict",
			zap.String("policy", v.Policy),
			zap.Int64("seq", int64(v.Seq)),
			zap.String("kind", string(v.Kind)))
	}
	out := Outcome{
		Command:  cmd,
		Status:   scenariolog.StatusChecked,
		Seq:      snap.Seq(),
		Snapshot: snap,
		Verdicts: verdicts,
	}
	s.record(out, "")
	return out
}

func (s *Session) rollback(cmd interpreter.Command) (Outcome, error) {
	target, err := interpreter.RollbackTarget(s.store, cmd)
	if err != nil {
		return s.reject(cmd, err)
	}

	timer := logging.StartTimer(s.logger, "rollback replay")
	store, err := s.log.Replay(target)
	timer.StopWithThreshold(slowReplay)
	if err != nil {
		return s.reject(cmd, err)
	}
	branch, err := s.log.Truncate(target)
	if err != nil {
		return s.reject(cmd, err)
	}
	s.store = store

	snap := store.Snapshot()
	out := Outcome{Command: cmd, Status: scenariolog.StatusRolledBack, Seq: target, Snapshot: snap}
	if len(branch.Entries) > 0 {
		out.Branch = &branch
	}
	s.logger.Info("rolled back",
		zap.Int64("seq", int64(target)),
		zap.Int("branch", branch.ID),
		zap.Int("discarded", len(branch.Entries)))
	s.record(out, "")
	return out, nil
}

func (s *Session) inspect(cmd interpreter.Command) Outcome {
	snap := s.store.Snapshot()
	out := Outcome{
		Command:  cmd,
		Status:   scenariolog.StatusInspected,
		Seq:      snap.Seq(),
		Snapshot: snap,
		Events:   snap.Events(),
	}
	s.record(out, "")
	return out
}

func (s *Session) reject(cmd interpreter.Command, err error) (Outcome, error) {
	snap := s.store.Snapshot()
	s.cmdLogger.Info("rejected", zap.String("command", cmd.String()), zap.Error(err))
	out := Outcome{Command: cmd, Status: scenariolog.StatusRejected, Seq: snap.Seq(), Snapshot: snap}
	s.record(out, err.Error())
	return out, err
}

func (s *Session) fatal(cmd interpreter.Command, snap *scenario.Snapshot, err error) (Outcome, error) {
	s.logger.Error("closing session after fatal evaluator failure", zap.Error(err))
	out := Outcome{Command: cmd, Status: scenariolog.StatusFailed, Seq: snap.Seq(), Snapshot: snap}
	s.record(out, err.Error())
	s.closed = err
	return out, err
}

func (s *Session) record(out Outcome, errText string) {
	rec := scenariolog.Outcome{
		Status:   out.Status,
		Seq:      out.Seq,
		Verdicts: out.Verdicts,
		Error:    errText,
	}
	if out.Snapshot != nil {
		rec.SnapshotID = out.Snapshot.Digest()
	}
	if out.Branch != nil {
		rec.Branch = out.Branch.ID
	}
	s.log.Record(out.Command, rec)
}

func (s *Session) closedErr() error {
	if errors.Is(s.closed, ErrSessionClosed) {
		return s.closed
	}
	return fmt.Errorf("%w: %v", ErrSessionClosed, s.closed)
}

// Close closes the session. Later calls to Execute fail with
// ErrSessionClosed. Read accessors keep working.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = ErrSessionClosed
		s.logger.Debug("session closed")
	}
	return nil
}

// Err returns the reason the session was closed, or nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		return nil
	}
	return s.closedErr()
}

// State is the session's history taken under a single lock.
type State struct {
	Snapshot   *scenario.Snapshot
	Transcript []scenariolog.Record
	Entries    []scenariolog.Entry
	Branches   []scenariolog.Branch
}

// State returns the snapshot, transcript, timeline and branches as of the
// same command.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Snapshot:   s.store.Snapshot(),
		Transcript: s.log.Transcript(),
		Entries:    s.log.Entries(),
		Branches:   s.log.Branches(),
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() *scenario.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// Transcript returns every command issued so far with its outcome.
func (s *Session) Transcript() []scenariolog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Transcript()
}

// Entries returns the current timeline.
func (s *Session) Entries() []scenariolog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Entries()
}

// Branches returns the timelines discarded by rollback.
func (s *Session) Branches() []scenariolog.Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Branches()
}

// ReplayBranch rebuilds the state at the tip of a discarded branch. The
// session's own state is not affected.
func (s *Session) ReplayBranch(id int) (*scenario.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.log.ReplayBranch(id)
	if err != nil {
		return nil, err
	}
	return store.Snapshot(), nil
}

// Replay rebuilds the state at seq from the log.
func (s *Session) Replay(seq scenario.Seq) (*scenario.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.log.Replay(seq)
	if err != nil {
		return nil, err
	}
	return store.Snapshot(), nil
}
