package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"justact/internal/evaluator"
	"justact/internal/interpreter"
	"justact/internal/logging"
	"justact/internal/mangle"
	"justact/internal/scenario"
	"justact/internal/scenariolog"
)

var fixedClock = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

const readCapabilityPolicy = `
violation("missing-capability", E) :- enactment(E, A, _, _, _, _), !capability(A, "read").
`

const noEnactmentPolicy = `
violation("enacted", E) :- enactment(E, _, _, _, _, _).
`

type fakeEvaluator struct {
	fn func(ctx context.Context, req evaluator.Request) (evaluator.Response, error)
}

func (f fakeEvaluator) Name() string { return "fake" }

func (f fakeEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (evaluator.Response, error) {
	return f.fn(ctx, req)
}

func newSession(t *testing.T, ev evaluator.Evaluator) *Session {
	t.Helper()
	var bridge *evaluator.Bridge
	if ev != nil {
		bridge = evaluator.NewBridge(ev, evaluator.Options{Timeout: 5 * time.Second})
	}
	return New(Config{Name: t.Name(), Bridge: bridge, Clock: fixedClock})
}

func mangleSession(t *testing.T) *Session {
	return newSession(t, evaluator.NewMangleEvaluator(mangle.DefaultConfig(), nil))
}

func agent(name string) interpreter.Command {
	return interpreter.Command{Kind: interpreter.KindDeclareAgent, Name: name}
}

func policy(name, rules string) interpreter.Command {
	return interpreter.Command{Kind: interpreter.KindLoadPolicy, Name: name, Rules: rules}
}

func activate(name string) interpreter.Command {
	return interpreter.Command{Kind: interpreter.KindActivatePolicy, Name: name}
}

func rollback(seq int64) interpreter.Command {
	return interpreter.Command{Kind: interpreter.KindRollback, Seq: interpreter.Int64(seq)}
}

var (
	check    = interpreter.Command{Kind: interpreter.KindCheck}
	checkAll = interpreter.Command{Kind: interpreter.KindCheckAll}
	inspect  = interpreter.Command{Kind: interpreter.KindInspect}
)

// concreteScript declares A and B, lets A state s1, forms g1 over it and has
// B enact e1 under g1.
func concreteScript() []interpreter.Command {
	return []interpreter.Command{
		agent("A"),
		agent("B"),
		{Kind: interpreter.KindAssert, Agent: "A", Name: "s1", Payload: "B may read dataset X"},
		{Kind: interpreter.KindAgree, Name: "g1", Parties: []string{"A", "B"}, Statements: []string{"s1"}},
		{Kind: interpreter.KindEnact, Agent: "B", Name: "e1", Agreement: "g1", Effect: "read dataset X"},
	}
}

func execAll(t *testing.T, s *Session, cmds ...interpreter.Command) {
	t.Helper()
	for _, cmd := range cmds {
		_, err := s.Execute(context.Background(), cmd)
		require.NoError(t, err, "execute %s", cmd)
	}
}

func TestConcreteScenario(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	for i, cmd := range concreteScript() {
		out, err := s.Execute(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, scenariolog.StatusApplied, out.Status)
		assert.Equal(t, scenario.Seq(i), out.Seq)
	}
	full := s.Snapshot()
	require.Equal(t, scenario.Seq(4), full.Seq())

	out, err := s.Execute(ctx, rollback(2))
	require.NoError(t, err)
	assert.Equal(t, scenariolog.StatusRolledBack, out.Status)
	assert.Equal(t, scenario.Seq(2), out.Seq)
	require.NotNil(t, out.Branch)
	assert.Equal(t, 1, out.Branch.ID)
	require.Len(t, out.Branch.Entries, 2)

	snap := s.Snapshot()
	assert.Equal(t, scenario.Seq(2), snap.Seq())
	_, ok := snap.Statement("s1")
	assert.True(t, ok)
	_, ok = snap.Agreement("g1")
	assert.False(t, ok)
	_, ok = snap.Enactment("e1")
	assert.False(t, ok)

	replayed, err := s.ReplayBranch(out.Branch.ID)
	require.NoError(t, err)
	assert.Equal(t, full.Digest(), replayed.Digest())
	if diff := cmp.Diff(full.View(), replayed.View()); diff != "" {
		t.Errorf("branch replay mismatch (-original +replayed):\n%s", diff)
	}

	// The name g1 is free again on the new timeline.
	out, err = s.Execute(ctx, interpreter.Command{Kind: interpreter.KindAgree, Name: "g1", Parties: []string{"A"}, Statements: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, scenario.Seq(3), out.Seq)
}

func TestRejectedCommandLeavesStateUnchanged(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)
	before := s.Snapshot().Digest()
	entries := len(s.Entries())

	tests := []struct {
		name string
		cmd  interpreter.Command
		want error
	}{
		{"undeclared actor", interpreter.Command{Kind: interpreter.KindEnact, Agent: "C", Name: "e2", Agreement: "g1", Effect: "x"}, interpreter.ErrUnknownAgent},
		{"duplicate agent", agent("A"), interpreter.ErrDuplicateName},
		{"repeated effect", interpreter.Command{Kind: interpreter.KindEnact, Agent: "A", Name: "e2", Agreement: "g1", Effect: "read dataset X"}, interpreter.ErrAlreadyEnacted},
		{"rollback past head", rollback(9), interpreter.ErrOutOfRange},
		{"check without policy", check, interpreter.ErrNoActivePolicy},
		{"check-all without policies", checkAll, interpreter.ErrNoPolicies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Execute(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var cmdErr *interpreter.CommandError
			assert.True(t, errors.As(err, &cmdErr))
			assert.Equal(t, scenariolog.StatusRejected, out.Status)
			assert.Equal(t, before, s.Snapshot().Digest())
			assert.Len(t, s.Entries(), entries)
		})
	}

	transcript := s.Transcript()
	require.Len(t, transcript, 5+len(tests))
	last := transcript[5]
	assert.Equal(t, scenariolog.StatusRejected, last.Outcome.Status)
	assert.Equal(t, "enact: agent: unknown agent C", last.Outcome.Error)
	assert.Equal(t, before, last.Outcome.SnapshotID)
}

func TestCheckWithMangle(t *testing.T) {
	s := mangleSession(t)
	execAll(t, s, concreteScript()...)
	execAll(t, s, policy("p1", readCapabilityPolicy), activate("p1"))

	before := s.Snapshot()
	entries := len(s.Entries())

	out, err := s.Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, scenariolog.StatusChecked, out.Status)
	require.Len(t, out.Verdicts, 1)
	v := out.Verdicts[0]
	assert.Equal(t, evaluator.KindInvalid, v.Kind, "%s", v)
	assert.Equal(t, "p1", v.Policy)
	assert.Equal(t, before.Seq(), v.Seq)
	assert.Equal(t, before.Digest(), v.SnapshotID)
	assert.Contains(t, string(v.Witness), "missing-capability")

	// Checking is pure.
	assert.Equal(t, before.Digest(), s.Snapshot().Digest())
	assert.Len(t, s.Entries(), entries)

	execAll(t, s, interpreter.Command{Kind: interpreter.KindGrant, Agent: "B", Capability: "read"})
	out, err = s.Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, evaluator.KindValid, out.Verdicts[0].Kind, "%s", out.Verdicts[0])
}

func TestVerdictsStayBoundToTheirPolicy(t *testing.T) {
	s := mangleSession(t)
	execAll(t, s, concreteScript()...)
	execAll(t, s,
		interpreter.Command{Kind: interpreter.KindGrant, Agent: "B", Capability: "read"},
		policy("p1", readCapabilityPolicy),
		policy("p2", noEnactmentPolicy),
		activate("p1"),
		check,
		activate("p2"),
		check,
	)

	var checks []scenariolog.Record
	for _, r := range s.Transcript() {
		if r.Outcome.Status == scenariolog.StatusChecked {
			checks = append(checks, r)
		}
	}
	require.Len(t, checks, 2)
	assert.Equal(t, "p1", checks[0].Outcome.Verdicts[0].Policy)
	assert.Equal(t, evaluator.KindValid, checks[0].Outcome.Verdicts[0].Kind)
	assert.Equal(t, "p2", checks[1].Outcome.Verdicts[0].Policy)
	assert.Equal(t, evaluator.KindInvalid, checks[1].Outcome.Verdicts[0].Kind)
}

func TestCheckAllKeepsLoadOrder(t *testing.T) {
	s := mangleSession(t)
	execAll(t, s, concreteScript()...)
	execAll(t, s,
		policy("zeta", noEnactmentPolicy),
		policy("alpha", readCapabilityPolicy),
		policy("broken", "violation(X) :- nope(X)."),
	)

	out, err := s.Execute(context.Background(), checkAll)
	require.NoError(t, err)
	require.Len(t, out.Verdicts, 3)
	assert.Equal(t, "zeta", out.Verdicts[0].Policy)
	assert.Equal(t, evaluator.KindInvalid, out.Verdicts[0].Kind)
	assert.Equal(t, "alpha", out.Verdicts[1].Policy)
	assert.Equal(t, evaluator.KindInvalid, out.Verdicts[1].Kind)
	assert.Equal(t, "broken", out.Verdicts[2].Policy)
	assert.Equal(t, evaluator.KindError, out.Verdicts[2].Kind)
	require.NotNil(t, out.Verdicts[2].Err)
	assert.Equal(t, evaluator.ReasonMalformedPolicy, out.Verdicts[2].Err.Reason)
}

func TestEvaluatorFailureIsAVerdict(t *testing.T) {
	s := newSession(t, fakeEvaluator{fn: func(context.Context, evaluator.Request) (evaluator.Response, error) {
		return evaluator.Response{}, &evaluator.EvaluatorError{Reason: evaluator.ReasonProcessFailure, Detail: "exit status 3"}
	}})
	execAll(t, s, agent("A"), policy("p1", ""), activate("p1"))

	out, err := s.Execute(context.Background(), check)
	require.NoError(t, err)
	require.Len(t, out.Verdicts, 1)
	assert.Equal(t, evaluator.KindError, out.Verdicts[0].Kind)
	assert.Equal(t, evaluator.ReasonProcessFailure, out.Verdicts[0].Err.Reason)
	assert.NoError(t, s.Err())
}

func TestFatalEvaluatorClosesSession(t *testing.T) {
	s := newSession(t, fakeEvaluator{fn: func(context.Context, evaluator.Request) (evaluator.Response, error) {
		return evaluator.Response{}, evaluator.Fatal(errors.New("evaluator binary not found"))
	}})
	execAll(t, s, agent("A"), policy("p1", ""), activate("p1"))

	out, err := s.Execute(context.Background(), check)
	require.Error(t, err)
	assert.ErrorIs(t, err, evaluator.ErrFatal)
	assert.Equal(t, scenariolog.StatusFailed, out.Status)

	_, err = s.Execute(context.Background(), agent("B"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Err(), ErrSessionClosed)

	transcript := s.Transcript()
	require.Len(t, transcript, 4, "commands after close are not recorded")
	assert.Equal(t, scenariolog.StatusFailed, transcript[3].Outcome.Status)
	_, ok := s.Snapshot().Agent("B")
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, agent("A"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Execute(context.Background(), agent("B"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, scenario.Seq(0), s.Snapshot().Seq())
}

func TestInspect(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)

	out, err := s.Execute(context.Background(), inspect)
	require.NoError(t, err)
	assert.Equal(t, scenariolog.StatusInspected, out.Status)
	assert.Equal(t, scenario.Seq(4), out.Seq)
	require.NotEmpty(t, out.Events)
	assert.Equal(t, scenario.EventAdvanceTime, out.Events[0].Kind)
	assert.Len(t, s.Entries(), 5)
}

func TestRollbackThenReissueReproducesSnapshot(t *testing.T) {
	script := concreteScript()
	for seq := int64(0); seq < int64(len(script)); seq++ {
		t.Run(fmt.Sprintf("rollback %d", seq), func(t *testing.T) {
			s := newSession(t, nil)
			execAll(t, s, script...)
			want := s.Snapshot()

			execAll(t, s, rollback(seq))
			execAll(t, s, script[seq+1:]...)

			got := s.Snapshot()
			assert.Equal(t, want.Seq(), got.Seq())
			assert.Equal(t, want.Digest(), got.Digest())
		})
	}
}

func TestBranchSurvivesDeeperRollback(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)
	full := s.Snapshot().Digest()

	execAll(t, s,
		rollback(2),
		rollback(1),
		interpreter.Command{Kind: interpreter.KindAssert, Agent: "B", Name: "s9", Payload: "other"},
	)
	require.Len(t, s.Branches(), 2)

	replayed, err := s.ReplayBranch(1)
	require.NoError(t, err)
	assert.Equal(t, full, replayed.Digest())
	_, ok := replayed.Enactment("e1")
	assert.True(t, ok)
}

func TestEmptyPolicyCheckIsValidAndRepeatable(t *testing.T) {
	s := mangleSession(t)
	execAll(t, s, concreteScript()...)
	execAll(t, s, policy("p", ""), activate("p"))

	var first evaluator.Verdict
	for i := 0; i < 3; i++ {
		out, err := s.Execute(context.Background(), check)
		require.NoError(t, err)
		require.Len(t, out.Verdicts, 1)
		v := out.Verdicts[0]
		assert.Equal(t, evaluator.KindValid, v.Kind, "%s", v)
		assert.Equal(t, "p", v.Policy)
		assert.Equal(t, scenario.Seq(6), v.Seq)
		if i == 0 {
			first = v
			continue
		}
		assert.Equal(t, first, v, "check %d", i)
	}
	assert.Equal(t, scenario.Seq(6), s.Snapshot().Seq())
}

func TestStateIsOneCut(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)
	execAll(t, s, rollback(3))

	st := s.State()
	assert.Equal(t, s.Snapshot().Digest(), st.Snapshot.Digest())
	assert.Equal(t, s.Transcript(), st.Transcript)
	assert.Equal(t, s.Entries(), st.Entries)
	assert.Equal(t, s.Branches(), st.Branches)
	assert.Len(t, st.Transcript, 6)
}

func TestRollbackToHeadKeepsNoBranch(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)

	out, err := s.Execute(context.Background(), rollback(4))
	require.NoError(t, err)
	assert.Nil(t, out.Branch)
	assert.Empty(t, s.Branches())
	assert.Equal(t, scenario.Seq(4), s.Snapshot().Seq())
}

func TestReplayDeterminism(t *testing.T) {
	s := newSession(t, nil)
	execAll(t, s, concreteScript()...)
	execAll(t, s, interpreter.Command{Kind: interpreter.KindAdvanceTime, At: interpreter.Int64(7)})

	for _, e := range s.Entries() {
		snap, err := s.Replay(e.Seq)
		require.NoError(t, err)
		assert.Equal(t, e.SnapshotID, snap.Digest(), "seq %s", e.Seq)
	}
}

func TestRunMatchesInteractiveExecution(t *testing.T) {
	script := append(concreteScript(),
		interpreter.Command{Kind: interpreter.KindEnact, Agent: "C", Name: "e9", Agreement: "g1", Effect: "x"},
		policy("p1", readCapabilityPolicy),
		activate("p1"),
		check,
		rollback(2),
		inspect,
	)

	scripted := mangleSession(t)
	results, err := scripted.Run(context.Background(), script)
	require.NoError(t, err)
	require.Len(t, results, len(script))
	rejected := Rejected(results)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, interpreter.ErrUnknownAgent)

	interactive := mangleSession(t)
	for _, cmd := range script {
		_, _ = interactive.Execute(context.Background(), cmd)
	}

	if diff := cmp.Diff(interactive.Transcript(), scripted.Transcript()); diff != "" {
		t.Errorf("transcripts differ (-interactive +scripted):\n%s", diff)
	}
	assert.Equal(t, interactive.Snapshot().Digest(), scripted.Snapshot().Digest())
}

func TestRunStopsOnFatalAndCancel(t *testing.T) {
	s := newSession(t, fakeEvaluator{fn: func(context.Context, evaluator.Request) (evaluator.Response, error) {
		return evaluator.Response{}, evaluator.Fatal(errors.New("gone"))
	}})
	results, err := s.Run(context.Background(), []interpreter.Command{
		agent("A"), policy("p1", ""), activate("p1"), check, agent("B"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, evaluator.ErrFatal)
	assert.Len(t, results, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = newSession(t, nil)
	results, err = s.Run(ctx, concreteScript())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestVerifyTranscript(t *testing.T) {
	recorded := mangleSession(t)
	_, err := recorded.Run(context.Background(), append(concreteScript(),
		policy("p1", readCapabilityPolicy), activate("p1"), check, rollback(3), agent("C")))
	require.NoError(t, err)
	records := recorded.Transcript()

	mismatches, err := mangleSession(t).Verify(context.Background(), records, VerifyOptions{Verdicts: true})
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	records[2].Outcome.SnapshotID = "tampered"
	mismatches, err = newSession(t, nil).Verify(context.Background(), records, VerifyOptions{})
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 2, mismatches[0].Index)
	assert.Equal(t, "snapshot_id", mismatches[0].Field)
	assert.Contains(t, mismatches[0].String(), "want tampered")
}

func TestConcurrentExecuteIsSerialised(t *testing.T) {
	s := newSession(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Execute(context.Background(), agent(fmt.Sprintf("agent-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries := s.Entries()
	require.Len(t, entries, 20)
	for i, e := range entries {
		assert.Equal(t, scenario.Seq(i), e.Seq)
	}
}

func TestSessionLogsThroughRegistry(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := New(Config{ID: "fixed", Logging: logging.Wrap(zap.New(core), nil)})
	assert.Equal(t, "fixed", s.ID())
	execAll(t, s, agent("A"))
	_, _ = s.Execute(context.Background(), agent("A"))

	rejected := logs.FilterMessage("rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "interpreter", rejected[0].LoggerName)
	assert.Equal(t, "fixed", rejected[0].ContextMap()["session"])

	applied := logs.FilterMessage("applied").All()
	require.Len(t, applied, 1)
	assert.Equal(t, "store", applied[0].LoggerName)

	execAll(t, s, agent("B"), rollback(0))
	truncated := logs.FilterMessage("timeline truncated").All()
	require.Len(t, truncated, 1)
	assert.Equal(t, "log", truncated[0].LoggerName)
	assert.Equal(t, "fixed", truncated[0].ContextMap()["session"])
}
