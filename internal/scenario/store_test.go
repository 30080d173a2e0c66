package scenario

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustApply(t *testing.T, s *Store, deltas ...Delta) {
	t.Helper()
	for _, d := range deltas {
		_, err := s.Apply(d)
		require.NoError(t, err, "apply %s", d.Kind())
	}
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	mustApply(t, s,
		DeclareAgent{Agent: "A"},
		DeclareAgent{Agent: "B"},
		AssertStatement{Name: "s1", Author: "A", Payload: "B may read dataset X"},
		FormAgreement{Name: "g1", Parties: []string{"B", "A"}, Statements: []string{"s1"}},
	)
	return s
}

func requireViolation(t *testing.T, err error, want Invariant) *InvariantViolation {
	t.Helper()
	var v *InvariantViolation
	require.True(t, errors.As(err, &v), "expected *InvariantViolation, got %v", err)
	assert.Equal(t, want, v.Invariant)
	return v
}

func TestStoreApplyAssignsSequences(t *testing.T) {
	s := NewStore()
	assert.Equal(t, NoSeq, s.Seq())

	seq, err := s.Apply(DeclareAgent{Agent: "A"})
	require.NoError(t, err)
	assert.Equal(t, Seq(0), seq)

	seq, err = s.Apply(DeclareAgent{Agent: "B"})
	require.NoError(t, err)
	assert.Equal(t, Seq(1), seq)

	a, ok := s.Agent("A")
	require.True(t, ok)
	assert.Equal(t, Seq(0), a.DeclaredAt)
}

func TestStoreRejectsDuplicateNames(t *testing.T) {
	s := seededStore(t)

	cases := []struct {
		name  string
		delta Delta
	}{
		{"agent", DeclareAgent{Agent: "A"}},
		{"statement", AssertStatement{Name: "s1", Author: "B", Payload: "x"}},
		{"agreement", FormAgreement{Name: "g1", Parties: []string{"A"}, Statements: []string{"s1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Snapshot().Digest()
			_, err := s.Apply(tc.delta)
			requireViolation(t, err, InvariantUniqueName)
			assert.Equal(t, before, s.Snapshot().Digest(), "state must be unchanged")
			assert.Equal(t, Seq(3), s.Seq())
		})
	}
}

func TestStoreStatementNeedsDeclaredAuthor(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(AssertStatement{Name: "s1", Author: "ghost", Payload: "x"})
	v := requireViolation(t, err, InvariantStatementAuthor)
	assert.Contains(t, v.Entities, "ghost")
}

func TestStoreAgreementInvariants(t *testing.T) {
	s := seededStore(t)

	_, err := s.Apply(FormAgreement{Name: "g2", Statements: []string{"s1"}})
	requireViolation(t, err, InvariantAgreementParties)

	_, err = s.Apply(FormAgreement{Name: "g2", Parties: []string{"A", "C"}, Statements: []string{"s1"}})
	requireViolation(t, err, InvariantAgreementParties)

	_, err = s.Apply(FormAgreement{Name: "g2", Parties: []string{"A", "A"}, Statements: []string{"s1"}})
	requireViolation(t, err, InvariantAgreementParties)

	_, err = s.Apply(FormAgreement{Name: "g2", Parties: []string{"A"}, Statements: []string{"s9"}})
	requireViolation(t, err, InvariantAgreementCitations)

	_, err = s.Apply(FormAgreement{Name: "g2", Parties: []string{"A"}, Statements: []string{"s1", "s1"}})
	requireViolation(t, err, InvariantAgreementCitations)
	_, ok := s.Agreement("g2")
	assert.False(t, ok)

	mustApply(t, s, RetractStatement{Name: "s1", Author: "A"})
	_, err = s.Apply(FormAgreement{Name: "g2", Parties: []string{"A"}, Statements: []string{"s1"}})
	requireViolation(t, err, InvariantAgreementCitations)
}

func TestStoreAgreementSortsMembers(t *testing.T) {
	s := seededStore(t)
	g, ok := s.Agreement("g1")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, g.Parties)
	assert.Equal(t, Seq(3), g.FormedAt)
}

func TestStoreEnactmentInvariants(t *testing.T) {
	s := seededStore(t)
	mustApply(t, s, DeclareAgent{Agent: "C"})

	_, err := s.Apply(RecordEnactment{Name: "e1", Actor: "C", Agreement: "g1", Effect: "read dataset X"})
	requireViolation(t, err, InvariantEnactmentBasis)

	_, err = s.Apply(RecordEnactment{Name: "e1", Actor: "B", Agreement: "g9", Effect: "read dataset X"})
	requireViolation(t, err, InvariantEnactmentBasis)

	_, err = s.Apply(RecordEnactment{Name: "e1", Actor: "B", Agreement: "g1", Effect: "read", Justification: []string{"nope"}})
	requireViolation(t, err, InvariantJustification)

	mustApply(t, s, RecordEnactment{Name: "e1", Actor: "B", Agreement: "g1", Effect: "read dataset X"})

	_, err = s.Apply(RecordEnactment{Name: "e2", Actor: "A", Agreement: "g1", Effect: "read dataset X"})
	requireViolation(t, err, InvariantEnactmentOnce)

	mustApply(t, s, RecordEnactment{Name: "e2", Actor: "A", Agreement: "g1", Effect: "audit dataset X"})

	e, ok := s.EnactmentOf("g1", "read dataset X")
	require.True(t, ok)
	assert.Equal(t, "e1", e.Name)
}

func TestStoreRetraction(t *testing.T) {
	s := seededStore(t)

	_, err := s.Apply(RetractStatement{Name: "s1", Author: "B"})
	requireViolation(t, err, InvariantRetraction)

	mustApply(t, s, AssertStatement{Name: "s2", Author: "A", Payload: "B may read dataset Y", Retracts: "s1"})
	st, ok := s.Statement("s1")
	require.True(t, ok)
	require.True(t, st.Retracted())
	assert.Equal(t, "s2", st.Retraction.By)
	assert.Equal(t, Seq(4), st.Retraction.At)

	_, err = s.Apply(RetractStatement{Name: "s1", Author: "A"})
	requireViolation(t, err, InvariantRetraction)

	// The agreement formed before the retraction still cites s1.
	g, _ := s.Agreement("g1")
	assert.Equal(t, []string{"s1"}, g.Statements)
}

func TestStoreCapabilities(t *testing.T) {
	s := seededStore(t)
	mustApply(t, s,
		GrantCapability{Agent: "B", Capability: "write"},
		GrantCapability{Agent: "B", Capability: "read"},
	)
	b, _ := s.Agent("B")
	assert.Equal(t, []string{"read", "write"}, b.Capabilities)

	_, err := s.Apply(GrantCapability{Agent: "B", Capability: "read"})
	requireViolation(t, err, InvariantCapability)

	mustApply(t, s, RevokeCapability{Agent: "B", Capability: "read"})
	_, err = s.Apply(RevokeCapability{Agent: "B", Capability: "read"})
	requireViolation(t, err, InvariantCapability)

	b, _ = s.Agent("B")
	assert.Equal(t, []string{"write"}, b.Capabilities)
}

func TestStorePolicies(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(ActivatePolicy{Name: "p1"})
	requireViolation(t, err, InvariantActivePolicy)

	mustApply(t, s, LoadPolicy{Name: "p1", Rules: ""}, LoadPolicy{Name: "p2", Rules: "x."})
	_, ok := s.ActivePolicy()
	assert.False(t, ok)

	mustApply(t, s, ActivatePolicy{Name: "p2"})
	p, ok := s.ActivePolicy()
	require.True(t, ok)
	assert.Equal(t, "p2", p.Name)

	_, err = s.Apply(LoadPolicy{Name: "p1"})
	requireViolation(t, err, InvariantUniqueName)
}

func TestStoreClockNeverMovesBack(t *testing.T) {
	s := NewStore()
	mustApply(t, s, AdvanceTime{To: 5}, AdvanceTime{To: 5})
	_, err := s.Apply(AdvanceTime{To: 4})
	requireViolation(t, err, InvariantClock)
	assert.Equal(t, int64(5), s.Time())
}

func TestStoreEnactmentCarriesClock(t *testing.T) {
	s := seededStore(t)
	mustApply(t, s,
		AdvanceTime{To: 7},
		RecordEnactment{Name: "e1", Actor: "B", Agreement: "g1", Effect: "read dataset X", Justification: []string{"s1"}},
	)
	e, _ := s.Enactment("e1")
	assert.Equal(t, int64(7), e.Time)
	assert.Equal(t, []string{"s1"}, e.Justification)
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := seededStore(t)
	snap := s.Snapshot()
	digest := snap.Digest()

	agents := snap.Agents()
	agents[0].Name = "mutated"
	g, _ := snap.Agreement("g1")
	g.Parties[0] = "mutated"

	mustApply(t, s, DeclareAgent{Agent: "C"})

	assert.Equal(t, digest, snap.Digest())
	assert.Len(t, snap.Agents(), 2)
	a, ok := snap.Agent("A")
	require.True(t, ok)
	assert.Equal(t, "A", a.Name)
	g, _ = snap.Agreement("g1")
	assert.Equal(t, []string{"A", "B"}, g.Parties)
	assert.NotEqual(t, digest, s.Snapshot().Digest())
}

func TestSnapshotDigestIsDeterministic(t *testing.T) {
	a := seededStore(t)
	b := seededStore(t)
	assert.Equal(t, a.Snapshot().Digest(), b.Snapshot().Digest())
	assert.Same(t, a.Snapshot(), a.Snapshot(), "snapshot is cached between applies")
}

func TestSnapshotEvents(t *testing.T) {
	s := seededStore(t)
	mustApply(t, s, RecordEnactment{Name: "e1", Actor: "B", Agreement: "g1", Effect: "read dataset X"})

	events := s.Snapshot().Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventAdvanceTime, events[0].Kind)
	assert.Equal(t, EventStateMessage, events[1].Kind)
	assert.Equal(t, "A", events[1].Who)
	assert.Equal(t, RecipientAll, events[1].To)
	assert.Equal(t, EventAddAgreement, events[2].Kind)
	assert.Equal(t, EventEnactAction, events[3].Kind)
	assert.Equal(t, "B", events[3].Who)
}

func TestEmptySnapshot(t *testing.T) {
	snap := Empty()
	assert.Equal(t, NoSeq, snap.Seq())
	assert.Empty(t, snap.Agents())
	_, ok := snap.ActivePolicy()
	assert.False(t, ok)
}
