package evaluator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"justact/internal/mangle"
	"justact/internal/scenario"
)

const readCapabilityPolicy = `
violation("missing-capability", E) :- enactment(E, A, _, _, _, _), !capability(A, "read").
`

func evaluateMangle(t *testing.T, snap *scenario.Snapshot, rules string) Verdict {
	t.Helper()
	b := NewBridge(NewMangleEvaluator(mangle.DefaultConfig(), nil), Options{Timeout: 5 * time.Second})
	v, err := b.Evaluate(context.Background(), snap, scenario.Policy{Name: "p1", Rules: rules})
	require.NoError(t, err)
	return v
}

func TestMangleEvaluatorValidWithoutViolations(t *testing.T) {
	v := evaluateMangle(t, scenarioSnapshot(t), "")
	assert.Equal(t, KindValid, v.Kind, "%s", v)
	assert.Equal(t, "mangle", v.Evaluator)
}

func TestMangleEvaluatorReportsViolations(t *testing.T) {
	v := evaluateMangle(t, scenarioSnapshot(t), readCapabilityPolicy)
	require.Equal(t, KindInvalid, v.Kind, "%s", v)

	var witness []Violation
	require.NoError(t, json.Unmarshal(v.Witness, &witness))
	require.Len(t, witness, 1)
	assert.Equal(t, "missing-capability", witness[0].Reason)
	assert.Equal(t, "e1", witness[0].Subject)
	assert.Equal(t, `violation("missing-capability", "e1").`, witness[0].Fact)
}

func TestMangleEvaluatorSeesCapabilities(t *testing.T) {
	s := scenario.NewStore()
	for _, d := range []scenario.Delta{
		scenario.DeclareAgent{Agent: "A"},
		scenario.DeclareAgent{Agent: "B"},
		scenario.GrantCapability{Agent: "B", Capability: "read"},
		scenario.AssertStatement{Name: "s1", Author: "A", Payload: "B may read dataset X"},
		scenario.FormAgreement{Name: "g1", Parties: []string{"A", "B"}, Statements: []string{"s1"}},
		scenario.RecordEnactment{Name: "e1", Actor: "B", Agreement: "g1", Effect: "read dataset X"},
	} {
		_, err := s.Apply(d)
		require.NoError(t, err)
	}
	v := evaluateMangle(t, s.Snapshot(), readCapabilityPolicy)
	assert.Equal(t, KindValid, v.Kind, "%s", v)
}

func TestMangleEvaluatorRetractedJustification(t *testing.T) {
	s := scenario.NewStore()
	for _, d := range []scenario.Delta{
		scenario.DeclareAgent{Agent: "A"},
		scenario.AssertStatement{Name: "s1", Author: "A", Payload: "A may write"},
		scenario.FormAgreement{Name: "g1", Parties: []string{"A"}, Statements: []string{"s1"}},
		scenario.RecordEnactment{Name: "e1", Actor: "A", Agreement: "g1", Effect: "write", Justification: []string{"s1"}},
		scenario.RetractStatement{Name: "s1", Author: "A"},
	} {
		_, err := s.Apply(d)
		require.NoError(t, err)
	}
	rules := `violation("retracted-basis", E) :- justifies(E, S), retracted(S, _).`
	v := evaluateMangle(t, s.Snapshot(), rules)
	assert.Equal(t, KindInvalid, v.Kind, "%s", v)
}

func TestMangleEvaluatorMalformedPolicy(t *testing.T) {
	for name, rules := range map[string]string{
		"syntax":     `violation("x" :- .`,
		"undeclared": `violation("x", A) :- ghost(A).`,
	} {
		t.Run(name, func(t *testing.T) {
			v := evaluateMangle(t, scenarioSnapshot(t), rules)
			require.Equal(t, KindError, v.Kind)
			assert.Equal(t, ReasonMalformedPolicy, v.Err.Reason)
		})
	}
}

func TestFactsCoverSnapshot(t *testing.T) {
	req := NewRequest(scenarioSnapshot(t), testPolicy)
	counts := map[string]int{}
	for _, f := range Facts(req) {
		counts[f.Predicate]++
	}
	assert.Equal(t, map[string]int{
		"now":       1,
		"agent":     2,
		"statement": 1,
		"agreement": 1,
		"party":     2,
		"cites":     1,
		"enactment": 1,
	}, counts)
}

func TestCheckPolicy(t *testing.T) {
	_, err := CheckPolicy(readCapabilityPolicy)
	require.NoError(t, err)

	_, err = CheckPolicy(`violation("x", A) :- ghost(A).`)
	assert.Error(t, err)
}
