package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"justact/internal/mangle"
)

// Schema declares the predicates a snapshot is loaded as. Policies add
// rules deriving violation(Reason, Subject); any derived violation makes
// the snapshot invalid.
const Schema = `
Decl now(Time) bound [/number].
Decl agent(Agent) bound [/string].
Decl capability(Agent, Capability) bound [/string, /string].
Decl statement(Statement, Author, Payload, Seq) bound [/string, /string, /string, /number].
Decl retracted(Statement, Seq) bound [/string, /number].
Decl agreement(Agreement, At, Seq) bound [/string, /number, /number].
Decl party(Agreement, Agent) bound [/string, /string].
Decl cites(Agreement, Statement) bound [/string, /string].
Decl enactment(Enactment, Actor, Agreement, Effect, At, Seq) bound [/string, /string, /string, /string, /number, /number].
Decl justifies(Enactment, Statement) bound [/string, /string].
Decl violation(Reason, Subject).
`

// ViolationPredicate is the predicate whose derived facts make a snapshot
// invalid.
const ViolationPredicate = "violation"

// Violation is one element of the witness the Mangle evaluator returns.
type Violation struct {
	Reason  string `json:"reason"`
	Subject string `json:"subject"`
	Fact    string `json:"fact"`
}

// MangleEvaluator evaluates policies written in Mangle Datalog in process.
type MangleEvaluator struct {
	config mangle.Config
	logger *zap.Logger
}

// NewMangleEvaluator returns an in-process evaluator. A zero FactLimit in
// cfg means no limit.
func NewMangleEvaluator(cfg mangle.Config, logger *zap.Logger) *MangleEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	return &MangleEvaluator{config: cfg, logger: logger}
}

func (m *MangleEvaluator) Name() string { return "mangle" }

// Evaluate loads the schema, the policy and the request's facts into a
// fresh engine and reports every derived violation.
func (m *MangleEvaluator) Evaluate(ctx context.Context, req Request) (Response, error) {
	engine := mangle.NewEngine(m.config)
	if err := engine.Load(Schema); err != nil {
		return Response{}, Fatal(fmt.Errorf("load snapshot schema: %w", err))
	}
	if err := engine.Load(req.Policy.Rules); err != nil {
		return Response{}, &EvaluatorError{
			Reason: ReasonMalformedPolicy,
			Detail: fmt.Sprintf("policy %s: %v", req.Policy.Name, err),
			Err:    err,
		}
	}
	if err := engine.Insert(Facts(req)...); err != nil {
		return Response{}, newError(ReasonUnavailable, err)
	}

	if _, err := engine.Evaluate(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, &EvaluatorError{
			Reason: ReasonMalformedPolicy,
			Detail: fmt.Sprintf("policy %s: %v", req.Policy.Name, err),
			Err:    err,
		}
	}

	facts, err := engine.Query(ViolationPredicate)
	if err != nil {
		return Response{}, newError(ReasonUnavailable, err)
	}
	if len(facts) == 0 {
		return Response{Verdict: AnswerValid}, nil
	}

	witness := make([]Violation, 0, len(facts))
	for _, f := range facts {
		witness = append(witness, Violation{
			Reason:  fmt.Sprint(f.Args[0]),
			Subject: fmt.Sprint(f.Args[1]),
			Fact:    f.String(),
		})
	}
	raw, err := json.Marshal(witness)
	if err != nil {
		return Response{}, newError(ReasonUnavailable, err)
	}
	m.logger.Debug("policy violated",
		zap.String("policy", req.Policy.Name),
		zap.Int("violations", len(witness)))
	return Response{Verdict: AnswerInvalid, Witness: raw}, nil
}

// Facts renders a request as Mangle facts for Schema.
func Facts(req Request) []mangle.Fact {
	facts := []mangle.Fact{{Predicate: "now", Args: []any{req.Time}}}
	add := func(pred string, args ...any) {
		facts = append(facts, mangle.Fact{Predicate: pred, Args: args})
	}
	for _, a := range req.Agents {
		add("agent", a.Name)
		for _, c := range a.Capabilities {
			add("capability", a.Name, c)
		}
	}
	for _, st := range req.Statements {
		add("statement", st.Name, st.Author, st.Payload, int64(st.AssertedAt))
		if st.Retraction != nil {
			add("retracted", st.Name, int64(st.Retraction.At))
		}
	}
	for _, g := range req.Agreements {
		add("agreement", g.Name, g.At, int64(g.FormedAt))
		for _, p := range g.Parties {
			add("party", g.Name, p)
		}
		for _, s := range g.Statements {
			add("cites", g.Name, s)
		}
	}
	for _, e := range req.Enactments {
		add("enactment", e.Name, e.Actor, e.Agreement, e.Effect, e.Time, int64(e.RecordedAt))
		for _, s := range e.Justification {
			add("justifies", e.Name, s)
		}
	}
	return facts
}

// CheckPolicy reports whether rules load against Schema without evaluating
// them.
func CheckPolicy(rules string) (mangle.Report, error) {
	return mangle.Check(Schema, rules)
}
