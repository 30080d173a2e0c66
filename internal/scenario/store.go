package scenario

import (
	"fmt"
	"sort"
)

type enactKey struct {
	agreement string
	effect    string
}

// Store is the single mutable copy of scenario state. It is not safe for
// concurrent use; the session controller owns it exclusively.
type Store struct {
	seq Seq
	now int64

	agents         map[string]*Agent
	agentOrder     []string
	statements     map[string]*Statement
	statementOrder []string
	agreements     map[string]*Agreement
	agreementOrder []string
	enactments     map[string]*Enactment
	enactmentOrder []string
	enacted        map[enactKey]string
	policies       map[string]*Policy
	policyOrder    []string
	active         string

	snap *Snapshot
}

// NewStore returns an empty store at NoSeq with the clock at zero.
func NewStore() *Store {
	return &Store{
		seq:        NoSeq,
		agents:     make(map[string]*Agent),
		statements: make(map[string]*Statement),
		agreements: make(map[string]*Agreement),
		enactments: make(map[string]*Enactment),
		enacted:    make(map[enactKey]string),
		policies:   make(map[string]*Policy),
	}
}

// Seq returns the sequence of the last applied delta.
func (s *Store) Seq() Seq { return s.seq }

// Time returns the logical clock.
func (s *Store) Time() int64 { return s.now }

// Agent returns a copy of the named agent.
func (s *Store) Agent(name string) (Agent, bool) {
	a, ok := s.agents[name]
	if !ok {
		return Agent{}, false
	}
	return cloneAgent(*a), true
}

// Statement returns a copy of the named statement.
func (s *Store) Statement(name string) (Statement, bool) {
	st, ok := s.statements[name]
	if !ok {
		return Statement{}, false
	}
	return cloneStatement(*st), true
}

// Agreement returns a copy of the named agreement.
func (s *Store) Agreement(name string) (Agreement, bool) {
	a, ok := s.agreements[name]
	if !ok {
		return Agreement{}, false
	}
	return cloneAgreement(*a), true
}

// Enactment returns a copy of the named enactment.
func (s *Store) Enactment(name string) (Enactment, bool) {
	e, ok := s.enactments[name]
	if !ok {
		return Enactment{}, false
	}
	return cloneEnactment(*e), true
}

// Policy returns the named policy.
func (s *Store) Policy(name string) (Policy, bool) {
	p, ok := s.policies[name]
	if !ok {
		return Policy{}, false
	}
	return *p, true
}

// ActivePolicy returns the active policy, if one has been activated.
func (s *Store) ActivePolicy() (Policy, bool) {
	if s.active == "" {
		return Policy{}, false
	}
	return s.Policy(s.active)
}

// EnactmentOf returns the enactment that used agreement for effect.
func (s *Store) EnactmentOf(agreement, effect string) (Enactment, bool) {
	name, ok := s.enacted[enactKey{agreement, effect}]
	if !ok {
		return Enactment{}, false
	}
	return s.Enactment(name)
}

// Apply validates d against the current state and, if every invariant
// holds afterwards, applies it and advances the sequence. On failure the
// returned error is an *InvariantViolation and nothing has changed.
func (s *Store) Apply(d Delta) (Seq, error) {
	if v := s.check(d); v != nil {
		return s.seq, v
	}
	s.seq++
	s.mutate(d)
	s.snap = nil
	return s.seq, nil
}

// check is the pure validation half of Apply.
func (s *Store) check(d Delta) *InvariantViolation {
	switch d := d.(type) {
	case DeclareAgent:
		if d.Agent == "" {
			return violation(InvariantNamed, d, "agent name is empty")
		}
		if _, ok := s.agents[d.Agent]; ok {
			return violation(InvariantUniqueName, d, "agent already declared", d.Agent)
		}

	case GrantCapability:
		a, ok := s.agents[d.Agent]
		if !ok {
			return violation(InvariantCapability, d, "agent not declared", d.Agent)
		}
		if d.Capability == "" {
			return violation(InvariantNamed, d, "capability name is empty", d.Agent)
		}
		if containsSorted(a.Capabilities, d.Capability) {
			return violation(InvariantCapability, d, fmt.Sprintf("capability %q already granted", d.Capability), d.Agent)
		}

	case RevokeCapability:
		a, ok := s.agents[d.Agent]
		if !ok {
			return violation(InvariantCapability, d, "agent not declared", d.Agent)
		}
		if !containsSorted(a.Capabilities, d.Capability) {
			return violation(InvariantCapability, d, fmt.Sprintf("capability %q not held", d.Capability), d.Agent)
		}

	case AssertStatement:
		if d.Name == "" {
			return violation(InvariantNamed, d, "statement name is empty")
		}
		if _, ok := s.statements[d.Name]; ok {
			return violation(InvariantUniqueName, d, "statement already asserted", d.Name)
		}
		if _, ok := s.agents[d.Author]; !ok {
			return violation(InvariantStatementAuthor, d, "author not declared", d.Name, d.Author)
		}
		if d.Retracts != "" {
			if v := s.checkRetraction(d, d.Retracts, d.Author); v != nil {
				return v
			}
		}

	case RetractStatement:
		return s.checkRetraction(d, d.Name, d.Author)

	case FormAgreement:
		if d.Name == "" {
			return violation(InvariantNamed, d, "agreement name is empty")
		}
		if _, ok := s.agreements[d.Name]; ok {
			return violation(InvariantUniqueName, d, "agreement already formed", d.Name)
		}
		if len(d.Parties) == 0 {
			return violation(InvariantAgreementParties, d, "agreement has no parties", d.Name)
		}
		seen := make(map[string]bool, len(d.Parties))
		for _, p := range d.Parties {
			if _, ok := s.agents[p]; !ok {
				return violation(InvariantAgreementParties, d, "party not declared", d.Name, p)
			}
			if seen[p] {
				return violation(InvariantAgreementParties, d, "party listed twice", d.Name, p)
			}
			seen[p] = true
		}
		if len(d.Statements) == 0 {
			return violation(InvariantAgreementCitations, d, "agreement cites no statements", d.Name)
		}
		cited := make(map[string]bool, len(d.Statements))
		for _, name := range d.Statements {
			st, ok := s.statements[name]
			if !ok {
				return violation(InvariantAgreementCitations, d, "cited statement not asserted", d.Name, name)
			}
			if cited[name] {
				return violation(InvariantAgreementCitations, d, "statement cited twice", d.Name, name)
			}
			cited[name] = true
			if st.Retracted() {
				return violation(InvariantAgreementCitations, d, "cited statement is retracted", d.Name, name)
			}
		}

	case RecordEnactment:
		if d.Name == "" {
			return violation(InvariantNamed, d, "enactment name is empty")
		}
		if _, ok := s.enactments[d.Name]; ok {
			return violation(InvariantUniqueName, d, "enactment already recorded", d.Name)
		}
		if _, ok := s.agents[d.Actor]; !ok {
			return violation(InvariantEnactmentBasis, d, "actor not declared", d.Name, d.Actor)
		}
		g, ok := s.agreements[d.Agreement]
		if !ok {
			return violation(InvariantEnactmentBasis, d, "agreement not formed", d.Name, d.Agreement)
		}
		if !g.HasParty(d.Actor) {
			return violation(InvariantEnactmentBasis, d, "actor is not a party to the agreement", d.Name, d.Actor, d.Agreement)
		}
		if prior, ok := s.enacted[enactKey{d.Agreement, d.Effect}]; ok {
			return violation(InvariantEnactmentOnce, d, fmt.Sprintf("effect already enacted by %s", prior), d.Name, d.Agreement)
		}
		for _, name := range d.Justification {
			st, ok := s.statements[name]
			if !ok {
				return violation(InvariantJustification, d, "justifying statement not asserted", d.Name, name)
			}
			if st.Retracted() {
				return violation(InvariantJustification, d, "justifying statement is retracted", d.Name, name)
			}
		}

	case LoadPolicy:
		if d.Name == "" {
			return violation(InvariantNamed, d, "policy name is empty")
		}
		if _, ok := s.policies[d.Name]; ok {
			return violation(InvariantUniqueName, d, "policy already loaded", d.Name)
		}

	case ActivatePolicy:
		if _, ok := s.policies[d.Name]; !ok {
			return violation(InvariantActivePolicy, d, "policy not loaded", d.Name)
		}

	case AdvanceTime:
		if d.To < s.now {
			return violation(InvariantClock, d, fmt.Sprintf("clock would move back from %d to %d", s.now, d.To))
		}

	default:
		return violation(InvariantUnknownDelta, d, fmt.Sprintf("unsupported delta %T", d))
	}
	return nil
}

func (s *Store) checkRetraction(d Delta, name, author string) *InvariantViolation {
	st, ok := s.statements[name]
	if !ok {
		return violation(InvariantRetraction, d, "statement not asserted", name)
	}
	if st.Author != author {
		return violation(InvariantRetraction, d, "only the author may retract a statement", name, author)
	}
	if st.Retracted() {
		return violation(InvariantRetraction, d, "statement already retracted", name)
	}
	return nil
}

// mutate applies a delta that check has accepted. It cannot fail.
func (s *Store) mutate(d Delta) {
	switch d := d.(type) {
	case DeclareAgent:
		s.agents[d.Agent] = &Agent{Name: d.Agent, Capabilities: []string{}, DeclaredAt: s.seq}
		s.agentOrder = append(s.agentOrder, d.Agent)

	case GrantCapability:
		a := s.agents[d.Agent]
		caps := append(append([]string{}, a.Capabilities...), d.Capability)
		sort.Strings(caps)
		a.Capabilities = caps

	case RevokeCapability:
		a := s.agents[d.Agent]
		caps := make([]string, 0, len(a.Capabilities))
		for _, c := range a.Capabilities {
			if c != d.Capability {
				caps = append(caps, c)
			}
		}
		a.Capabilities = caps

	case AssertStatement:
		s.statements[d.Name] = &Statement{
			Name:       d.Name,
			Author:     d.Author,
			Payload:    d.Payload,
			AssertedAt: s.seq,
			Time:       s.now,
		}
		s.statementOrder = append(s.statementOrder, d.Name)
		if d.Retracts != "" {
			s.statements[d.Retracts].Retraction = &Retraction{At: s.seq, Time: s.now, By: d.Name}
		}

	case RetractStatement:
		s.statements[d.Name].Retraction = &Retraction{At: s.seq, Time: s.now}

	case FormAgreement:
		s.agreements[d.Name] = &Agreement{
			Name:       d.Name,
			Parties:    sortedCopy(d.Parties),
			Statements: sortedCopy(d.Statements),
			At:         d.At,
			FormedAt:   s.seq,
		}
		s.agreementOrder = append(s.agreementOrder, d.Name)

	case RecordEnactment:
		s.enactments[d.Name] = &Enactment{
			Name:          d.Name,
			Actor:         d.Actor,
			Agreement:     d.Agreement,
			Effect:        d.Effect,
			Justification: sortedCopy(d.Justification),
			Time:          s.now,
			RecordedAt:    s.seq,
		}
		s.enactmentOrder = append(s.enactmentOrder, d.Name)
		s.enacted[enactKey{d.Agreement, d.Effect}] = d.Name

	case LoadPolicy:
		s.policies[d.Name] = &Policy{Name: d.Name, Rules: d.Rules, LoadedAt: s.seq}
		s.policyOrder = append(s.policyOrder, d.Name)

	case ActivatePolicy:
		s.active = d.Name

	case AdvanceTime:
		s.now = d.To
	}
}

// Snapshot returns an immutable view of the current state. The snapshot is
// cached until the next successful Apply.
func (s *Store) Snapshot() *Snapshot {
	if s.snap != nil {
		return s.snap
	}
	v := View{
		Seq:          s.seq,
		Time:         s.now,
		ActivePolicy: s.active,
		Agents:       make([]Agent, 0, len(s.agentOrder)),
		Statements:   make([]Statement, 0, len(s.statementOrder)),
		Agreements:   make([]Agreement, 0, len(s.agreementOrder)),
		Enactments:   make([]Enactment, 0, len(s.enactmentOrder)),
		Policies:     make([]Policy, 0, len(s.policyOrder)),
	}
	for _, name := range s.agentOrder {
		v.Agents = append(v.Agents, cloneAgent(*s.agents[name]))
	}
	for _, name := range s.statementOrder {
		v.Statements = append(v.Statements, cloneStatement(*s.statements[name]))
	}
	for _, name := range s.agreementOrder {
		v.Agreements = append(v.Agreements, cloneAgreement(*s.agreements[name]))
	}
	for _, name := range s.enactmentOrder {
		v.Enactments = append(v.Enactments, cloneEnactment(*s.enactments[name]))
	}
	for _, name := range s.policyOrder {
		v.Policies = append(v.Policies, *s.policies[name])
	}
	s.snap = newSnapshot(v)
	return s.snap
}

func containsSorted(list []string, item string) bool {
	i := sort.SearchStrings(list, item)
	return i < len(list) && list[i] == item
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func cloneAgent(a Agent) Agent {
	a.Capabilities = append([]string{}, a.Capabilities...)
	return a
}

func cloneStatement(s Statement) Statement {
	if s.Retraction != nil {
		r := *s.Retraction
		s.Retraction = &r
	}
	return s
}

func cloneAgreement(a Agreement) Agreement {
	a.Parties = append([]string{}, a.Parties...)
	a.Statements = append([]string{}, a.Statements...)
	return a
}

func cloneEnactment(e Enactment) Enactment {
	e.Justification = append([]string{}, e.Justification...)
	return e
}
