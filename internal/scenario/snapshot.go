package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// View is the plain-data form of a snapshot. Entities are listed in the
// order they were created, which is log order.
type View struct {
	Seq          Seq         `json:"seq"`
	Time         int64       `json:"time"`
	Agents       []Agent     `json:"agents"`
	Statements   []Statement `json:"statements"`
	Agreements   []Agreement `json:"agreements"`
	Enactments   []Enactment `json:"enactments"`
	Policies     []Policy    `json:"policies"`
	ActivePolicy string      `json:"active_policy,omitempty"`
}

// Snapshot is an immutable view of the store at one sequence number. All
// accessors return copies, so a Snapshot can be shared freely between
// goroutines.
type Snapshot struct {
	view   View
	digest string

	agents     map[string]int
	statements map[string]int
	agreements map[string]int
	enactments map[string]int
	policies   map[string]int
	enacted    map[enactKey]int
}

func newSnapshot(v View) *Snapshot {
	s := &Snapshot{
		view:       v,
		agents:     make(map[string]int, len(v.Agents)),
		statements: make(map[string]int, len(v.Statements)),
		agreements: make(map[string]int, len(v.Agreements)),
		enactments: make(map[string]int, len(v.Enactments)),
		policies:   make(map[string]int, len(v.Policies)),
		enacted:    make(map[enactKey]int, len(v.Enactments)),
	}
	for i, a := range v.Agents {
		s.agents[a.Name] = i
	}
	for i, st := range v.Statements {
		s.statements[st.Name] = i
	}
	for i, g := range v.Agreements {
		s.agreements[g.Name] = i
	}
	for i, e := range v.Enactments {
		s.enactments[e.Name] = i
		s.enacted[enactKey{e.Agreement, e.Effect}] = i
	}
	for i, p := range v.Policies {
		s.policies[p.Name] = i
	}
	s.digest = digestView(v)
	return s
}

// Empty returns the snapshot of a store that has applied nothing.
func Empty() *Snapshot {
	return NewStore().Snapshot()
}

func digestView(v View) string {
	// View holds only strings, integers, slices and pointers to plain
	// structs, so encoding cannot fail.
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seq returns the log position this snapshot was taken at.
func (s *Snapshot) Seq() Seq { return s.view.Seq }

// Time returns the logical clock at this snapshot.
func (s *Snapshot) Time() int64 { return s.view.Time }

// Digest is a content hash of the snapshot. Two snapshots with the same
// digest describe identical scenario state.
func (s *Snapshot) Digest() string { return s.digest }

// View returns a deep copy of the snapshot's data.
func (s *Snapshot) View() View {
	v := s.view
	v.Agents = s.Agents()
	v.Statements = s.Statements()
	v.Agreements = s.Agreements()
	v.Enactments = s.Enactments()
	v.Policies = s.Policies()
	return v
}

// MarshalJSON encodes the snapshot as its View.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.view)
}

func (s *Snapshot) Agents() []Agent {
	out := make([]Agent, len(s.view.Agents))
	for i, a := range s.view.Agents {
		out[i] = cloneAgent(a)
	}
	return out
}

func (s *Snapshot) Statements() []Statement {
	out := make([]Statement, len(s.view.Statements))
	for i, st := range s.view.Statements {
		out[i] = cloneStatement(st)
	}
	return out
}

func (s *Snapshot) Agreements() []Agreement {
	out := make([]Agreement, len(s.view.Agreements))
	for i, g := range s.view.Agreements {
		out[i] = cloneAgreement(g)
	}
	return out
}

func (s *Snapshot) Enactments() []Enactment {
	out := make([]Enactment, len(s.view.Enactments))
	for i, e := range s.view.Enactments {
		out[i] = cloneEnactment(e)
	}
	return out
}

func (s *Snapshot) Policies() []Policy {
	return append([]Policy{}, s.view.Policies...)
}

func (s *Snapshot) Agent(name string) (Agent, bool) {
	i, ok := s.agents[name]
	if !ok {
		return Agent{}, false
	}
	return cloneAgent(s.view.Agents[i]), true
}

func (s *Snapshot) Statement(name string) (Statement, bool) {
	i, ok := s.statements[name]
	if !ok {
		return Statement{}, false
	}
	return cloneStatement(s.view.Statements[i]), true
}

func (s *Snapshot) Agreement(name string) (Agreement, bool) {
	i, ok := s.agreements[name]
	if !ok {
		return Agreement{}, false
	}
	return cloneAgreement(s.view.Agreements[i]), true
}

func (s *Snapshot) Enactment(name string) (Enactment, bool) {
	i, ok := s.enactments[name]
	if !ok {
		return Enactment{}, false
	}
	return cloneEnactment(s.view.Enactments[i]), true
}

func (s *Snapshot) Policy(name string) (Policy, bool) {
	i, ok := s.policies[name]
	if !ok {
		return Policy{}, false
	}
	return s.view.Policies[i], true
}

func (s *Snapshot) ActivePolicy() (Policy, bool) {
	if s.view.ActivePolicy == "" {
		return Policy{}, false
	}
	return s.Policy(s.view.ActivePolicy)
}

func (s *Snapshot) EnactmentOf(agreement, effect string) (Enactment, bool) {
	i, ok := s.enacted[enactKey{agreement, effect}]
	if !ok {
		return Enactment{}, false
	}
	return cloneEnactment(s.view.Enactments[i]), true
}

var (
	_ Reader = (*Store)(nil)
	_ Reader = (*Snapshot)(nil)
)
