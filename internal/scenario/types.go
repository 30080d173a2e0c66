// Package scenario holds the canonical, versioned record of a JustAct
// scenario: agents, statements, agreements, enactments, policies and the
// logical clock. It performs no I/O. Every mutation goes through Store.Apply,
// which either applies a Delta completely or rejects it with an
// *InvariantViolation and leaves the store untouched.
package scenario

import "strconv"

// Seq is a position in the scenario log. The first applied delta has
// sequence 0; an empty store sits at NoSeq.
type Seq int64

// NoSeq is the sequence of a store that has not applied any delta.
const NoSeq Seq = -1

// String renders the sequence for messages; NoSeq prints as "-".
func (s Seq) String() string {
	if s == NoSeq {
		return "-"
	}
	return strconv.FormatInt(int64(s), 10)
}

// Agent is a named participant. Capabilities are kept sorted.
type Agent struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	DeclaredAt   Seq      `json:"declared_at"`
}

// Retraction marks a statement as withdrawn. The statement itself stays in
// the store so that the log can always be replayed.
type Retraction struct {
	At   Seq    `json:"at"`
	Time int64  `json:"time"`
	By   string `json:"by,omitempty"` // statement that superseded it, if any
}

// Statement is an immutable fact asserted by exactly one agent.
type Statement struct {
	Name       string      `json:"name"`
	Author     string      `json:"author"`
	Payload    string      `json:"payload"`
	AssertedAt Seq         `json:"asserted_at"`
	Time       int64       `json:"time"`
	Retraction *Retraction `json:"retraction,omitempty"`
}

// Retracted reports whether the statement has been withdrawn.
func (s Statement) Retracted() bool {
	return s.Retraction != nil
}

// Agreement records that Parties jointly accepted Statements as the
// justification for future action, applying from logical time At.
type Agreement struct {
	Name       string   `json:"name"`
	Parties    []string `json:"parties"`
	Statements []string `json:"statements"`
	At         int64    `json:"at"`
	FormedAt   Seq      `json:"formed_at"`
}

// HasParty reports whether agent is one of the agreement's parties.
func (a Agreement) HasParty(agent string) bool {
	for _, p := range a.Parties {
		if p == agent {
			return true
		}
	}
	return false
}

// Enactment records that Actor executed Effect on the basis of Agreement.
type Enactment struct {
	Name          string   `json:"name"`
	Actor         string   `json:"actor"`
	Agreement     string   `json:"agreement"`
	Effect        string   `json:"effect"`
	Justification []string `json:"justification"`
	Time          int64    `json:"time"`
	RecordedAt    Seq      `json:"recorded_at"`
}

// Policy is a named bundle of rules in the evaluator's language. The rule
// text is never interpreted here.
type Policy struct {
	Name     string `json:"name"`
	Rules    string `json:"rules"`
	LoadedAt Seq    `json:"loaded_at"`
}

// Reader is the read-only query surface shared by the live Store and by
// immutable Snapshots.
type Reader interface {
	Seq() Seq
	Time() int64
	Agent(name string) (Agent, bool)
	Statement(name string) (Statement, bool)
	Agreement(name string) (Agreement, bool)
	Enactment(name string) (Enactment, bool)
	Policy(name string) (Policy, bool)
	ActivePolicy() (Policy, bool)
	// EnactmentOf returns the enactment that already used agreement for
	// effect, if there is one.
	EnactmentOf(agreement, effect string) (Enactment, bool)
}
