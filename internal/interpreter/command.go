// Package interpreter turns parsed scenario commands into store deltas. It
// validates every reference against the current state before building a
// delta, so the store's invariant checks only act as a backstop and users
// get errors that name the offending command and field.
package interpreter

import (
	"strconv"
	"strings"
)

// Kind names a command. The values are the command words of the line
// syntax.
type Kind string

const (
	KindDeclareAgent   Kind = "agent"
	KindGrant          Kind = "grant"
	KindRevoke         Kind = "revoke"
	KindAssert         Kind = "say"
	KindRetract        Kind = "retract"
	KindAgree          Kind = "agree"
	KindEnact          Kind = "enact"
	KindLoadPolicy     Kind = "policy"
	KindActivatePolicy Kind = "activate"
	KindAdvanceTime    Kind = "now"

	KindCheck    Kind = "check"
	KindCheckAll Kind = "check-all"
	KindRollback Kind = "rollback"
	KindInspect  Kind = "inspect"
)

// Kinds lists every command kind in the order help output shows them.
var Kinds = []Kind{
	KindDeclareAgent, KindGrant, KindRevoke, KindAssert, KindRetract,
	KindAgree, KindEnact, KindLoadPolicy, KindActivatePolicy, KindAdvanceTime,
	KindCheck, KindCheckAll, KindRollback, KindInspect,
}

// Mutating reports whether the command kind produces a delta.
func (k Kind) Mutating() bool {
	switch k {
	case KindCheck, KindCheckAll, KindRollback, KindInspect:
		return false
	}
	return true
}

// Valid reports whether k is a known command kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Command is one parsed user command. Which fields are meaningful depends
// on Kind:
//
//	agent     Name
//	grant     Agent, Capability
//	revoke    Agent, Capability
//	say       Agent (author), Name, Payload, optional Retracts
//	retract   Agent (author), Name
//	agree     Name, Parties, Statements, optional At
//	enact     Agent (actor), Name, Agreement, Effect, optional Statements (justification)
//	policy    Name, Rules
//	activate  Name
//	now       At
//	rollback  Seq
type Command struct {
	Kind       Kind     `json:"kind" yaml:"kind"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Agent      string   `json:"agent,omitempty" yaml:"agent,omitempty"`
	Capability string   `json:"capability,omitempty" yaml:"capability,omitempty"`
	Payload    string   `json:"payload,omitempty" yaml:"payload,omitempty"`
	Retracts   string   `json:"retracts,omitempty" yaml:"retracts,omitempty"`
	Parties    []string `json:"parties,omitempty" yaml:"parties,omitempty"`
	Statements []string `json:"statements,omitempty" yaml:"statements,omitempty"`
	Agreement  string   `json:"agreement,omitempty" yaml:"agreement,omitempty"`
	Effect     string   `json:"effect,omitempty" yaml:"effect,omitempty"`
	Rules      string   `json:"rules,omitempty" yaml:"rules,omitempty"`
	At         *int64   `json:"at,omitempty" yaml:"at,omitempty"`
	Seq        *int64   `json:"seq,omitempty" yaml:"seq,omitempty"`
}

// Int64 returns a pointer to v, for the optional numeric fields.
func Int64(v int64) *int64 { return &v }

// String renders the command in the line syntax accepted by the script
// package.
func (c Command) String() string {
	parts := []string{string(c.Kind)}
	switch c.Kind {
	case KindDeclareAgent, KindActivatePolicy:
		parts = append(parts, c.Name)
	case KindGrant, KindRevoke:
		parts = append(parts, c.Agent, c.Capability)
	case KindAssert:
		parts = append(parts, c.Agent, c.Name, strconv.Quote(c.Payload))
		if c.Retracts != "" {
			parts = append(parts, "retracts", c.Retracts)
		}
	case KindRetract:
		parts = append(parts, c.Agent, c.Name)
	case KindAgree:
		parts = append(parts, c.Name, "parties", strings.Join(c.Parties, ","))
		if len(c.Statements) > 0 {
			parts = append(parts, "cites", strings.Join(c.Statements, ","))
		}
		if c.At != nil {
			parts = append(parts, "at", strconv.FormatInt(*c.At, 10))
		}
	case KindEnact:
		parts = append(parts, c.Agent, c.Name, c.Agreement, strconv.Quote(c.Effect))
		if len(c.Statements) > 0 {
			parts = append(parts, "because", strings.Join(c.Statements, ","))
		}
	case KindLoadPolicy:
		parts = append(parts, c.Name, strconv.Quote(c.Rules))
	case KindAdvanceTime:
		if c.At != nil {
			parts = append(parts, strconv.FormatInt(*c.At, 10))
		}
	case KindRollback:
		if c.Seq != nil {
			parts = append(parts, strconv.FormatInt(*c.Seq, 10))
		}
	}
	return strings.Join(parts, " ")
}
