package interpreter

import (
	"fmt"
	"strings"
	"unicode"

	"justact/internal/scenario"
)

// Interpret validates cmd against state and returns the delta it stands
// for. Control commands (check, check-all, rollback, inspect) are rejected
// with ErrNotMutating; the session handles them itself. Interpret never
// mutates anything.
func Interpret(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if !cmd.Kind.Valid() {
		return nil, reject(cmd.Kind, "kind", ErrUnknownCommand, string(cmd.Kind))
	}
	if !cmd.Kind.Mutating() {
		return nil, reject(cmd.Kind, "", ErrNotMutating, "")
	}

	switch cmd.Kind {
	case KindDeclareAgent:
		return declareAgent(state, cmd)
	case KindGrant:
		return grant(state, cmd)
	case KindRevoke:
		return revoke(state, cmd)
	case KindAssert:
		return assert(state, cmd)
	case KindRetract:
		return retract(state, cmd)
	case KindAgree:
		return agree(state, cmd)
	case KindEnact:
		return enact(state, cmd)
	case KindLoadPolicy:
		return loadPolicy(state, cmd)
	case KindActivatePolicy:
		return activatePolicy(state, cmd)
	case KindAdvanceTime:
		return advanceTime(state, cmd)
	}
	return nil, reject(cmd.Kind, "kind", ErrUnknownCommand, string(cmd.Kind))
}

// RollbackTarget validates a rollback command and returns the sequence to
// restore.
func RollbackTarget(state scenario.Reader, cmd Command) (scenario.Seq, error) {
	if cmd.Kind != KindRollback {
		return scenario.NoSeq, reject(cmd.Kind, "kind", ErrMalformed, "expected rollback")
	}
	if cmd.Seq == nil {
		return scenario.NoSeq, malformed(cmd.Kind, "seq", "sequence number is required")
	}
	target := scenario.Seq(*cmd.Seq)
	if target < 0 || target > state.Seq() {
		return scenario.NoSeq, &CommandError{
			Command: cmd.Kind,
			Field:   "seq",
			Value:   fmt.Sprintf("%d (current %s)", *cmd.Seq, state.Seq()),
			Err:     ErrOutOfRange,
		}
	}
	return target, nil
}

// ActivePolicy returns the policy a check command evaluates against.
func ActivePolicy(state scenario.Reader, cmd Command) (scenario.Policy, error) {
	p, ok := state.ActivePolicy()
	if !ok {
		return scenario.Policy{}, reject(cmd.Kind, "policy", ErrNoActivePolicy, "")
	}
	return p, nil
}

// LoadedPolicies returns every loaded policy, in load order, for a check-all
// command.
func LoadedPolicies(snap *scenario.Snapshot, cmd Command) ([]scenario.Policy, error) {
	policies := snap.Policies()
	if len(policies) == 0 {
		return nil, reject(cmd.Kind, "policy", ErrNoPolicies, "")
	}
	return policies, nil
}

func declareAgent(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if err := checkName(cmd.Kind, "name", cmd.Name); err != nil {
		return nil, err
	}
	if _, ok := state.Agent(cmd.Name); ok {
		return nil, reject(cmd.Kind, "name", ErrDuplicateName, cmd.Name)
	}
	return scenario.DeclareAgent{Agent: cmd.Name}, nil
}

func grant(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	a, err := requireAgent(state, cmd, "agent", cmd.Agent)
	if err != nil {
		return nil, err
	}
	if err := checkName(cmd.Kind, "capability", cmd.Capability); err != nil {
		return nil, err
	}
	for _, c := range a.Capabilities {
		if c == cmd.Capability {
			return nil, &CommandError{Command: cmd.Kind, Field: "capability", Value: cmd.Capability,
				Err: fmt.Errorf("%w already granted to %s", ErrCapability, a.Name)}
		}
	}
	return scenario.GrantCapability{Agent: a.Name, Capability: cmd.Capability}, nil
}

func revoke(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	a, err := requireAgent(state, cmd, "agent", cmd.Agent)
	if err != nil {
		return nil, err
	}
	for _, c := range a.Capabilities {
		if c == cmd.Capability {
			return scenario.RevokeCapability{Agent: a.Name, Capability: c}, nil
		}
	}
	return nil, &CommandError{Command: cmd.Kind, Field: "capability", Value: cmd.Capability,
		Err: fmt.Errorf("%w not held by %s", ErrCapability, a.Name)}
}

func assert(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if _, err := requireAgent(state, cmd, "agent", cmd.Agent); err != nil {
		return nil, err
	}
	if err := checkName(cmd.Kind, "name", cmd.Name); err != nil {
		return nil, err
	}
	if _, ok := state.Statement(cmd.Name); ok {
		return nil, reject(cmd.Kind, "name", ErrDuplicateName, cmd.Name)
	}
	if strings.TrimSpace(cmd.Payload) == "" {
		return nil, malformed(cmd.Kind, "payload", "payload is empty")
	}
	if cmd.Retracts != "" {
		if err := retractable(state, cmd, "retracts", cmd.Retracts); err != nil {
			return nil, err
		}
	}
	return scenario.AssertStatement{
		Name:     cmd.Name,
		Author:   cmd.Agent,
		Payload:  cmd.Payload,
		Retracts: cmd.Retracts,
	}, nil
}

func retract(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if _, err := requireAgent(state, cmd, "agent", cmd.Agent); err != nil {
		return nil, err
	}
	if err := retractable(state, cmd, "name", cmd.Name); err != nil {
		return nil, err
	}
	return scenario.RetractStatement{Name: cmd.Name, Author: cmd.Agent}, nil
}

// retractable checks that cmd.Agent may retract the named statement.
func retractable(state scenario.Reader, cmd Command, field, name string) error {
	st, err := requireStatement(state, cmd, field, name)
	if err != nil {
		return err
	}
	if st.Author != cmd.Agent {
		return &CommandError{Command: cmd.Kind, Field: field,
			Err: fmt.Errorf("%s is %w %s (author is %s)", cmd.Agent, ErrNotAuthor, name, st.Author)}
	}
	return nil
}

func agree(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if err := checkName(cmd.Kind, "name", cmd.Name); err != nil {
		return nil, err
	}
	if _, ok := state.Agreement(cmd.Name); ok {
		return nil, reject(cmd.Kind, "name", ErrDuplicateName, cmd.Name)
	}
	if len(cmd.Parties) == 0 {
		return nil, malformed(cmd.Kind, "parties", "an agreement needs at least one party")
	}
	seen := make(map[string]bool, len(cmd.Parties))
	for _, p := range cmd.Parties {
		if _, err := requireAgent(state, cmd, "parties", p); err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, malformed(cmd.Kind, "parties", fmt.Sprintf("party %s listed twice", p))
		}
		seen[p] = true
	}
	if len(cmd.Statements) == 0 {
		return nil, malformed(cmd.Kind, "statements", "an agreement must cite at least one statement")
	}
	if err := citable(state, cmd, "statements", cmd.Statements); err != nil {
		return nil, err
	}

	at := state.Time()
	if cmd.At != nil {
		if *cmd.At < 0 {
			return nil, malformed(cmd.Kind, "at", "time must not be negative")
		}
		at = *cmd.At
	}
	return scenario.FormAgreement{
		Name:       cmd.Name,
		Parties:    append([]string{}, cmd.Parties...),
		Statements: append([]string{}, cmd.Statements...),
		At:         at,
	}, nil
}

func enact(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if _, err := requireAgent(state, cmd, "agent", cmd.Agent); err != nil {
		return nil, err
	}
	if err := checkName(cmd.Kind, "name", cmd.Name); err != nil {
		return nil, err
	}
	if _, ok := state.Enactment(cmd.Name); ok {
		return nil, reject(cmd.Kind, "name", ErrDuplicateName, cmd.Name)
	}
	g, ok := state.Agreement(cmd.Agreement)
	if !ok {
		return nil, reject(cmd.Kind, "agreement", ErrUnknownAgree, cmd.Agreement)
	}
	if !g.HasParty(cmd.Agent) {
		return nil, &CommandError{Command: cmd.Kind, Field: "agent",
			Err: fmt.Errorf("%s is %w %s", cmd.Agent, ErrNotParty, g.Name)}
	}
	if strings.TrimSpace(cmd.Effect) == "" {
		return nil, malformed(cmd.Kind, "effect", "effect is empty")
	}
	if prior, ok := state.EnactmentOf(g.Name, cmd.Effect); ok {
		return nil, &CommandError{Command: cmd.Kind, Field: "effect", Value: cmd.Effect,
			Err: fmt.Errorf("%w %s by %s", ErrAlreadyEnacted, g.Name, prior.Name)}
	}
	if err := citable(state, cmd, "statements", cmd.Statements); err != nil {
		return nil, err
	}
	return scenario.RecordEnactment{
		Name:          cmd.Name,
		Actor:         cmd.Agent,
		Agreement:     g.Name,
		Effect:        cmd.Effect,
		Justification: append([]string{}, cmd.Statements...),
	}, nil
}

func loadPolicy(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if err := checkName(cmd.Kind, "name", cmd.Name); err != nil {
		return nil, err
	}
	if _, ok := state.Policy(cmd.Name); ok {
		return nil, reject(cmd.Kind, "name", ErrDuplicateName, cmd.Name)
	}
	// Rule text is passed through verbatim; only the evaluator parses it.
	return scenario.LoadPolicy{Name: cmd.Name, Rules: cmd.Rules}, nil
}

func activatePolicy(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if _, ok := state.Policy(cmd.Name); !ok {
		return nil, reject(cmd.Kind, "name", ErrUnknownPolicy, cmd.Name)
	}
	return scenario.ActivatePolicy{Name: cmd.Name}, nil
}

func advanceTime(state scenario.Reader, cmd Command) (scenario.Delta, error) {
	if cmd.At == nil {
		return nil, malformed(cmd.Kind, "at", "time is required")
	}
	if *cmd.At < state.Time() {
		return nil, &CommandError{Command: cmd.Kind, Field: "at",
			Value: fmt.Sprintf("%d (current %d)", *cmd.At, state.Time()), Err: ErrClock}
	}
	return scenario.AdvanceTime{To: *cmd.At}, nil
}

func requireAgent(state scenario.Reader, cmd Command, field, name string) (scenario.Agent, error) {
	if name == "" {
		return scenario.Agent{}, malformed(cmd.Kind, field, "agent name is required")
	}
	a, ok := state.Agent(name)
	if !ok {
		return scenario.Agent{}, reject(cmd.Kind, field, ErrUnknownAgent, name)
	}
	return a, nil
}

func requireStatement(state scenario.Reader, cmd Command, field, name string) (scenario.Statement, error) {
	if name == "" {
		return scenario.Statement{}, malformed(cmd.Kind, field, "statement name is required")
	}
	st, ok := state.Statement(name)
	if !ok {
		return scenario.Statement{}, reject(cmd.Kind, field, ErrUnknownStmt, name)
	}
	if st.Retracted() {
		return scenario.Statement{}, reject(cmd.Kind, field, ErrRetracted, name)
	}
	return st, nil
}

// citable checks that every named statement exists, is live, and is named
// only once.
func citable(state scenario.Reader, cmd Command, field string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := requireStatement(state, cmd, field, name); err != nil {
			return err
		}
		if seen[name] {
			return malformed(cmd.Kind, field, fmt.Sprintf("statement %s cited twice", name))
		}
		seen[name] = true
	}
	return nil
}

// checkName enforces the identifier shape shared by every entity kind:
// letters, digits and _-.:@ only. Names appear unquoted in the line syntax
// and in comma separated lists, so whitespace and commas are excluded.
func checkName(kind Kind, field, name string) error {
	if name == "" {
		return malformed(kind, field, "name is required")
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-.:@", r) {
			continue
		}
		return malformed(kind, field, fmt.Sprintf("invalid character %q in name %q", r, name))
	}
	return nil
}
