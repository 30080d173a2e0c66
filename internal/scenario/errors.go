package scenario

import (
	"fmt"
	"strings"
)

// Invariant identifies one of the consistency rules the store enforces.
type Invariant string

const (
	InvariantNamed              Invariant = "named"
	InvariantUniqueName         Invariant = "unique-name"
	InvariantStatementAuthor    Invariant = "statement-author"
	InvariantRetraction         Invariant = "retraction"
	InvariantAgreementParties   Invariant = "agreement-parties"
	InvariantAgreementCitations Invariant = "agreement-citations"
	InvariantEnactmentBasis     Invariant = "enactment-basis"
	InvariantEnactmentOnce      Invariant = "enactment-once"
	InvariantJustification      Invariant = "justification"
	InvariantCapability         Invariant = "capability"
	InvariantActivePolicy       Invariant = "active-policy"
	InvariantClock              Invariant = "clock"
	InvariantUnknownDelta       Invariant = "unknown-delta"
)

// InvariantViolation reports that applying a delta would break an invariant.
// The store is unchanged when one is returned.
type InvariantViolation struct {
	Invariant Invariant
	Delta     DeltaKind
	Entities  []string
	Detail    string
}

func (v *InvariantViolation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invariant %s violated by %s", v.Invariant, v.Delta)
	if len(v.Entities) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(v.Entities, ", "))
	}
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	return b.String()
}

func violation(inv Invariant, d Delta, detail string, entities ...string) *InvariantViolation {
	kind := DeltaKind("")
	if d != nil {
		kind = d.Kind()
	}
	return &InvariantViolation{Invariant: inv, Delta: kind, Entities: entities, Detail: detail}
}
