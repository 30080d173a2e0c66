package scenario

// EventKind tags an entry of the audit event stream.
type EventKind string

const (
	EventAdvanceTime  EventKind = "advance_time"
	EventStateMessage EventKind = "state_message"
	EventAddAgreement EventKind = "add_agreement"
	EventEnactAction  EventKind = "enact_action"
)

// RecipientAll addresses every agent. Statements and enactments in a
// scenario are always broadcast.
const RecipientAll = "all"

// Event is one control event of the audit stream produced by Events. The
// stream is what external visualisers consume.
type Event struct {
	Kind      EventKind  `json:"kind"`
	Timestamp *int64     `json:"timestamp,omitempty"`
	Who       string     `json:"who,omitempty"`
	To        string     `json:"to,omitempty"`
	Statement *Statement `json:"statement,omitempty"`
	Agreement *Agreement `json:"agreement,omitempty"`
	Enactment *Enactment `json:"enactment,omitempty"`
}

// Events renders the snapshot as an audit stream: the clock first, then
// every statement, agreement and enactment in log order.
func (s *Snapshot) Events() []Event {
	now := s.view.Time
	events := make([]Event, 0, 1+len(s.view.Statements)+len(s.view.Agreements)+len(s.view.Enactments))
	events = append(events, Event{Kind: EventAdvanceTime, Timestamp: &now})
	for _, st := range s.Statements() {
		st := st
		events = append(events, Event{Kind: EventStateMessage, Who: st.Author, To: RecipientAll, Statement: &st})
	}
	for _, g := range s.Agreements() {
		g := g
		events = append(events, Event{Kind: EventAddAgreement, Agreement: &g})
	}
	for _, e := range s.Enactments() {
		e := e
		events = append(events, Event{Kind: EventEnactAction, Who: e.Actor, To: RecipientAll, Enactment: &e})
	}
	return events
}
