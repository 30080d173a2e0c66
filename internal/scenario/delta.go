package scenario

// DeltaKind names a Delta variant. The names double as the wire tag used
// when deltas are exported.
type DeltaKind string

const (
	KindDeclareAgent     DeltaKind = "declare_agent"
	KindGrantCapability  DeltaKind = "grant_capability"
	KindRevokeCapability DeltaKind = "revoke_capability"
	KindAssertStatement  DeltaKind = "assert_statement"
	KindRetractStatement DeltaKind = "retract_statement"
	KindFormAgreement    DeltaKind = "form_agreement"
	KindRecordEnactment  DeltaKind = "record_enactment"
	KindLoadPolicy       DeltaKind = "load_policy"
	KindActivatePolicy   DeltaKind = "activate_policy"
	KindAdvanceTime      DeltaKind = "advance_time"
)

// Delta is one state transition. The set of implementations is closed.
type Delta interface {
	Kind() DeltaKind
	isDelta()
}

// DeclareAgent introduces a new agent with no capabilities.
type DeclareAgent struct {
	Agent string `json:"agent"`
}

// GrantCapability adds a capability to an agent.
type GrantCapability struct {
	Agent      string `json:"agent"`
	Capability string `json:"capability"`
}

// RevokeCapability removes a capability from an agent.
type RevokeCapability struct {
	Agent      string `json:"agent"`
	Capability string `json:"capability"`
}

// AssertStatement records a new statement. When Retracts is set, the named
// statement of the same author is retracted in the same transition.
type AssertStatement struct {
	Name     string `json:"name"`
	Author   string `json:"author"`
	Payload  string `json:"payload"`
	Retracts string `json:"retracts,omitempty"`
}

// RetractStatement marks a statement as withdrawn by its author.
type RetractStatement struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

// FormAgreement records a joint acceptance of statements by parties.
type FormAgreement struct {
	Name       string   `json:"name"`
	Parties    []string `json:"parties"`
	Statements []string `json:"statements"`
	At         int64    `json:"at"`
}

// RecordEnactment records that an actor executed an effect.
type RecordEnactment struct {
	Name          string   `json:"name"`
	Actor         string   `json:"actor"`
	Agreement     string   `json:"agreement"`
	Effect        string   `json:"effect"`
	Justification []string `json:"justification,omitempty"`
}

// LoadPolicy attaches a rule bundle to the scenario without activating it.
type LoadPolicy struct {
	Name  string `json:"name"`
	Rules string `json:"rules"`
}

// ActivatePolicy makes a loaded policy the one used by checks.
type ActivatePolicy struct {
	Name string `json:"name"`
}

// AdvanceTime moves the logical clock forward.
type AdvanceTime struct {
	To int64 `json:"to"`
}

func (DeclareAgent) Kind() DeltaKind     { return KindDeclareAgent }
func (GrantCapability) Kind() DeltaKind  { return KindGrantCapability }
func (RevokeCapability) Kind() DeltaKind { return KindRevokeCapability }
func (AssertStatement) Kind() DeltaKind  { return KindAssertStatement }
func (RetractStatement) Kind() DeltaKind { return KindRetractStatement }
func (FormAgreement) Kind() DeltaKind    { return KindFormAgreement }
func (RecordEnactment) Kind() DeltaKind  { return KindRecordEnactment }
func (LoadPolicy) Kind() DeltaKind       { return KindLoadPolicy }
func (ActivatePolicy) Kind() DeltaKind   { return KindActivatePolicy }
func (AdvanceTime) Kind() DeltaKind      { return KindAdvanceTime }

func (DeclareAgent) isDelta()     {}
func (GrantCapability) isDelta()  {}
func (RevokeCapability) isDelta() {}
func (AssertStatement) isDelta()  {}
func (RetractStatement) isDelta() {}
func (FormAgreement) isDelta()    {}
func (RecordEnactment) isDelta()  {}
func (LoadPolicy) isDelta()       {}
func (ActivatePolicy) isDelta()   {}
func (AdvanceTime) isDelta()      {}
