// Package evaluator hands scenario snapshots to a policy evaluator and turns
// the answer into a Verdict. The Bridge owns timeouts, error
// classification and fan-out; Evaluator implementations only speak the
// request/response contract.
package evaluator

import (
	"encoding/json"

	"justact/internal/scenario"
)

// PolicyRef is the policy section of a request.
type PolicyRef struct {
	Name  string `json:"name"`
	Rules string `json:"rules"`
}

// Request is the bundle an evaluator receives. Entities appear in log
// order, so the same snapshot and policy always encode to the same bytes.
type Request struct {
	Seq        scenario.Seq         `json:"seq"`
	SnapshotID string               `json:"snapshot_id"`
	Time       int64                `json:"time"`
	Agents     []scenario.Agent     `json:"agents"`
	Statements []scenario.Statement `json:"statements"`
	Agreements []scenario.Agreement `json:"agreements"`
	Enactments []scenario.Enactment `json:"enactments"`
	Policy     PolicyRef            `json:"policy"`
}

// NewRequest builds the request for evaluating snap under policy.
func NewRequest(snap *scenario.Snapshot, policy scenario.Policy) Request {
	return Request{
		Seq:        snap.Seq(),
		SnapshotID: snap.Digest(),
		Time:       snap.Time(),
		Agents:     snap.Agents(),
		Statements: snap.Statements(),
		Agreements: snap.Agreements(),
		Enactments: snap.Enactments(),
		Policy:     PolicyRef{Name: policy.Name, Rules: policy.Rules},
	}
}

// Encode renders the request as JSON.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}
