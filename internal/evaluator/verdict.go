package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"justact/internal/scenario"
)

// Answer is the verdict word an evaluator responds with.
type Answer string

const (
	AnswerValid   Answer = "valid"
	AnswerInvalid Answer = "invalid"
)

// Response is what an evaluator returns for one Request.
type Response struct {
	Verdict  Answer          `json:"verdict"`
	Witness  json.RawMessage `json:"witness,omitempty"`
	Artifact string          `json:"artifact,omitempty"`
}

// DecodeResponse parses raw evaluator output. Anything that is not a valid
// response yields an EvaluatorError with ReasonMalformedResponse.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, newError(ReasonMalformedResponse, err)
	}
	if err := resp.validate(); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (r Response) validate() *EvaluatorError {
	switch r.Verdict {
	case AnswerValid:
		return nil
	case AnswerInvalid:
		if len(r.Witness) == 0 || string(r.Witness) == "null" {
			return &EvaluatorError{Reason: ReasonMalformedResponse, Detail: "invalid verdict without witness"}
		}
		if !json.Valid(r.Witness) {
			return &EvaluatorError{Reason: ReasonMalformedResponse, Detail: "witness is not valid JSON"}
		}
		return nil
	case "":
		return &EvaluatorError{Reason: ReasonMalformedResponse, Detail: "missing verdict"}
	}
	return &EvaluatorError{Reason: ReasonMalformedResponse, Detail: fmt.Sprintf("unknown verdict %q", r.Verdict)}
}

// Kind is the outcome class of a Verdict.
type Kind string

const (
	KindValid   Kind = "valid"
	KindInvalid Kind = "invalid"
	KindError   Kind = "error"
)

// Verdict is the interpreted result of evaluating one snapshot under one
// policy. It stays tied to the policy and snapshot it was computed for;
// later changes to the scenario never revise it.
type Verdict struct {
	Kind       Kind            `json:"kind"`
	Policy     string          `json:"policy"`
	Seq        scenario.Seq    `json:"seq"`
	SnapshotID string          `json:"snapshot_id"`
	Evaluator  string          `json:"evaluator,omitempty"`
	Witness    json.RawMessage `json:"witness,omitempty"`
	Artifact   string          `json:"artifact,omitempty"`
	Err        *EvaluatorError `json:"error,omitempty"`
}

// Valid reports whether the verdict is KindValid.
func (v Verdict) Valid() bool { return v.Kind == KindValid }

func (v Verdict) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s under %s at seq %s", v.Kind, v.Policy, v.Seq)
	switch v.Kind {
	case KindInvalid:
		fmt.Fprintf(&b, ": %s", v.Witness)
	case KindError:
		if v.Err != nil {
			fmt.Fprintf(&b, ": %s", v.Err.Error())
		}
	case KindValid:
		if v.Artifact != "" {
			fmt.Fprintf(&b, " (artifact %s)", v.Artifact)
		}
	}
	return b.String()
}
