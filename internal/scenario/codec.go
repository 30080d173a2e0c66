package scenario

import (
	"encoding/json"
	"fmt"
)

type deltaEnvelope struct {
	Kind DeltaKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeDelta renders d as {"kind": ..., "data": {...}}.
func EncodeDelta(d Delta) (json.RawMessage, error) {
	if d == nil {
		return nil, fmt.Errorf("encode delta: nil delta")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Kind(), err)
	}
	return json.Marshal(deltaEnvelope{Kind: d.Kind(), Data: data})
}

// DecodeDelta is the inverse of EncodeDelta.
func DecodeDelta(raw []byte) (Delta, error) {
	var env deltaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}

	var d Delta
	var err error
	switch env.Kind {
	case KindDeclareAgent:
		d, err = decodeAs[DeclareAgent](env.Data)
	case KindGrantCapability:
		d, err = decodeAs[GrantCapability](env.Data)
	case KindRevokeCapability:
		d, err = decodeAs[RevokeCapability](env.Data)
	case KindAssertStatement:
		d, err = decodeAs[AssertStatement](env.Data)
	case KindRetractStatement:
		d, err = decodeAs[RetractStatement](env.Data)
	case KindFormAgreement:
		d, err = decodeAs[FormAgreement](env.Data)
	case KindRecordEnactment:
		d, err = decodeAs[RecordEnactment](env.Data)
	case KindLoadPolicy:
		d, err = decodeAs[LoadPolicy](env.Data)
	case KindActivatePolicy:
		d, err = decodeAs[ActivatePolicy](env.Data)
	case KindAdvanceTime:
		d, err = decodeAs[AdvanceTime](env.Data)
	default:
		return nil, fmt.Errorf("decode delta: unknown kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return d, nil
}

func decodeAs[T Delta](data json.RawMessage) (Delta, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
