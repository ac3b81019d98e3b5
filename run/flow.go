package run

import (
	"sortie/script"
	"sortie/store"
)

// FlowDirective is the decoded form of a stage script's return value.
// Scripts signal flow control by returning the conventional envelope
// {"_envelope_": {"kind": ..., "data": {...}}}; anything else decodes
// to FlowNone carrying the value as a plain result.
type FlowDirective interface {
	flowDirective()
}

// FlowNone is a plain pass-through result.
type FlowNone struct {
	Value any
}

// FlowSkip ends the task as Skip without running Ai or Output.
type FlowSkip struct {
	Reason *string
}

// FlowDataResponse substitutes the effective input, data value, and
// option overlay for the remainder of one task.
type FlowDataResponse struct {
	Input    any
	HasInput bool
	Data     any
	HasData  bool
	Options  map[string]any
}

// FlowBeforeAllResponse reshapes the run's input list and option overlay
// before any task starts.
type FlowBeforeAllResponse struct {
	Inputs       []any
	HasInputs    bool
	Options      map[string]any
	BeforeAll    any
	HasBeforeAll bool
}

func (FlowNone) flowDirective()              {}
func (FlowSkip) flowDirective()              {}
func (FlowDataResponse) flowDirective()      {}
func (FlowBeforeAllResponse) flowDirective() {}

// interpretFlow decodes a stage script's return value. Values that do
// not match the envelope shape, including unknown kinds, pass through as
// FlowNone. A recognized kind with a malformed payload, or one returned
// at a stage that cannot honor it, is a FlowEnvelopeError.
func interpretFlow(stage store.Stage, value any) (FlowDirective, error) {
	outer, ok := value.(map[string]any)
	if !ok {
		return FlowNone{Value: value}, nil
	}
	raw, ok := outer[script.EnvelopeKey]
	if !ok {
		return FlowNone{Value: value}, nil
	}
	env, ok := raw.(map[string]any)
	if !ok {
		return FlowNone{Value: value}, nil
	}
	kind, _ := env["kind"].(string)
	switch kind {
	case script.KindSkip, script.KindDataResponse, script.KindBeforeAllResponse:
	default:
		return FlowNone{Value: value}, nil
	}

	data := map[string]any{}
	if rawData, present := env["data"]; present && rawData != nil {
		if data, ok = rawData.(map[string]any); !ok {
			return nil, &FlowEnvelopeError{Stage: stage, Kind: kind, Reason: "data is not an object"}
		}
	}

	if err := checkStagePlacement(stage, kind); err != nil {
		return nil, err
	}

	switch kind {
	case script.KindSkip:
		return decodeSkip(stage, data)
	case script.KindDataResponse:
		return decodeDataResponse(stage, data)
	default:
		return decodeBeforeAllResponse(stage, data)
	}
}

// checkStagePlacement rejects directives at stages that cannot honor
// them. Output never accepts a directive; its scripts shape the final
// value only.
func checkStagePlacement(stage store.Stage, kind string) error {
	allowed := false
	switch stage {
	case store.StageBeforeAll:
		allowed = kind == script.KindBeforeAllResponse
	case store.StageData:
		allowed = kind == script.KindSkip || kind == script.KindDataResponse
	}
	if !allowed {
		return &FlowEnvelopeError{Stage: stage, Kind: kind, Reason: "not valid at this stage"}
	}
	return nil
}

func decodeSkip(stage store.Stage, data map[string]any) (FlowDirective, error) {
	d := FlowSkip{}
	if raw, present := data["reason"]; present && raw != nil {
		reason, ok := raw.(string)
		if !ok {
			return nil, &FlowEnvelopeError{Stage: stage, Kind: script.KindSkip, Reason: "reason is not a string"}
		}
		d.Reason = &reason
	}
	return d, nil
}

func decodeDataResponse(stage store.Stage, data map[string]any) (FlowDirective, error) {
	d := FlowDataResponse{}
	if raw, present := data["input"]; present {
		d.Input = raw
		d.HasInput = true
	}
	if raw, present := data["data"]; present {
		d.Data = raw
		d.HasData = true
	}
	if raw, present := data["options"]; present && raw != nil {
		opts, ok := raw.(map[string]any)
		if !ok {
			return nil, &FlowEnvelopeError{Stage: stage, Kind: script.KindDataResponse, Reason: "options is not an object"}
		}
		d.Options = opts
	}
	return d, nil
}

func decodeBeforeAllResponse(stage store.Stage, data map[string]any) (FlowDirective, error) {
	d := FlowBeforeAllResponse{}
	if raw, present := data["inputs"]; present && raw != nil {
		inputs, ok := raw.([]any)
		if !ok {
			return nil, &FlowEnvelopeError{Stage: stage, Kind: script.KindBeforeAllResponse, Reason: "inputs is not an array"}
		}
		d.Inputs = inputs
		d.HasInputs = true
	}
	if raw, present := data["options"]; present && raw != nil {
		opts, ok := raw.(map[string]any)
		if !ok {
			return nil, &FlowEnvelopeError{Stage: stage, Kind: script.KindBeforeAllResponse, Reason: "options is not an object"}
		}
		d.Options = opts
	}
	if raw, present := data["before_all"]; present {
		d.BeforeAll = raw
		d.HasBeforeAll = true
	}
	return d, nil
}
