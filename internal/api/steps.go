package api

import (
	"fmt"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/flow"
)

// stepBody is the flat wire form of a flow step, so the OpenAPI document can
// describe it. Fields that do not apply to a step type are omitted.
type stepBody struct {
	Type       string  `json:"type" enum:"goto,wait,click,change" doc:"Step kind"`
	URL        string  `json:"url,omitempty" doc:"goto: absolute URL to open"`
	DurationMs *int64  `json:"durationMs,omitempty" doc:"wait: pause in milliseconds"`
	Selector   string  `json:"selector,omitempty" doc:"click/change: CSS selector of the target"`
	Label      *string `json:"label,omitempty" doc:"click: visible label of the target"`
	Value      *string `json:"value,omitempty" doc:"change: committed value"`
	FrameID    *int    `json:"frameId,omitempty" doc:"click/change: frame ordinal, 0 is the top frame"`
}

func toWire(steps flow.Sequence) ([]stepBody, error) {
	out := make([]stepBody, 0, len(steps))
	for i, st := range steps {
		switch s := st.(type) {
		case flow.Goto:
			out = append(out, stepBody{Type: flow.TypeGoto, URL: s.URL})
		case flow.Wait:
			d := s.DurationMs
			out = append(out, stepBody{Type: flow.TypeWait, DurationMs: &d})
		case flow.Click:
			label, frame := s.Label, s.FrameID
			out = append(out, stepBody{Type: flow.TypeClick, Selector: s.Selector, Label: &label, FrameID: &frame})
		case flow.Change:
			value, frame := s.Value, s.FrameID
			out = append(out, stepBody{Type: flow.TypeChange, Selector: s.Selector, Value: &value, FrameID: &frame})
		default:
			return nil, fmt.Errorf("step %d: unknown step %T", i, st)
		}
	}
	return out, nil
}

func fromWire(body []stepBody) (flow.Sequence, error) {
	out := make(flow.Sequence, 0, len(body))
	for i, b := range body {
		switch b.Type {
		case flow.TypeGoto:
			out = append(out, flow.Goto{URL: b.URL})
		case flow.TypeWait:
			out = append(out, flow.Wait{DurationMs: deref(b.DurationMs)})
		case flow.TypeClick:
			out = append(out, flow.Click{Selector: b.Selector, Label: deref(b.Label), FrameID: deref(b.FrameID)})
		case flow.TypeChange:
			out = append(out, flow.Change{Selector: b.Selector, Value: deref(b.Value), FrameID: deref(b.FrameID)})
		default:
			return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fmt.Sprintf("step %d: unknown type %q", i, b.Type)}
		}
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
