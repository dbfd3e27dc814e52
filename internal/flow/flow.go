// Package flow defines the recorded step model shared by recording, storage and replay.
package flow

import (
	"encoding/json"
	"fmt"
)

// Step wire discriminators.
const (
	TypeGoto   = "goto"
	TypeWait   = "wait"
	TypeClick  = "click"
	TypeChange = "change"
)

// Step is one replayable unit of a flow. The set of implementations is closed.
type Step interface {
	Type() string
	step()
}

// Goto opens a URL. Only valid as the first step of a flow.
type Goto struct {
	URL string `json:"url"`
}

// Wait pauses replay for DurationMs milliseconds.
type Wait struct {
	DurationMs int64 `json:"durationMs"`
}

// Click activates the element matched by Selector inside frame FrameID.
type Click struct {
	Selector string `json:"selector"`
	Label    string `json:"label"`
	FrameID  int    `json:"frameId"`
}

// Change commits Value to the form control matched by Selector.
type Change struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
	FrameID  int    `json:"frameId"`
}

func (Goto) Type() string   { return TypeGoto }
func (Wait) Type() string   { return TypeWait }
func (Click) Type() string  { return TypeClick }
func (Change) Type() string { return TypeChange }

func (Goto) step()   {}
func (Wait) step()   {}
func (Click) step()  {}
func (Change) step() {}

// Frame reports the frame ordinal an action step targets. ok is false for Goto and Wait.
func Frame(s Step) (frameID int, ok bool) {
	switch v := s.(type) {
	case Click:
		return v.FrameID, true
	case Change:
		return v.FrameID, true
	default:
		return 0, false
	}
}

// IsAction reports whether s interacts with an element.
func IsAction(s Step) bool {
	_, ok := Frame(s)
	return ok
}

// MarshalStep encodes a single step with its type discriminator.
func MarshalStep(s Step) ([]byte, error) {
	switch v := s.(type) {
	case Goto:
		return json.Marshal(struct {
			Type string `json:"type"`
			Goto
		}{TypeGoto, v})
	case Wait:
		return json.Marshal(struct {
			Type string `json:"type"`
			Wait
		}{TypeWait, v})
	case Click:
		return json.Marshal(struct {
			Type string `json:"type"`
			Click
		}{TypeClick, v})
	case Change:
		return json.Marshal(struct {
			Type string `json:"type"`
			Change
		}{TypeChange, v})
	default:
		return nil, fmt.Errorf("flow: unknown step %T", s)
	}
}

// UnmarshalStep decodes a single step object.
func UnmarshalStep(data []byte) (Step, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("flow: decode step: %w", err)
	}
	switch head.Type {
	case TypeGoto:
		var s Goto
		err := json.Unmarshal(data, &s)
		return s, wrapDecode(err)
	case TypeWait:
		var s Wait
		err := json.Unmarshal(data, &s)
		return s, wrapDecode(err)
	case TypeClick:
		var s Click
		err := json.Unmarshal(data, &s)
		return s, wrapDecode(err)
	case TypeChange:
		var s Change
		err := json.Unmarshal(data, &s)
		return s, wrapDecode(err)
	case "":
		return nil, fmt.Errorf("flow: step missing type")
	default:
		return nil, fmt.Errorf("flow: unknown step type %q", head.Type)
	}
}

func wrapDecode(err error) error {
	if err != nil {
		return fmt.Errorf("flow: decode step: %w", err)
	}
	return nil
}

// Describe renders s as its wire JSON for error messages.
func Describe(s Step) string {
	b, err := MarshalStep(s)
	if err != nil {
		return fmt.Sprintf("%#v", s)
	}
	return string(b)
}
