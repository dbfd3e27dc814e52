package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// Sequence is an ordered list of steps with a JSON array encoding.
type Sequence []Step

func (s Sequence) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, st := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalStep(st)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (s *Sequence) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("flow: decode steps: %w", err)
	}
	out := make(Sequence, 0, len(raws))
	for i, raw := range raws {
		st, err := UnmarshalStep(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, st)
	}
	*s = out
	return nil
}

// Clone returns a copy that shares no backing array with s.
func (s Sequence) Clone() Sequence {
	if s == nil {
		return Sequence{}
	}
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// ValidationError describes why a sequence cannot be replayed.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid flow: " + e.Reason
	}
	return fmt.Sprintf("invalid flow: step %d: %s", e.Index, e.Reason)
}

// Validate checks the replay preconditions: a non-empty sequence that opens
// with exactly one Goto to an absolute URL, followed by well-formed steps.
func Validate(s Sequence) error {
	if len(s) == 0 {
		return &ValidationError{Index: -1, Reason: "flow has no steps"}
	}
	if _, ok := s[0].(Goto); !ok {
		return &ValidationError{Index: 0, Reason: "first step must be goto"}
	}
	for i, st := range s {
		switch v := st.(type) {
		case Goto:
			if i != 0 {
				return &ValidationError{Index: i, Reason: "goto is only allowed as the first step"}
			}
			if !absoluteURL(v.URL) {
				return &ValidationError{Index: i, Reason: fmt.Sprintf("goto url %q is not absolute", v.URL)}
			}
		case Wait:
			if v.DurationMs < 0 {
				return &ValidationError{Index: i, Reason: "wait duration is negative"}
			}
		case Click:
			if err := checkTarget(i, v.Selector, v.FrameID); err != nil {
				return err
			}
		case Change:
			if err := checkTarget(i, v.Selector, v.FrameID); err != nil {
				return err
			}
		case nil:
			return &ValidationError{Index: i, Reason: "step is empty"}
		default:
			return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown step %T", st)}
		}
	}
	return nil
}

func checkTarget(i int, selector string, frameID int) error {
	if selector == "" {
		return &ValidationError{Index: i, Reason: "selector is empty"}
	}
	if frameID < 0 {
		return &ValidationError{Index: i, Reason: "frame id is negative"}
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	switch u.Scheme {
	case "file", "about", "data":
		return true
	default:
		return u.Host != ""
	}
}
