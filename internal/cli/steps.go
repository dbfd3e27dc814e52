package cli

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is the API's flat step form. It carries both tag sets so a flow can be
// exported to and imported from JSON or YAML files.
type Step struct {
	Type       string  `json:"type" yaml:"type"`
	URL        string  `json:"url,omitempty" yaml:"url,omitempty"`
	DurationMs *int64  `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
	Selector   string  `json:"selector,omitempty" yaml:"selector,omitempty"`
	Label      *string `json:"label,omitempty" yaml:"label,omitempty"`
	Value      *string `json:"value,omitempty" yaml:"value,omitempty"`
	FrameID    *int    `json:"frameId,omitempty" yaml:"frameId,omitempty"`
}

// Flow is a named step list.
type Flow struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// RunResult mirrors the run endpoint's answer.
type RunResult struct {
	Name       string `json:"name"`
	RunID      string `json:"runId"`
	OK         bool   `json:"ok"`
	Steps      int    `json:"steps"`
	Executed   int    `json:"executed"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	FailedStep *int   `json:"failedStep,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// Snapshot mirrors a failure screenshot entry.
type Snapshot struct {
	ID        string `json:"id"`
	Flow      string `json:"flow"`
	StepIndex int    `json:"stepIndex"`
	Error     string `json:"error"`
	Format    string `json:"format"`
	SizeBytes int    `json:"sizeBytes"`
	CreatedAt string `json:"createdAt"`
	URL       string `json:"url"`
}

// RecordingState mirrors GET /recording.
type RecordingState struct {
	IsRecording bool   `json:"isRecording"`
	SessionID   string `json:"sessionId,omitempty"`
	TabID       string `json:"tabId,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	Steps       []Step `json:"steps"`
}

// parseSteps reads a flow file. JSON is a subset of YAML, so one decoder
// handles both. The file may hold a bare step list or a {name, steps} object.
func parseSteps(data []byte) ([]Step, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse flow file: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("parse flow file: empty document")
	}
	doc := node.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var steps []Step
		if err := doc.Decode(&steps); err != nil {
			return nil, fmt.Errorf("parse flow file: %w", err)
		}
		return steps, nil
	case yaml.MappingNode:
		var f Flow
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse flow file: %w", err)
		}
		if f.Steps == nil {
			return nil, fmt.Errorf("parse flow file: no steps")
		}
		return f.Steps, nil
	default:
		return nil, fmt.Errorf("parse flow file: expected a step list or an object with steps")
	}
}

// describe renders one step on a single line.
func describe(s Step) string {
	switch s.Type {
	case "goto":
		return "goto " + s.URL
	case "wait":
		return fmt.Sprintf("wait %dms", deref(s.DurationMs))
	case "click":
		label := strings.TrimSpace(deref(s.Label))
		if label != "" {
			return fmt.Sprintf("click %s %q [frame %d]", s.Selector, label, deref(s.FrameID))
		}
		return fmt.Sprintf("click %s [frame %d]", s.Selector, deref(s.FrameID))
	case "change":
		return fmt.Sprintf("change %s = %q [frame %d]", s.Selector, deref(s.Value), deref(s.FrameID))
	default:
		return s.Type
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
