// Package observer turns raw per-frame interaction events into Click and
// Change actions.
package observer

import (
	"log/slog"

	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/selector"
)

// Kind names a raw DOM event forwarded by the in-page agent.
type Kind string

const (
	KindPointerDown Kind = "pointerdown"
	KindFocusIn     Kind = "focusin"
	KindInput       Kind = "input"
	KindChange      Kind = "change"
	KindFocusOut    Kind = "focusout"
)

// RawEvent is one DOM event as reported by the agent. Node is an identity the
// agent assigns per element and keeps stable for the life of the document.
type RawEvent struct {
	Kind     Kind              `json:"kind"`
	Node     int64             `json:"node"`
	Editable bool              `json:"editable"`
	Value    string            `json:"value"`
	Label    string            `json:"label,omitempty"`
	Lineage  *selector.Lineage `json:"lineage,omitempty"`
}

// Report is an action produced by an Observer. The action carries no frame;
// FrameID names the frame it came from.
type Report struct {
	Action  flow.Step
	FrameID int
}

// Sink receives reports in the order the observer produced them.
type Sink func(Report)

type editing struct {
	node     int64
	selector string
	value    string
}

// Observer coalesces the event stream of a single frame.
type Observer struct {
	frameID   int
	sink      Sink
	lastValue map[int64]string
	focused   *editing
}

// New returns an observer for frameID that reports to sink.
func New(frameID int, sink Sink) *Observer {
	return &Observer{
		frameID:   frameID,
		sink:      sink,
		lastValue: map[int64]string{},
	}
}

// FrameID returns the frame this observer reports for.
func (o *Observer) FrameID() int { return o.frameID }

// Handle consumes one raw event.
func (o *Observer) Handle(ev RawEvent) {
	switch ev.Kind {
	case KindFocusIn:
		o.focusIn(ev)
	case KindInput:
		if o.focused != nil && o.focused.node == ev.Node {
			o.focused.value = ev.Value
		}
	case KindChange:
		o.change(ev)
	case KindFocusOut:
		if o.focused != nil && o.focused.node == ev.Node {
			o.focused.value = ev.Value
			o.flush(o.focused)
			o.focused = nil
		}
	case KindPointerDown:
		o.pointerDown(ev)
	default:
		slog.Debug("observer ignoring event", "kind", ev.Kind, "frame_id", o.frameID)
	}
}

func (o *Observer) focusIn(ev RawEvent) {
	if o.focused != nil && o.focused.node != ev.Node {
		o.flush(o.focused)
		o.focused = nil
	}
	if !ev.Editable {
		return
	}
	if _, seen := o.lastValue[ev.Node]; !seen {
		o.lastValue[ev.Node] = ev.Value
	}
	o.focused = &editing{node: ev.Node, selector: ev.Lineage.Resolve(), value: ev.Value}
}

// change handles committed values. A focused node keeps coalescing until blur;
// an unfocused one (a select changed by script or by keyboard without focus
// events) is flushed right away.
func (o *Observer) change(ev RawEvent) {
	if o.focused != nil && o.focused.node == ev.Node {
		o.focused.value = ev.Value
		return
	}
	if !ev.Editable || ev.Lineage == nil {
		return
	}
	o.flush(&editing{node: ev.Node, selector: ev.Lineage.Resolve(), value: ev.Value})
}

func (o *Observer) pointerDown(ev RawEvent) {
	if o.focused != nil && o.focused.node != ev.Node {
		o.flush(o.focused)
	}
	sel := ev.Lineage.Resolve()
	if sel == "" {
		slog.Debug("observer dropped click on unresolvable element", "frame_id", o.frameID, "node", ev.Node)
		return
	}
	o.sink(Report{Action: flow.Click{Selector: sel, Label: ev.Label}, FrameID: o.frameID})
}

func (o *Observer) flush(e *editing) {
	if last, ok := o.lastValue[e.node]; ok && last == e.value {
		return
	}
	o.lastValue[e.node] = e.value
	if e.selector == "" {
		slog.Debug("observer dropped change on unresolvable element", "frame_id", o.frameID, "node", e.node)
		return
	}
	o.sink(Report{Action: flow.Change{Selector: e.selector, Value: e.value}, FrameID: o.frameID})
}
