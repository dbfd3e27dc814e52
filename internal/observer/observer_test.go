package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/selector"
)

func idLineage(id, tag string) *selector.Lineage {
	return &selector.Lineage{
		Chain:    []selector.Node{{Tag: tag, ID: id, Nth: 1}, {Tag: "body", Nth: 1}},
		IDCounts: map[string]int{id: 1},
	}
}

type recorder struct{ reports []Report }

func (r *recorder) sink(rep Report) { r.reports = append(r.reports, rep) }

func (r *recorder) actions() []flow.Step {
	out := make([]flow.Step, 0, len(r.reports))
	for _, rep := range r.reports {
		out = append(out, rep.Action)
	}
	return out
}

func TestCoalescesEditsIntoOneChange(t *testing.T) {
	rec := &recorder{}
	o := New(0, rec.sink)

	o.Handle(RawEvent{Kind: KindFocusIn, Node: 1, Editable: true, Value: "", Lineage: idLineage("name", "input")})
	for _, v := range []string{"A", "Ad", "Ada"} {
		o.Handle(RawEvent{Kind: KindInput, Node: 1, Editable: true, Value: v})
	}
	o.Handle(RawEvent{Kind: KindFocusOut, Node: 1, Editable: true, Value: "Ada"})

	assert.Equal(t, []flow.Step{flow.Change{Selector: "#name", Value: "Ada"}}, rec.actions())
}

func TestUnchangedValueIsNotReported(t *testing.T) {
	rec := &recorder{}
	o := New(0, rec.sink)

	o.Handle(RawEvent{Kind: KindFocusIn, Node: 1, Editable: true, Value: "keep", Lineage: idLineage("f", "input")})
	o.Handle(RawEvent{Kind: KindFocusOut, Node: 1, Editable: true, Value: "keep"})

	o.Handle(RawEvent{Kind: KindFocusIn, Node: 1, Editable: true, Value: "keep", Lineage: idLineage("f", "input")})
	o.Handle(RawEvent{Kind: KindInput, Node: 1, Editable: true, Value: "kept"})
	o.Handle(RawEvent{Kind: KindInput, Node: 1, Editable: true, Value: "keep"})
	o.Handle(RawEvent{Kind: KindFocusOut, Node: 1, Editable: true, Value: "keep"})

	assert.Empty(t, rec.reports)
}

func TestFlushBeforeClickOnDifferentElement(t *testing.T) {
	rec := &recorder{}
	o := New(2, rec.sink)

	o.Handle(RawEvent{Kind: KindFocusIn, Node: 1, Editable: true, Lineage: idLineage("email", "input")})
	o.Handle(RawEvent{Kind: KindInput, Node: 1, Editable: true, Value: "a@b.c"})
	o.Handle(RawEvent{Kind: KindPointerDown, Node: 2, Label: "Send", Lineage: idLineage("send", "button")})
	// The blur that follows the press must not duplicate the change.
	o.Handle(RawEvent{Kind: KindFocusOut, Node: 1, Editable: true, Value: "a@b.c"})

	require.Len(t, rec.reports, 2)
	assert.Equal(t, flow.Change{Selector: "#email", Value: "a@b.c"}, rec.reports[0].Action)
	assert.Equal(t, flow.Click{Selector: "#send", Label: "Send"}, rec.reports[1].Action)
	for _, r := range rec.reports {
		assert.Equal(t, 2, r.FrameID)
	}
}

func TestPointerDownOnFocusedElementDoesNotFlush(t *testing.T) {
	rec := &recorder{}
	o := New(0, rec.sink)

	o.Handle(RawEvent{Kind: KindFocusIn, Node: 1, Editable: true, Lineage: idLineage("q", "input")})
	o.Handle(RawEvent{Kind: KindInput, Node: 1, Editable: true, Value: "x"})
	o.Handle(RawEvent{Kind: KindPointerDown, Node: 1, Lineage: idLineage("q", "input")})

	assert.Equal(t, []flow.Step{flow.Click{Selector: "#q"}}, rec.actions())
}

func TestUnfocusedChangeFlushesImmediately(t *testing.T) {
	rec := &recorder{}
	o := New(0, rec.sink)

	o.Handle(RawEvent{Kind: KindChange, Node: 7, Editable: true, Value: "blue", Lineage: idLineage("color", "select")})
	o.Handle(RawEvent{Kind: KindChange, Node: 7, Editable: true, Value: "blue", Lineage: idLineage("color", "select")})

	assert.Equal(t, []flow.Step{flow.Change{Selector: "#color", Value: "blue"}}, rec.actions())
}

func TestDetachedClickIsDropped(t *testing.T) {
	rec := &recorder{}
	o := New(0, rec.sink)
	o.Handle(RawEvent{Kind: KindPointerDown, Node: 3, Lineage: &selector.Lineage{Chain: []selector.Node{{Tag: "div", Nth: 1}}}})
	o.Handle(RawEvent{Kind: KindPointerDown, Node: 4})
	assert.Empty(t, rec.reports)
}

func TestRegistryGuardsDuplicateActivation(t *testing.T) {
	reg := NewRegistry()
	key := Key{Tab: "T1", Frame: 0}
	first, second := &recorder{}, &recorder{}

	require.True(t, reg.Activate(key, first.sink))
	require.False(t, reg.Activate(key, second.sink))

	ack, ok := reg.Ping(key)
	assert.True(t, ok)
	assert.Equal(t, Ack, ack)

	assert.True(t, reg.Dispatch(key, RawEvent{Kind: KindPointerDown, Node: 1, Lineage: idLineage("b", "button")}))
	assert.Len(t, first.reports, 1)
	assert.Empty(t, second.reports)

	assert.False(t, reg.Dispatch(Key{Tab: "T1", Frame: 9}, RawEvent{Kind: KindPointerDown}))

	require.True(t, reg.Activate(Key{Tab: "T1", Frame: 1}, first.sink))
	require.True(t, reg.Activate(Key{Tab: "T2", Frame: 0}, first.sink))
	reg.DeactivateTab("T1")
	assert.Equal(t, 1, reg.Len())
	_, ok = reg.Ping(key)
	assert.False(t, ok)

	reg.Deactivate(Key{Tab: "T2", Frame: 0})
	assert.Equal(t, 0, reg.Len())
}
