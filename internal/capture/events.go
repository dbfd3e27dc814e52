package capture

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chromedp/cdproto/runtime"

	"github.com/dgnsrekt/flowrec/internal/agent"
	"github.com/dgnsrekt/flowrec/internal/frames"
	"github.com/dgnsrekt/flowrec/internal/observer"
)

// The on* handlers run on the CDP read loop. They decode and hand off to
// the worker, which may issue commands.

func (c *Capture) onContextCreated(tabID string, params json.RawMessage) {
	var ev runtime.EventExecutionContextCreated
	if err := json.Unmarshal(params, &ev); err != nil || ev.Context == nil {
		return
	}
	if ev.Context.Name != agent.ObserverWorld {
		return
	}
	aux, err := frames.ParseAuxData(ev.Context.AuxData)
	if err != nil {
		slog.Debug("capture ignored context", "tab_id", tabID, "error", err)
		return
	}
	id := ev.Context.ID
	c.enqueue(func(ctx context.Context) { c.contextCreated(ctx, tabID, id, aux) })
}

func (c *Capture) onContextDestroyed(tabID string, params json.RawMessage) {
	var ev runtime.EventExecutionContextDestroyed
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	c.enqueue(func(context.Context) { c.contextDestroyed(tabID, ev.ExecutionContextID) })
}

func (c *Capture) onContextsCleared(tabID string, _ json.RawMessage) {
	c.enqueue(func(context.Context) { c.contextsCleared(tabID) })
}

func (c *Capture) onBindingCalled(tabID string, params json.RawMessage) {
	var ev runtime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil || ev.Name != agent.ReportBinding {
		return
	}
	var raw observer.RawEvent
	if err := json.Unmarshal([]byte(ev.Payload), &raw); err != nil {
		attrs := append([]any{"tab_id", tabID, "error", err}, payloadAttrs(ev.Payload)...)
		slog.Debug("capture dropped malformed report", attrs...)
		return
	}
	c.enqueue(func(context.Context) { c.bindingCalled(tabID, ev.ExecutionContextID, raw) })
}

func (c *Capture) onTabDetached(tabID string) {
	c.mu.Lock()
	_, ok := c.tabs[tabID]
	delete(c.tabs, tabID)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.registry.DeactivateTab(tabID)
	c.enqueue(func(ctx context.Context) {
		if r := c.currentReporter(); r != nil {
			r.TabClosed(ctx, tabID)
		}
	})
}

func (c *Capture) contextCreated(ctx context.Context, tabID string, id runtime.ExecutionContextID, aux frames.AuxData) {
	st, ok := c.state(tabID)
	if !ok {
		return
	}
	tree, err := c.frameTree(ctx, tabID)
	if err != nil {
		slog.Debug("capture frame tree failed", "tab_id", tabID, "error", err)
		return
	}
	ordinal, ok := frames.Ordinal(tree, aux.FrameID)
	if !ok {
		return
	}
	key := observer.Key{Tab: tabID, Frame: ordinal}

	// A frame keeps one observer: a newer document replaces the older one.
	if old, ok := st.byKey[key]; ok && old != id {
		delete(st.contexts, old)
		c.registry.Deactivate(key)
	}
	if !c.registry.Activate(key, c.sink(tabID)) {
		return
	}
	st.contexts[id] = key
	st.byKey[key] = id
	slog.Debug("observer active", "tab_id", tabID, "frame", ordinal, "context_id", id)
}

func (c *Capture) contextDestroyed(tabID string, id runtime.ExecutionContextID) {
	st, ok := c.state(tabID)
	if !ok {
		return
	}
	key, ok := st.contexts[id]
	if !ok {
		return
	}
	delete(st.contexts, id)
	if st.byKey[key] == id {
		delete(st.byKey, key)
		c.registry.Deactivate(key)
	}
}

func (c *Capture) contextsCleared(tabID string) {
	st, ok := c.state(tabID)
	if !ok {
		return
	}
	for key := range st.byKey {
		c.registry.Deactivate(key)
	}
	clear(st.contexts)
	clear(st.byKey)
}

func (c *Capture) bindingCalled(tabID string, id runtime.ExecutionContextID, raw observer.RawEvent) {
	st, ok := c.state(tabID)
	if !ok {
		return
	}
	key, ok := st.contexts[id]
	if !ok {
		return
	}
	c.registry.Dispatch(key, raw)
}

func (c *Capture) sink(tabID string) observer.Sink {
	return func(rep observer.Report) {
		if r := c.currentReporter(); r != nil {
			r.ReportAction(rep.Action, tabID, rep.FrameID)
		}
	}
}

func (c *Capture) currentReporter() Reporter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reporter
}
