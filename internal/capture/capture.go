// Package capture installs the interaction observer into a tab's frames and
// feeds the actions it reports to the recorder.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/dgnsrekt/flowrec/internal/agent"
	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/frames"
	"github.com/dgnsrekt/flowrec/internal/observer"
)

const mailboxSize = 1024

var (
	errMailboxFull = errors.New("capture mailbox full")
	errClosed      = errors.New("capture closed")
)

// Browser is the part of the CDP client capture drives.
type Browser interface {
	Command(ctx context.Context, tabID, method string, params, out any) error
	Evaluate(ctx context.Context, tabID string, contextID runtime.ExecutionContextID, expr string) (string, error)
	OnEvent(method string, fn func(tabID string, params json.RawMessage)) func()
	OnTabDetached(fn func(tabID string))
	Release(ctx context.Context, tabID string) error
}

// Reporter receives the actions of attached tabs and their disappearance.
type Reporter interface {
	ReportAction(action flow.Step, tabID string, frameID int) bool
	TabClosed(ctx context.Context, tabID string)
}

type tabState struct {
	scriptID page.ScriptIdentifier
	contexts map[runtime.ExecutionContextID]observer.Key
	byKey    map[observer.Key]runtime.ExecutionContextID
}

// Capture attaches observers to tabs. CDP events are handled in arrival
// order on a single worker so each frame's events reach its observer in
// the order the page raised them.
type Capture struct {
	browser  Browser
	registry *observer.Registry

	mu       sync.Mutex
	reporter Reporter
	tabs     map[string]*tabState

	mailbox chan func(context.Context)
	offs    []func()
	cancel  context.CancelFunc
	done    chan struct{}
}

// New starts a Capture over browser. Call Close to stop it.
func New(browser Browser) *Capture {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capture{
		browser:  browser,
		registry: observer.NewRegistry(),
		tabs:     map[string]*tabState{},
		mailbox:  make(chan func(context.Context), mailboxSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.offs = []func(){
		browser.OnEvent("Runtime.executionContextCreated", c.onContextCreated),
		browser.OnEvent("Runtime.executionContextDestroyed", c.onContextDestroyed),
		browser.OnEvent("Runtime.executionContextsCleared", c.onContextsCleared),
		browser.OnEvent("Runtime.bindingCalled", c.onBindingCalled),
	}
	browser.OnTabDetached(c.onTabDetached)
	go c.run(ctx)
	return c
}

// SetReporter sets where actions go. Reports made before it is set are dropped.
func (c *Capture) SetReporter(r Reporter) {
	c.mu.Lock()
	c.reporter = r
	c.mu.Unlock()
}

// Close stops the worker and unhooks every event handler.
func (c *Capture) Close() {
	for _, off := range c.offs {
		off()
	}
	c.cancel()
	<-c.done
}

// Attached reports whether tabID currently has capture installed.
func (c *Capture) Attached(tabID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tabs[tabID]
	return ok
}

// Observers returns the number of frames with an active observer.
func (c *Capture) Observers() int { return c.registry.Len() }

// Attach installs the observer into every current and future frame of
// tabID. Attaching an attached tab is a no-op.
func (c *Capture) Attach(ctx context.Context, tabID string) error {
	c.mu.Lock()
	if _, ok := c.tabs[tabID]; ok {
		c.mu.Unlock()
		return nil
	}
	st := &tabState{
		contexts: map[runtime.ExecutionContextID]observer.Key{},
		byKey:    map[observer.Key]runtime.ExecutionContextID{},
	}
	c.tabs[tabID] = st
	c.mu.Unlock()

	if err := c.install(ctx, tabID, st); err != nil {
		c.mu.Lock()
		delete(c.tabs, tabID)
		c.mu.Unlock()
		return fmt.Errorf("attach capture to %s: %w", tabID, err)
	}
	slog.Info("capture attached", "tab_id", tabID)
	return nil
}

func (c *Capture) install(ctx context.Context, tabID string, st *tabState) error {
	if err := c.browser.Command(ctx, tabID, "Runtime.enable", runtime.Enable(), nil); err != nil {
		return err
	}
	if err := c.browser.Command(ctx, tabID, "Page.enable", page.Enable(), nil); err != nil {
		return err
	}
	addBinding := runtime.AddBinding(agent.ReportBinding).WithExecutionContextName(agent.ObserverWorld)
	if err := c.browser.Command(ctx, tabID, "Runtime.addBinding", addBinding, nil); err != nil {
		return err
	}

	var added page.AddScriptToEvaluateOnNewDocumentReturns
	script := page.AddScriptToEvaluateOnNewDocument(agent.ObserverSource()).WithWorldName(agent.ObserverWorld)
	if err := c.browser.Command(ctx, tabID, "Page.addScriptToEvaluateOnNewDocument", script, &added); err != nil {
		return err
	}
	c.mu.Lock()
	st.scriptID = added.Identifier
	c.mu.Unlock()

	// Documents already loaded never see the new-document script.
	return c.do(ctx, func() error { return c.injectFrames(ctx, tabID, st) })
}

// injectFrames runs on the worker so it sees every context event that
// arrived before it. Frames whose observer still answers are left alone.
func (c *Capture) injectFrames(ctx context.Context, tabID string, st *tabState) error {
	tree, err := c.frameTree(ctx, tabID)
	if err != nil {
		return err
	}
	for ordinal, fid := range frames.Ordinals(tree) {
		key := observer.Key{Tab: tabID, Frame: ordinal}
		if c.observerAlive(ctx, tabID, st, key) {
			slog.Debug("capture frame already observed", "tab_id", tabID, "frame", ordinal)
			continue
		}
		var world page.CreateIsolatedWorldReturns
		create := page.CreateIsolatedWorld(fid).WithWorldName(agent.ObserverWorld)
		if err := c.browser.Command(ctx, tabID, "Page.createIsolatedWorld", create, &world); err != nil {
			slog.Debug("capture skipped frame", "tab_id", tabID, "frame", fid, "error", err)
			continue
		}
		if _, err := c.browser.Evaluate(ctx, tabID, world.ExecutionContextID, agent.ObserverSource()); err != nil {
			slog.Debug("capture inject failed", "tab_id", tabID, "frame", fid, "error", err)
		}
	}
	return nil
}

// observerAlive pings the frame's current observer world. A registered
// observer that no longer answers is dropped so the next world replaces it.
func (c *Capture) observerAlive(ctx context.Context, tabID string, st *tabState, key observer.Key) bool {
	if _, ok := c.registry.Ping(key); !ok {
		return false
	}
	id, ok := st.byKey[key]
	if ok {
		raw, err := c.browser.Evaluate(ctx, tabID, id, agent.ObserverPing())
		var ack string
		if err == nil && agent.Decode(raw, &ack) == nil && ack == agent.Ack {
			return true
		}
		delete(st.contexts, id)
		delete(st.byKey, key)
	}
	c.registry.Deactivate(key)
	return false
}

// uninstall silences the observer in every world of st. Worlds outlive
// the binding, so without this they would keep reporting after Detach.
func (c *Capture) uninstall(ctx context.Context, tabID string, st *tabState) {
	for key, id := range st.byKey {
		c.registry.Deactivate(key)
		if _, err := c.browser.Evaluate(ctx, tabID, id, agent.ObserverUninstall()); err != nil {
			slog.Debug("capture uninstall failed", "tab_id", tabID, "frame", key.Frame, "error", err)
		}
	}
	clear(st.contexts)
	clear(st.byKey)
}

func (c *Capture) frameTree(ctx context.Context, tabID string) (*page.FrameTree, error) {
	var res page.GetFrameTreeReturns
	if err := c.browser.Command(ctx, tabID, "Page.getFrameTree", page.GetFrameTree(), &res); err != nil {
		return nil, err
	}
	return res.FrameTree, nil
}

// Detach removes capture from tabID. Detaching an unknown tab is a no-op.
func (c *Capture) Detach(ctx context.Context, tabID string) error {
	c.mu.Lock()
	st, ok := c.tabs[tabID]
	delete(c.tabs, tabID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.registry.DeactivateTab(tabID)

	var errs []error
	if err := c.do(ctx, func() error { c.uninstall(ctx, tabID, st); return nil }); err != nil {
		errs = append(errs, err)
	}
	if err := c.browser.Command(ctx, tabID, "Runtime.removeBinding", runtime.RemoveBinding(agent.ReportBinding), nil); err != nil {
		errs = append(errs, err)
	}
	if st.scriptID != "" {
		remove := page.RemoveScriptToEvaluateOnNewDocument(st.scriptID)
		if err := c.browser.Command(ctx, tabID, "Page.removeScriptToEvaluateOnNewDocument", remove, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.browser.Release(ctx, tabID); err != nil {
		errs = append(errs, err)
	}
	slog.Info("capture detached", "tab_id", tabID)
	return errors.Join(errs...)
}

func (c *Capture) enqueue(job func(context.Context)) bool {
	select {
	case c.mailbox <- job:
		return true
	default:
		slog.Warn("capture mailbox full, dropping event")
		return false
	}
}

// do runs job on the worker and waits for it to finish.
func (c *Capture) do(ctx context.Context, job func() error) error {
	errc := make(chan error, 1)
	if !c.enqueue(func(context.Context) { errc <- job() }) {
		return errMailboxFull
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClosed
	}
}

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.mailbox:
			job(ctx)
		}
	}
}

func (c *Capture) state(tabID string) (*tabState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tabs[tabID]
	return st, ok
}
