// Package browser launches Chrome and drives the tabs replays run in.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/flowrec/internal/agent"
	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/frames"
	"github.com/dgnsrekt/flowrec/internal/replay"
)

// Tabs creates and closes browser tabs.
type Tabs interface {
	CreateTab(ctx context.Context, url string) (string, error)
	CloseTab(ctx context.Context, tabID string) error
}

// Chrome opens replay tabs on a running browser. Only the most recent replay
// tab is kept open; opening a new one closes the previous.
type Chrome struct {
	tabs        Tabs
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.Mutex
	last *Page
}

// NewChrome connects chromedp to the DevTools endpoint at cdpURL.
func NewChrome(cdpURL string, tabs Tabs) *Chrome {
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	return &Chrome{tabs: tabs, allocCtx: allocCtx, allocCancel: cancel}
}

// OpenPage implements replay.Browser.
func (c *Chrome) OpenPage(ctx context.Context, url string) (replay.Page, error) {
	c.mu.Lock()
	prev := c.last
	c.last = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	tabID, err := c.tabs.CreateTab(ctx, "about:blank")
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(target.ID(tabID)))
	p := &Page{
		tabs:   c.tabs,
		tabID:  tabID,
		ctx:    tabCtx,
		cancel: cancel,
		frames: map[cdp.FrameID]*Frame{},
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		p.Close()
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	slog.Info("replay page loaded", "tab_id", tabID, "url", url)

	c.mu.Lock()
	c.last = p
	c.mu.Unlock()
	return p, nil
}

// Close closes the last replay tab and the chromedp allocator.
func (c *Chrome) Close() {
	c.mu.Lock()
	last := c.last
	c.last = nil
	c.mu.Unlock()
	if last != nil {
		last.Close()
	}
	c.allocCancel()
}

// Page is one replay tab.
type Page struct {
	tabs   Tabs
	tabID  string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	frames map[cdp.FrameID]*Frame
	closed bool
}

// TabID returns the browser id of the tab.
func (p *Page) TabID() string { return p.tabID }

// run executes actions on the tab, bounded by ctx as well as the tab's life.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Frame implements replay.Page. Frame handles are reused per frame id so a
// frame keeps its executor world between steps.
func (p *Page) Frame(ctx context.Context, ordinal int) (replay.Frame, error) {
	var tree *page.FrameTree
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("frame tree: %w", err)
	}
	id, ok := frames.ByOrdinal(tree, ordinal)
	if !ok {
		return nil, fmt.Errorf("frame %d not found", ordinal)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		f = &Frame{page: p, id: id, ordinal: ordinal}
		p.frames[id] = f
	}
	return f, nil
}

// Screenshot implements replay.Screenshotter.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := p.tabs.CloseTab(ctx, p.tabID); err != nil {
		slog.Debug("close replay tab failed", "tab_id", p.tabID, "error", err)
	}
}

func (p *Page) eval(ctx context.Context, contextID runtime.ExecutionContextID, expr string) (string, error) {
	var out string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(expr).
			WithContextID(contextID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("eval exception: %s", exceptionText(exc))
		}
		if res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal(res.Value, &out)
	}))
	return out, err
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

// Frame talks to the executor agent of one frame through an isolated world.
type Frame struct {
	page    *Page
	id      cdp.FrameID
	ordinal int

	mu        sync.Mutex
	contextID runtime.ExecutionContextID
}

func (f *Frame) context() runtime.ExecutionContextID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contextID
}

func (f *Frame) reset() {
	f.mu.Lock()
	f.contextID = 0
	f.mu.Unlock()
}

// Probe implements replay.Frame.
func (f *Frame) Probe(ctx context.Context) (bool, error) {
	id := f.context()
	if id == 0 {
		return false, nil
	}
	raw, err := f.page.eval(ctx, id, agent.ExecutorPing())
	if err != nil {
		f.reset()
		return false, err
	}
	var ack string
	if err := agent.Decode(raw, &ack); err != nil {
		return false, err
	}
	return ack == agent.Ack, nil
}

// Inject implements replay.Frame. Each call creates a fresh world, which is
// also how a frame recovers after its document was replaced.
func (f *Frame) Inject(ctx context.Context) error {
	var id runtime.ExecutionContextID
	err := f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		id, err = page.CreateIsolatedWorld(f.id).
			WithWorldName(agent.ExecutorWorld).
			WithGrantUniveralAccess(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("create executor world: %w", err)
	}
	if _, err := f.page.eval(ctx, id, agent.ExecutorSource()); err != nil {
		return fmt.Errorf("install executor: %w", err)
	}
	f.mu.Lock()
	f.contextID = id
	f.mu.Unlock()
	slog.Debug("executor injected", "tab_id", f.page.tabID, "frame", f.ordinal, "context_id", id)
	return nil
}

// Query implements replay.Frame.
func (f *Frame) Query(ctx context.Context, selector string) (bool, error) {
	var found bool
	err := f.call(ctx, agent.Query(selector), &found)
	return found, err
}

// Click implements replay.Frame.
func (f *Frame) Click(ctx context.Context, selector string) error {
	return f.call(ctx, agent.Click(selector), nil)
}

// SetValue implements replay.Frame.
func (f *Frame) SetValue(ctx context.Context, selector, value string) error {
	return f.call(ctx, agent.SetValue(selector, value), nil)
}

// call evaluates expr in the executor world. When the world is gone (the
// document navigated) the executor is injected again and the call retried once.
func (f *Frame) call(ctx context.Context, expr string, out any) error {
	for attempt := 0; ; attempt++ {
		id := f.context()
		if id == 0 {
			if err := f.Inject(ctx); err != nil {
				return err
			}
			id = f.context()
		}
		raw, err := f.page.eval(ctx, id, expr)
		if err == nil {
			err = agent.Decode(raw, out)
		}
		if err == nil {
			return nil
		}
		if attempt > 0 || !worldLost(err) {
			return agentError(err)
		}
		f.reset()
	}
}

func worldLost(err error) bool {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeAgentMissing {
		return true
	}
	return strings.Contains(err.Error(), "Cannot find context with specified id")
}

// agentError maps the agent's failure codes onto the replay errors.
func agentError(err error) error {
	var coded *cdpcontrol.CodedError
	if !errors.As(err, &coded) {
		return err
	}
	switch coded.Code {
	case cdpcontrol.CodeElementNotFound:
		return fmt.Errorf("%w: %s", replay.ErrElementNotFound, coded.Message)
	case cdpcontrol.CodeUnsupportedTarget:
		return fmt.Errorf("%w: %s", replay.ErrUnsupportedTarget, coded.Message)
	}
	return err
}
