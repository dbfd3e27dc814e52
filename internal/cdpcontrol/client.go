// Package cdpcontrol drives the user's own browser tabs over a raw CDP
// connection: tab discovery, flat sessions, commands, evaluation and events.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Client keeps one flat session per attached tab.
//
// mu serialises connection management and attaches; sessMu guards the session
// maps and is the only lock taken on the read loop.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu       sync.Mutex
	cdp      *rawCDP
	handlers []registration
	nextReg  int64
	unhook   func()

	sessMu    sync.RWMutex
	sessions  map[string]string // tab id -> session id
	bySession map[string]string // session id -> tab id
	detachFns []func(tabID string)
}

type registration struct {
	id     int64
	method string
	fn     func(tabID string, params json.RawMessage)
	off    func()
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		sessions:    map[string]string{},
		bySession:   map[string]string{},
	}
}

// Connect opens the browser connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdp != nil && c.cdp.connected() {
		return nil
	}
	c.cleanupLocked()

	cdp := newRawCDP(c.cdpURL)
	cdp.onClose = c.connectionLost
	if err := cdp.connect(ctx); err != nil {
		return newError(CodeCDPUnavailable, "connect to browser", err)
	}
	c.cdp = cdp
	c.unhook = cdp.registerEventHandler("Target.detachedFromTarget", c.handleDetached)
	for i, h := range c.handlers {
		c.handlers[i].off = c.hookLocked(h.method, h.fn)
	}
	slog.Info("cdpcontrol connected", "cdp_url", c.cdpURL)
	return nil
}

func (c *Client) cleanupLocked() {
	if c.unhook != nil {
		c.unhook()
		c.unhook = nil
	}
	for i := range c.handlers {
		if c.handlers[i].off != nil {
			c.handlers[i].off()
			c.handlers[i].off = nil
		}
	}
	c.sessMu.Lock()
	c.sessions = map[string]string{}
	c.bySession = map[string]string{}
	c.sessMu.Unlock()
	if c.cdp != nil {
		c.cdp.close()
		c.cdp = nil
	}
}

// connectionLost runs on the read loop once the socket is gone. Every tab
// that had a session is reported detached.
func (c *Client) connectionLost() {
	c.sessMu.Lock()
	tabs := make([]string, 0, len(c.sessions))
	for tab := range c.sessions {
		tabs = append(tabs, tab)
	}
	c.sessions = map[string]string{}
	c.bySession = map[string]string{}
	fns := append([]func(string){}, c.detachFns...)
	c.sessMu.Unlock()
	if len(tabs) == 0 {
		return
	}
	slog.Warn("cdpcontrol connection lost", "attached_tabs", len(tabs))
	for _, tab := range tabs {
		for _, fn := range fns {
			fn(tab)
		}
	}
}

// Close drops every session and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

// ListTabs returns the open page targets, skipping devtools and extension pages.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	c.mu.Lock()
	cdp := c.cdp
	if cdp == nil {
		cdp = newRawCDP(c.cdpURL)
	}
	c.mu.Unlock()

	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "list targets", err)
	}
	tabs := make([]TabInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" || internalURL(t.URL) {
			continue
		}
		tabs = append(tabs, TabInfo{ID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return tabs, nil
}

func internalURL(u string) bool {
	for _, prefix := range []string{"devtools://", "chrome-extension://", "chrome://"} {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}

// ForegroundTab returns the tab whose document is visible and focused,
// falling back to the first visible tab and then to the first tab. Sessions
// attached only to check visibility are released for every tab but the one
// returned.
func (c *Client) ForegroundTab(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeTabNotFound, "no open tabs", nil)
	}

	c.sessMu.RLock()
	held := make(map[string]bool, len(c.sessions))
	for tab := range c.sessions {
		held[tab] = true
	}
	c.sessMu.RUnlock()

	chosen := pickForeground(tabs, func(tabID string) (string, error) {
		return c.Evaluate(ctx, tabID, 0,
			`JSON.stringify({visible: document.visibilityState === "visible", focused: document.hasFocus(), url: location.href})`)
	})
	for _, t := range tabs {
		if t.ID == chosen.ID || held[t.ID] {
			continue
		}
		if err := c.Release(ctx, t.ID); err != nil {
			slog.Debug("release background tab failed", "tab_id", t.ID, "error", err)
		}
	}
	return chosen, nil
}

func pickForeground(tabs []TabInfo, inspect func(tabID string) (string, error)) TabInfo {
	var visible *TabInfo
	for i := range tabs {
		raw, err := inspect(tabs[i].ID)
		if err != nil {
			slog.Debug("foreground check failed", "tab_id", tabs[i].ID, "error", err)
			continue
		}
		var st struct {
			Visible bool   `json:"visible"`
			Focused bool   `json:"focused"`
			URL     string `json:"url"`
		}
		if json.Unmarshal([]byte(raw), &st) != nil {
			continue
		}
		if st.URL != "" {
			tabs[i].URL = st.URL
		}
		if st.Visible && st.Focused {
			return tabs[i]
		}
		if st.Visible && visible == nil {
			visible = &tabs[i]
		}
	}
	if visible != nil {
		return *visible
	}
	return tabs[0]
}

// Session returns the flat session for tabID, attaching when needed.
func (c *Client) Session(ctx context.Context, tabID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return "", err
	}
	c.sessMu.RLock()
	sid, ok := c.sessions[tabID]
	c.sessMu.RUnlock()
	if ok {
		return sid, nil
	}
	sid, err := c.cdp.attachToTarget(ctx, tabID)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return "", newError(CodeTabNotFound, "attach to tab "+tabID, err)
		}
		return "", newError(CodeCDPUnavailable, "attach to tab "+tabID, err)
	}
	c.sessMu.Lock()
	c.sessions[tabID] = sid
	c.bySession[sid] = tabID
	c.sessMu.Unlock()
	slog.Debug("cdpcontrol attached", "tab_id", tabID, "session_id", sid)
	return sid, nil
}

// Release detaches the session of tabID, leaving the tab open.
func (c *Client) Release(ctx context.Context, tabID string) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	c.sessMu.Lock()
	sid, ok := c.sessions[tabID]
	if ok {
		delete(c.sessions, tabID)
		delete(c.bySession, sid)
	}
	c.sessMu.Unlock()
	if !ok || cdp == nil {
		return nil
	}
	return cdp.detachFromTarget(ctx, sid)
}

// Command sends a CDP method to tabID and decodes the result into out.
func (c *Client) Command(ctx context.Context, tabID, method string, params, out any) error {
	sid, err := c.Session(ctx, tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return cdp.call(ctx, sid, method, params, out)
}

// Evaluate runs expr in contextID of tabID (0 for the main world) and returns
// the string value. It is bounded by the client's eval timeout.
func (c *Client) Evaluate(ctx context.Context, tabID string, contextID runtime.ExecutionContextID, expr string) (string, error) {
	sid, err := c.Session(ctx, tabID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()
	raw, err := cdp.evaluate(evalCtx, sid, contextID, expr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return "", newError(CodeEvalFailure, "evaluation failed", err)
	}
	return raw, nil
}

// OnEvent registers fn for a CDP event raised by any attached tab. The
// handler runs on the connection's read loop and must not block.
func (c *Client) OnEvent(method string, fn func(tabID string, params json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextReg++
	reg := registration{id: c.nextReg, method: method, fn: fn}
	if c.cdp != nil {
		reg.off = c.hookLocked(method, fn)
	}
	c.handlers = append(c.handlers, reg)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.handlers {
			if c.handlers[i].id != reg.id {
				continue
			}
			if c.handlers[i].off != nil {
				c.handlers[i].off()
			}
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return
		}
	}
}

func (c *Client) hookLocked(method string, fn func(string, json.RawMessage)) func() {
	return c.cdp.registerEventHandler(method, func(sessionID string, params json.RawMessage) {
		c.sessMu.RLock()
		tab, ok := c.bySession[sessionID]
		c.sessMu.RUnlock()
		if ok {
			fn(tab, params)
		}
	})
}

// OnTabDetached registers fn to run when an attached tab goes away.
func (c *Client) OnTabDetached(fn func(tabID string)) {
	c.sessMu.Lock()
	c.detachFns = append(c.detachFns, fn)
	c.sessMu.Unlock()
}

func (c *Client) handleDetached(_ string, params json.RawMessage) {
	var ev target.EventDetachedFromTarget
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	c.sessMu.Lock()
	tab, ok := c.bySession[string(ev.SessionID)]
	if ok {
		delete(c.bySession, string(ev.SessionID))
		delete(c.sessions, tab)
	}
	fns := append([]func(string){}, c.detachFns...)
	c.sessMu.Unlock()
	if !ok {
		return
	}
	slog.Info("tab detached", "tab_id", tab)
	for _, fn := range fns {
		fn(tab)
	}
}

// CreateTab opens a new tab at url and returns its id. The tab is not attached.
func (c *Client) CreateTab(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	err := c.connectLocked(ctx)
	cdp := c.cdp
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	var res target.CreateTargetReturns
	if err := cdp.call(ctx, "", "Target.createTarget", target.CreateTarget(url), &res); err != nil {
		return "", newError(CodeCDPUnavailable, "create tab", err)
	}
	slog.Debug("tab created", "tab_id", res.TargetID)
	return string(res.TargetID), nil
}

// CloseTab closes tabID. A tab that is already gone is not an error.
func (c *Client) CloseTab(ctx context.Context, tabID string) error {
	c.mu.Lock()
	err := c.connectLocked(ctx)
	cdp := c.cdp
	c.mu.Unlock()
	if err != nil {
		return err
	}
	err = cdp.call(ctx, "", "Target.closeTarget", target.CloseTarget(target.ID(tabID)), nil)
	var perr *ProtocolError
	if errors.As(err, &perr) {
		slog.Debug("close tab ignored", "tab_id", tabID, "error", err)
		return nil
	}
	return err
}
