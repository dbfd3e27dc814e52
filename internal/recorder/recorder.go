// Package recorder owns the single live recording session.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/flowrec/internal/flow"
)

const (
	// WaitThreshold is the gap between accepted actions above which a Wait step is synthesized.
	WaitThreshold = 100 * time.Millisecond
	// DefaultCancelGrace delays clearing a cancelled session so in-flight reports land on an idle controller.
	DefaultCancelGrace = 300 * time.Millisecond
)

// Tab is a browser tab the recorder can bind to.
type Tab struct {
	ID  string
	URL string
}

// TabLocator finds the tab the user is looking at.
type TabLocator interface {
	ForegroundTab(ctx context.Context) (Tab, error)
}

// Attacher installs and removes capture on a tab.
type Attacher interface {
	Attach(ctx context.Context, tabID string) error
	Detach(ctx context.Context, tabID string) error
}

// FlowWriter persists a named flow, overwriting any previous one.
type FlowWriter interface {
	Set(name string, steps flow.Sequence) error
}

// Notifier receives session updates for the UI.
type Notifier interface {
	RecordingStateChanged(isRecording bool, steps flow.Sequence)
	UpdateLiveSteps(steps flow.Sequence)
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	CancelGrace time.Duration
	Now         func() time.Time
	AfterFunc   func(time.Duration, func())
}

// State is a snapshot of the session for display.
type State struct {
	Recording bool          `json:"isRecording"`
	SessionID string        `json:"sessionId,omitempty"`
	TabID     string        `json:"tabId,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Steps     flow.Sequence `json:"steps"`
}

type session interface{ isSession() }

// idle may still carry the steps of a cancelled session until the grace delay clears them.
type idle struct {
	steps flow.Sequence
}

type recording struct {
	id      string
	tab     string
	started time.Time
	steps   flow.Sequence
	last    time.Time
	// saving freezes steps while Save writes them out.
	saving bool
}

func (idle) isSession()       {}
func (*recording) isSession() {}

// Controller is the recording state machine: Idle, then Recording, then back
// to Idle through Save or Cancel.
type Controller struct {
	tabs     TabLocator
	attacher Attacher
	store    FlowWriter
	notify   Notifier

	grace     time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func())

	mu       sync.Mutex
	state    session
	starting bool
	gen      uint64
}

// New builds an idle Controller.
func New(tabs TabLocator, attacher Attacher, store FlowWriter, notify Notifier, opts Options) *Controller {
	c := &Controller{
		tabs:      tabs,
		attacher:  attacher,
		store:     store,
		notify:    notify,
		grace:     opts.CancelGrace,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		state:     idle{},
	}
	if c.grace <= 0 {
		c.grace = DefaultCancelGrace
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return c
}

// Start binds a new session to the foreground tab. It is a no-op while a
// session is active or being started.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if _, active := c.state.(*recording); active || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()

	tab, err := c.tabs.ForegroundTab(ctx)
	if err == nil {
		err = c.attacher.Attach(ctx, tab.ID)
	}
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return fmt.Errorf("start recording: %w", err)
	}

	now := c.now()
	rec := &recording{
		id:      uuid.NewString(),
		tab:     tab.ID,
		started: now,
		steps:   flow.Sequence{flow.Goto{URL: tab.URL}},
		last:    now,
	}
	c.mu.Lock()
	c.gen++
	c.state = rec
	c.starting = false
	steps := rec.steps.Clone()
	c.mu.Unlock()

	slog.Info("recording started", "session_id", rec.id, "tab_id", tab.ID, "url", tab.URL)
	c.notify.RecordingStateChanged(true, steps)
	return nil
}

// ReportAction appends action from frameID of tabID to the session. Reports
// while idle or from any tab but the bound one are discarded.
func (c *Controller) ReportAction(action flow.Step, tabID string, frameID int) bool {
	tagged, ok := tagFrame(action, frameID)
	if !ok {
		slog.Debug("recorder discarded non-action report", "type", fmt.Sprintf("%T", action))
		return false
	}

	c.mu.Lock()
	rec, active := c.state.(*recording)
	if !active || rec.tab != tabID || rec.saving {
		c.mu.Unlock()
		slog.Debug("recorder discarded report", "tab_id", tabID, "frame_id", frameID, "active", active)
		return false
	}
	now := c.now()
	if gap := now.Sub(rec.last); gap > WaitThreshold {
		rec.steps = append(rec.steps, flow.Wait{DurationMs: gap.Milliseconds()})
	}
	rec.steps = append(rec.steps, tagged)
	rec.last = now
	steps := rec.steps.Clone()
	c.mu.Unlock()

	c.notify.UpdateLiveSteps(steps)
	return true
}

func tagFrame(action flow.Step, frameID int) (flow.Step, bool) {
	switch a := action.(type) {
	case flow.Click:
		a.FrameID = frameID
		return a, true
	case flow.Change:
		a.FrameID = frameID
		return a, true
	case flow.Goto, flow.Wait:
		return nil, false
	default:
		return nil, false
	}
}

// Save persists the session under name and returns to Idle. It is a no-op
// when idle or while another Save is writing. The store write runs without
// the lock; on failure the session keeps recording.
func (c *Controller) Save(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	rec, active := c.state.(*recording)
	if !active || rec.saving {
		c.mu.Unlock()
		return false, nil
	}
	rec.saving = true
	steps := rec.steps.Clone()
	gen := c.gen
	c.mu.Unlock()

	err := c.store.Set(name, steps)

	c.mu.Lock()
	if c.gen != gen {
		// Cancelled or closed during the write; that path already detached.
		c.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("save flow %q: %w", name, err)
		}
		slog.Info("recording saved after session ended", "session_id", rec.id, "name", name, "steps", len(steps))
		return true, nil
	}
	rec.saving = false
	if err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("save flow %q: %w", name, err)
	}
	c.gen++
	c.state = idle{}
	c.mu.Unlock()

	slog.Info("recording saved", "session_id", rec.id, "name", name, "steps", len(steps))
	c.detach(ctx, rec.tab)
	c.notify.RecordingStateChanged(false, flow.Sequence{})
	return true, nil
}

// Cancel discards the session. Recording stops immediately; the discarded
// steps are cleared and the idle state published after the grace delay.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	rec, active := c.state.(*recording)
	if !active {
		c.mu.Unlock()
		return
	}
	c.state = idle{steps: rec.steps}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	slog.Info("recording cancelled", "session_id", rec.id, "tab_id", rec.tab)
	c.detach(ctx, rec.tab)
	c.afterFunc(c.grace, func() { c.clear(gen) })
}

func (c *Controller) clear(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = idle{}
	c.mu.Unlock()
	c.notify.RecordingStateChanged(false, flow.Sequence{})
}

// TabClosed cancels the session when tabID is the bound tab.
func (c *Controller) TabClosed(ctx context.Context, tabID string) {
	c.mu.Lock()
	rec, active := c.state.(*recording)
	bound := active && rec.tab == tabID
	c.mu.Unlock()
	if bound {
		slog.Info("bound tab closed", "tab_id", tabID)
		c.Cancel(ctx)
	}
}

// BoundTab returns the tab of the active session.
func (c *Controller) BoundTab() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.state.(*recording); ok {
		return rec.tab, true
	}
	return "", false
}

// State returns a copy of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s := c.state.(type) {
	case *recording:
		return State{Recording: true, SessionID: s.id, TabID: s.tab, StartedAt: s.started, Steps: s.steps.Clone()}
	case idle:
		return State{Steps: s.steps.Clone()}
	default:
		return State{Steps: flow.Sequence{}}
	}
}

func (c *Controller) detach(ctx context.Context, tabID string) {
	if err := c.attacher.Detach(ctx, tabID); err != nil {
		slog.Debug("detach capture failed", "tab_id", tabID, "error", err)
	}
}
