package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/flowrec/internal/flow"
)

type fakeTabs struct {
	tab Tab
	err error
}

func (f fakeTabs) ForegroundTab(context.Context) (Tab, error) { return f.tab, f.err }

type fakeAttacher struct {
	mu        sync.Mutex
	attached  []string
	detached  []string
	attachErr error
}

func (f *fakeAttacher) Attach(_ context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, tabID)
	return nil
}

func (f *fakeAttacher) Detach(_ context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, tabID)
	return nil
}

type fakeStore struct {
	flows map[string]flow.Sequence
	err   error
	// When set, Set signals entered and then blocks until gate closes.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeStore) Set(name string, steps flow.Sequence) error {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.err != nil {
		return f.err
	}
	f.flows[name] = steps
	return nil
}

type stateEvent struct {
	recording bool
	steps     flow.Sequence
}

type fakeNotifier struct {
	states []stateEvent
	live   []flow.Sequence
}

func (f *fakeNotifier) RecordingStateChanged(isRecording bool, steps flow.Sequence) {
	f.states = append(f.states, stateEvent{isRecording, steps})
}

func (f *fakeNotifier) UpdateLiveSteps(steps flow.Sequence) { f.live = append(f.live, steps) }

type harness struct {
	c        *Controller
	now      time.Time
	attacher *fakeAttacher
	store    *fakeStore
	notifier *fakeNotifier
	pending  []func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		attacher: &fakeAttacher{},
		store:    &fakeStore{flows: map[string]flow.Sequence{}},
		notifier: &fakeNotifier{},
	}
	h.c = New(fakeTabs{tab: Tab{ID: "A", URL: "https://x.test/form"}}, h.attacher, h.store, h.notifier, Options{
		Now:       func() time.Time { return h.now },
		AfterFunc: func(_ time.Duration, f func()) { h.pending = append(h.pending, f) },
	})
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) fireTimers() {
	pending := h.pending
	h.pending = nil
	for _, f := range pending {
		f()
	}
}

func TestStartBindsForegroundTab(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))

	st := h.c.State()
	assert.True(t, st.Recording)
	assert.Equal(t, "A", st.TabID)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, flow.Sequence{flow.Goto{URL: "https://x.test/form"}}, st.Steps)
	assert.Equal(t, []string{"A"}, h.attacher.attached)
	require.Len(t, h.notifier.states, 1)
	assert.True(t, h.notifier.states[0].recording)

	require.NoError(t, h.c.Start(context.Background()))
	assert.Len(t, h.attacher.attached, 1, "second start must be a no-op")
	assert.Len(t, h.notifier.states, 1)
}

func TestStartFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.attacher.attachErr = errors.New("no session")
	require.Error(t, h.c.Start(context.Background()))
	assert.False(t, h.c.State().Recording)

	h.attacher.attachErr = nil
	require.NoError(t, h.c.Start(context.Background()))
	assert.True(t, h.c.State().Recording)
}

func TestReportsWhileIdleAreDiscarded(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.c.ReportAction(flow.Click{Selector: "#a"}, "A", 0))
	assert.Empty(t, h.c.State().Steps)
	assert.Empty(t, h.notifier.live)
}

func TestOnlyBoundTabIsRecorded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))

	assert.True(t, h.c.ReportAction(flow.Click{Selector: "#a1"}, "A", 0))
	assert.False(t, h.c.ReportAction(flow.Click{Selector: "#b1"}, "B", 0))
	assert.True(t, h.c.ReportAction(flow.Change{Selector: "#a2", Value: "v"}, "A", 1))
	assert.False(t, h.c.ReportAction(flow.Change{Selector: "#b2", Value: "v"}, "B", 1))

	assert.Equal(t, flow.Sequence{
		flow.Goto{URL: "https://x.test/form"},
		flow.Click{Selector: "#a1"},
		flow.Change{Selector: "#a2", Value: "v", FrameID: 1},
	}, h.c.State().Steps)
	assert.Len(t, h.notifier.live, 2)
}

func TestWaitSynthesis(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))

	h.advance(100 * time.Millisecond)
	h.c.ReportAction(flow.Click{Selector: "#a"}, "A", 0)
	h.advance(101 * time.Millisecond)
	h.c.ReportAction(flow.Click{Selector: "#b"}, "A", 0)
	h.advance(2500 * time.Millisecond)
	h.c.ReportAction(flow.Click{Selector: "#c"}, "A", 2)

	assert.Equal(t, flow.Sequence{
		flow.Goto{URL: "https://x.test/form"},
		flow.Click{Selector: "#a"},
		flow.Wait{DurationMs: 101},
		flow.Click{Selector: "#b"},
		flow.Wait{DurationMs: 2500},
		flow.Click{Selector: "#c", FrameID: 2},
	}, h.c.State().Steps)
}

func TestNonActionReportsAreRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	assert.False(t, h.c.ReportAction(flow.Goto{URL: "https://evil"}, "A", 0))
	assert.False(t, h.c.ReportAction(flow.Wait{DurationMs: 9}, "A", 0))
	assert.Len(t, h.c.State().Steps, 1)
}

func TestSavePersistsAndResets(t *testing.T) {
	h := newHarness(t)
	saved, err := h.c.Save(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Empty(t, h.store.flows)

	require.NoError(t, h.c.Start(context.Background()))
	h.c.ReportAction(flow.Click{Selector: "#go"}, "A", 0)
	saved, err = h.c.Save(context.Background(), "login")
	require.NoError(t, err)
	assert.True(t, saved)

	assert.Equal(t, flow.Sequence{flow.Goto{URL: "https://x.test/form"}, flow.Click{Selector: "#go"}}, h.store.flows["login"])
	st := h.c.State()
	assert.False(t, st.Recording)
	assert.Empty(t, st.Steps)
	assert.Equal(t, []string{"A"}, h.attacher.detached)
	last := h.notifier.states[len(h.notifier.states)-1]
	assert.False(t, last.recording)
	assert.Empty(t, last.steps)
}

func TestSaveStoreFailureKeepsRecording(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	h.store.err = errors.New("disk full")

	saved, err := h.c.Save(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, saved)
	assert.True(t, h.c.State().Recording)
	assert.True(t, h.c.ReportAction(flow.Click{Selector: "#again"}, "A", 0))
}

type saveResult struct {
	saved bool
	err   error
}

func (h *harness) saveAsync(name string) <-chan saveResult {
	h.store.entered = make(chan struct{}, 1)
	h.store.gate = make(chan struct{})
	done := make(chan saveResult, 1)
	go func() {
		saved, err := h.c.Save(context.Background(), name)
		done <- saveResult{saved, err}
	}()
	<-h.store.entered
	return done
}

func TestSaveWritesOutsideLock(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	h.c.ReportAction(flow.Click{Selector: "#go"}, "A", 0)

	done := h.saveAsync("login")

	// The write is parked in the store; the controller must still answer.
	st := h.c.State()
	assert.True(t, st.Recording)
	assert.Len(t, st.Steps, 2)
	assert.False(t, h.c.ReportAction(flow.Click{Selector: "#late"}, "A", 0), "steps are frozen while saving")
	saved, err := h.c.Save(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, saved, "a second save while writing is a no-op")

	close(h.store.gate)
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.saved)
	assert.Equal(t, flow.Sequence{flow.Goto{URL: "https://x.test/form"}, flow.Click{Selector: "#go"}}, h.store.flows["login"])
	assert.NotContains(t, h.store.flows, "other")
	assert.False(t, h.c.State().Recording)
	assert.Equal(t, []string{"A"}, h.attacher.detached)
}

func TestSaveFailureAfterCancelStaysCancelled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	h.store.err = errors.New("disk full")

	done := h.saveAsync("login")
	h.c.Cancel(context.Background())
	close(h.store.gate)

	res := <-done
	require.Error(t, res.err)
	assert.False(t, res.saved)
	assert.False(t, h.c.State().Recording)
	assert.Equal(t, []string{"A"}, h.attacher.detached, "only cancel detaches")

	require.NoError(t, h.c.Start(context.Background()))
	assert.True(t, h.c.State().Recording)
}

func TestCancelFlipsImmediatelyAndClearsAfterGrace(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	h.c.ReportAction(flow.Click{Selector: "#a"}, "A", 0)

	h.c.Cancel(context.Background())
	st := h.c.State()
	assert.False(t, st.Recording)
	assert.Len(t, st.Steps, 2, "steps linger until the grace delay")

	assert.False(t, h.c.ReportAction(flow.Click{Selector: "#late"}, "A", 0))

	notified := len(h.notifier.states)
	require.Len(t, h.pending, 1)
	h.fireTimers()
	assert.Empty(t, h.c.State().Steps)
	require.Len(t, h.notifier.states, notified+1)
	assert.False(t, h.notifier.states[notified].recording)
	assert.Empty(t, h.store.flows)
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.c.Cancel(context.Background())
	assert.Empty(t, h.pending)
	assert.Empty(t, h.notifier.states)
	assert.Empty(t, h.attacher.detached)
}

func TestRestartDuringGraceKeepsNewSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	h.c.Cancel(context.Background())
	require.NoError(t, h.c.Start(context.Background()))

	h.fireTimers()
	st := h.c.State()
	assert.True(t, st.Recording)
	assert.Len(t, st.Steps, 1)
}

func TestTabClosedCancelsBoundSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))

	h.c.TabClosed(context.Background(), "B")
	assert.True(t, h.c.State().Recording)

	h.c.TabClosed(context.Background(), "A")
	assert.False(t, h.c.State().Recording)
	_, bound := h.c.BoundTab()
	assert.False(t, bound)
}
