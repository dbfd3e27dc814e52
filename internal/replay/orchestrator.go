// Package replay re-executes recorded flows against a fresh page.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/poll"
)

// Policy defaults.
const (
	DefaultElementTimeout = 7 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultStabilize      = 500 * time.Millisecond
	DefaultProbeTimeout   = time.Second

	screenshotTimeout = 5 * time.Second
)

// Options tunes replay timing. Zero values fall back to the defaults.
type Options struct {
	ElementTimeout time.Duration
	PollInterval   time.Duration
	Stabilize      time.Duration
	ProbeTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = DefaultElementTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Stabilize <= 0 {
		o.Stabilize = DefaultStabilize
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

// StepError reports the step that aborted a run.
type StepError struct {
	Index  int
	Step   flow.Step
	Reason string
	Err    error
	// Screenshot is a PNG of the page at the time of failure, when the page
	// supports it.
	Screenshot []byte
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step #%d %s: %s", e.Index, flow.Describe(e.Step), e.Reason)
}

func (e *StepError) Unwrap() error { return e.Err }

// Report summarises a run.
type Report struct {
	RunID    string        `json:"runId"`
	Steps    int           `json:"steps"`
	Executed int           `json:"executed"`
	Duration time.Duration `json:"durationNs"`
}

// Orchestrator drives one flow at a time, strictly in order.
type Orchestrator struct {
	browser Browser
	opts    Options
}

func NewOrchestrator(browser Browser, opts Options) *Orchestrator {
	return &Orchestrator{browser: browser, opts: opts.withDefaults()}
}

// Run replays steps. It returns a *flow.ValidationError before touching the
// browser when steps are not replayable, and a *StepError for the first step
// that fails. Later steps are never attempted.
func (o *Orchestrator) Run(ctx context.Context, steps flow.Sequence) (Report, error) {
	return o.RunWithID(ctx, uuid.NewString(), steps)
}

// RunWithID is Run with a caller-chosen run id, for callers that hand the id
// out before the run starts.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, steps flow.Sequence) (Report, error) {
	report := Report{RunID: runID, Steps: len(steps)}
	start := time.Now()

	if err := flow.Validate(steps); err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	log := slog.With("run_id", report.RunID)

	first := steps[0].(flow.Goto)
	log.Info("replay started", "url", first.URL, "steps", len(steps))
	page, err := o.browser.OpenPage(ctx, first.URL)
	if err != nil {
		return o.finish(report, start, &StepError{Index: 0, Step: first, Reason: err.Error(), Err: err})
	}
	report.Executed = 1

	for i := 1; i < len(steps); i++ {
		if err := o.runStep(ctx, page, steps[i]); err != nil {
			log.Warn("replay step failed", "index", i, "step", flow.Describe(steps[i]), "error", err)
			return o.finish(report, start, &StepError{Index: i, Step: steps[i], Reason: err.Error(), Err: err, Screenshot: screenshot(page)})
		}
		report.Executed++
		log.Debug("replay step done", "index", i, "type", steps[i].Type())
	}
	log.Info("replay finished", "executed", report.Executed)
	return o.finish(report, start, nil)
}

func (o *Orchestrator) finish(report Report, start time.Time, err error) (Report, error) {
	report.Duration = time.Since(start)
	return report, err
}

// screenshot captures the page on a fresh context, since the run's context may
// be what failed.
func screenshot(page Page) []byte {
	shooter, ok := page.(Screenshotter)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()
	data, err := shooter.Screenshot(ctx)
	if err != nil {
		slog.Debug("failure screenshot skipped", "error", err)
		return nil
	}
	return data
}

func (o *Orchestrator) runStep(ctx context.Context, page Page, step flow.Step) error {
	switch s := step.(type) {
	case flow.Wait:
		return poll.Sleep(ctx, time.Duration(s.DurationMs)*time.Millisecond)
	case flow.Click, flow.Change:
		frameID, _ := flow.Frame(s)
		exec, err := o.executorFor(ctx, page, frameID)
		if err != nil {
			return err
		}
		if err := exec.Execute(ctx, s); err != nil {
			return err
		}
		return poll.Sleep(ctx, o.opts.Stabilize)
	case flow.Goto:
		return errors.New("goto is only allowed as the first step")
	default:
		return fmt.Errorf("unknown step %T", step)
	}
}

// executorFor makes sure an executor answers in frameID. A frame that answers
// the probe is never injected again.
func (o *Orchestrator) executorFor(ctx context.Context, page Page, frameID int) (*Executor, error) {
	frame, err := page.Frame(ctx, frameID)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
	alive, probeErr := frame.Probe(probeCtx)
	cancel()
	if !alive {
		if probeErr != nil {
			slog.Debug("executor probe failed, injecting", "frame_id", frameID, "error", probeErr)
		}
		if err := frame.Inject(ctx); err != nil {
			return nil, fmt.Errorf("inject executor into frame %d: %w", frameID, err)
		}
	}
	return NewExecutor(frame, o.opts.PollInterval, o.opts.ElementTimeout), nil
}
