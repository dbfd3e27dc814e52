// Package controller implements the panel requests on top of the recorder,
// the flow store and the replay orchestrator.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/events"
	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/recorder"
	"github.com/dgnsrekt/flowrec/internal/replay"
)

const notifyTimeout = 10 * time.Second

// Recorder is the recording session the service drives.
type Recorder interface {
	Start(ctx context.Context) error
	Save(ctx context.Context, name string) (bool, error)
	Cancel(ctx context.Context)
	State() recorder.State
}

// FlowStore is the named flow storage.
type FlowStore interface {
	Get(name string) (flow.Sequence, bool, error)
	Set(name string, steps flow.Sequence) error
	Delete(name string) error
	All() (map[string]flow.Sequence, error)
}

// Replayer runs a flow against a fresh page.
type Replayer interface {
	RunWithID(ctx context.Context, runID string, steps flow.Sequence) (replay.Report, error)
}

// Publisher delivers panel messages.
type Publisher interface {
	FlowsUpdated()
	UpdateLiveSteps(steps flow.Sequence)
	ShowError(message string)
	RunFinished(p events.RunFinishedPayload)
}

// RunNotifier is told about every finished replay.
type RunNotifier interface {
	RunFinished(ctx context.Context, flowName string, ok bool, errText string) error
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Notifier  RunNotifier
	Journal   RunJournal
	Snapshots SnapshotStore
}

// RunResult describes a finished replay. Screenshot is the id of the failure
// snapshot, when one was taken.
type RunResult struct {
	Name       string    `json:"name"`
	RunID      string    `json:"runId"`
	OK         bool      `json:"ok"`
	Steps      int       `json:"steps"`
	Executed   int       `json:"executed"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	FailedStep *int      `json:"failedStep,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// FlowSummary is one entry of the flow listing.
type FlowSummary struct {
	Name  string        `json:"name"`
	Steps flow.Sequence `json:"steps"`
}

// Service handles panel requests. Only one replay runs at a time.
type Service struct {
	rec    Recorder
	flows  FlowStore
	replay Replayer
	bus    Publisher
	notify RunNotifier
	runs   RunJournal
	snaps  SnapshotStore

	baseCtx context.Context
	stop    context.CancelFunc
	running sync.WaitGroup

	mu     sync.Mutex
	active string
}

func NewService(rec Recorder, flows FlowStore, replayer Replayer, bus Publisher, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		rec:     rec,
		flows:   flows,
		replay:  replayer,
		bus:     bus,
		notify:  opts.Notifier,
		runs:    opts.Journal,
		snaps:   opts.Snapshots,
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Close cancels a background replay and waits for it to return.
func (s *Service) Close() {
	s.stop()
	s.running.Wait()
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func flowNotFound(name string) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeFlowNotFound, Message: fmt.Sprintf("flow %q not found", name)}
}

func (s *Service) StartRecording(ctx context.Context) (recorder.State, error) {
	if err := s.rec.Start(ctx); err != nil {
		return recorder.State{}, err
	}
	return s.rec.State(), nil
}

// StopRecordingAndSave saves the session as name. saved is false when no
// session was active.
func (s *Service) StopRecordingAndSave(ctx context.Context, name string) (saved bool, err error) {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return false, err
	}
	saved, err = s.rec.Save(ctx, strings.TrimSpace(name))
	if err != nil {
		s.bus.ShowError(err.Error())
		return false, err
	}
	if saved {
		s.bus.FlowsUpdated()
	}
	return saved, nil
}

func (s *Service) CancelRecording(ctx context.Context) {
	s.rec.Cancel(ctx)
}

func (s *Service) RecordingState() recorder.State {
	return s.rec.State()
}

// GetFlows returns every stored flow ordered by name.
func (s *Service) GetFlows() ([]FlowSummary, error) {
	all, err := s.flows.All()
	if err != nil {
		return nil, err
	}
	out := make([]FlowSummary, 0, len(all))
	for name, steps := range all {
		out = append(out, FlowSummary{Name: name, Steps: steps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) getFlow(name string) (flow.Sequence, error) {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return nil, err
	}
	steps, ok, err := s.flows.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, flowNotFound(name)
	}
	return steps, nil
}

// GetFlow returns one stored flow without touching the panel.
func (s *Service) GetFlow(name string) (flow.Sequence, error) {
	return s.getFlow(name)
}

// DisplayFlow shows the stored steps of name in the panel's step list.
func (s *Service) DisplayFlow(name string) (flow.Sequence, error) {
	steps, err := s.getFlow(name)
	if err != nil {
		return nil, err
	}
	s.bus.UpdateLiveSteps(steps)
	return steps, nil
}

// PutFlow stores steps under name, replacing any flow of that name. Imported
// flows must be replayable.
func (s *Service) PutFlow(name string, steps flow.Sequence) error {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return err
	}
	if err := flow.Validate(steps); err != nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error(), Cause: err}
	}
	if err := s.flows.Set(strings.TrimSpace(name), steps); err != nil {
		return err
	}
	s.bus.FlowsUpdated()
	return nil
}

// DeleteFlow removes name. Deleting a missing flow succeeds.
func (s *Service) DeleteFlow(name string) error {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return err
	}
	if err := s.flows.Delete(strings.TrimSpace(name)); err != nil {
		return err
	}
	s.bus.FlowsUpdated()
	return nil
}

// RunFlow replays name and waits for the outcome. A failing step is reported
// in the result, not as an error; errors mean the run never started.
func (s *Service) RunFlow(ctx context.Context, name string) (RunResult, error) {
	steps, runID, err := s.prepareRun(name)
	if err != nil {
		return RunResult{}, err
	}
	defer s.release()
	return s.execute(ctx, strings.TrimSpace(name), runID, steps), nil
}

// StartFlow begins replaying name in the background and returns its run id.
// The outcome is published as runFinished.
func (s *Service) StartFlow(name string) (string, error) {
	steps, runID, err := s.prepareRun(name)
	if err != nil {
		return "", err
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.release()
		s.execute(s.baseCtx, strings.TrimSpace(name), runID, steps)
	}()
	return runID, nil
}

// ActiveRun returns the id of the replay in progress.
func (s *Service) ActiveRun() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

func (s *Service) prepareRun(name string) (flow.Sequence, string, error) {
	steps, err := s.getFlow(name)
	if err != nil {
		return nil, "", err
	}
	if err := flow.Validate(steps); err != nil {
		return nil, "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error(), Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" {
		return nil, "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeBusy, Message: "replay " + s.active + " is still running"}
	}
	s.active = uuid.NewString()
	return steps, s.active, nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

func (s *Service) execute(ctx context.Context, name, runID string, steps flow.Sequence) RunResult {
	report, err := s.replay.RunWithID(ctx, runID, steps)
	res := RunResult{
		Name:       name,
		RunID:      runID,
		OK:         err == nil,
		Steps:      report.Steps,
		Executed:   report.Executed,
		DurationMS: report.Duration.Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		var stepErr *replay.StepError
		if errors.As(err, &stepErr) {
			idx := stepErr.Index
			res.FailedStep = &idx
			res.Screenshot = s.saveSnapshot(name, runID, stepErr)
		}
		s.bus.ShowError(fmt.Sprintf("Replay of %q failed: %s", name, res.Error))
	}
	res.FinishedAt = time.Now().UTC()
	s.bus.RunFinished(events.RunFinishedPayload{Name: name, RunID: runID, OK: res.OK, Error: res.Error})
	s.record(res)
	s.sendNotification(name, res)
	return res
}

func (s *Service) sendNotification(name string, res RunResult) {
	if s.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notify.RunFinished(ctx, name, res.OK, res.Error); err != nil {
		slog.Warn("run notification failed", "run_id", res.RunID, "error", err)
	}
}
