package events

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/flowrec/internal/flow"
)

// UI message names.
const (
	RecordingStateChanged = "recordingStateChanged"
	UpdateLiveSteps       = "updateLiveSteps"
	FlowsUpdated          = "flowsUpdated"
	ShowError             = "showError"
	RunFinished           = "runFinished"
)

// RecordingStatePayload is the body of recordingStateChanged.
type RecordingStatePayload struct {
	IsRecording bool          `json:"isRecording"`
	Steps       flow.Sequence `json:"steps"`
}

// LiveStepsPayload is the body of updateLiveSteps.
type LiveStepsPayload struct {
	Steps flow.Sequence `json:"steps"`
}

// ErrorPayload is the body of showError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RunFinishedPayload is the body of runFinished.
type RunFinishedPayload struct {
	Name  string `json:"name"`
	RunID string `json:"runId"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bus publishes typed UI messages onto a Broker.
type Bus struct {
	broker *Broker
}

func NewBus(broker *Broker) *Bus { return &Bus{broker: broker} }

func (b *Bus) RecordingStateChanged(isRecording bool, steps flow.Sequence) {
	b.publish(RecordingStateChanged, RecordingStatePayload{IsRecording: isRecording, Steps: steps.Clone()})
}

func (b *Bus) UpdateLiveSteps(steps flow.Sequence) {
	b.publish(UpdateLiveSteps, LiveStepsPayload{Steps: steps.Clone()})
}

func (b *Bus) FlowsUpdated() { b.publish(FlowsUpdated, struct{}{}) }

func (b *Bus) ShowError(message string) { b.publish(ShowError, ErrorPayload{Message: message}) }

func (b *Bus) RunFinished(p RunFinishedPayload) { b.publish(RunFinished, p) }

func (b *Bus) publish(name string, payload any) {
	if !b.broker.Wants(name) {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("event encode failed", "event", name, "error", err)
		return
	}
	b.broker.Publish(Event{Name: name, Payload: string(data)})
}
