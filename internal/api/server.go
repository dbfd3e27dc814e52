// Package api exposes the recorder and replay service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/controller"
	"github.com/dgnsrekt/flowrec/internal/events"
	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/recorder"
	"github.com/dgnsrekt/flowrec/internal/snapshot"
)

type Service interface {
	StartRecording(ctx context.Context) (recorder.State, error)
	StopRecordingAndSave(ctx context.Context, name string) (bool, error)
	CancelRecording(ctx context.Context)
	RecordingState() recorder.State
	GetFlows() ([]controller.FlowSummary, error)
	GetFlow(name string) (flow.Sequence, error)
	DisplayFlow(name string) (flow.Sequence, error)
	PutFlow(name string, steps flow.Sequence) error
	DeleteFlow(name string) error
	RunFlow(ctx context.Context, name string) (controller.RunResult, error)
	StartFlow(name string) (string, error)
	ActiveRun() (string, bool)
	RecentRuns(limit int) ([]controller.RunResult, error)
	ListSnapshots() ([]snapshot.Meta, error)
	GetSnapshot(id string) (snapshot.Meta, error)
	ReadSnapshotImage(id string) ([]byte, string, error)
	DeleteSnapshot(id string) error
}

type flowNameInput struct {
	Name string `path:"name" doc:"Flow name"`
}

type recordingState struct {
	IsRecording bool       `json:"isRecording"`
	SessionID   string     `json:"sessionId,omitempty"`
	TabID       string     `json:"tabId,omitempty"`
	StartedAt   string     `json:"startedAt,omitempty" doc:"RFC 3339 start time of the session"`
	Steps       []stepBody `json:"steps"`
}

type recordingOutput struct {
	Body recordingState
}

func stateOutput(s recorder.State) (*recordingOutput, error) {
	steps, err := toWire(s.Steps)
	if err != nil {
		return nil, mapErr(err)
	}
	out := &recordingOutput{Body: recordingState{IsRecording: s.Recording, SessionID: s.SessionID, TabID: s.TabID, Steps: steps}}
	if !s.StartedAt.IsZero() {
		out.Body.StartedAt = s.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	return out, nil
}

// NewServer builds the HTTP handler. broker feeds the SSE stream.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("flowrec API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
	}

	registerHealthHandlers(api, svc)
	registerRecordingHandlers(api, svc)
	registerFlowHandlers(api, svc)
	registerRunHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status    string `json:"status"`
			Recording bool   `json:"recording"`
			ActiveRun string `json:"activeRun,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Recording = svc.RecordingState().Recording
			out.Body.ActiveRun, _ = svc.ActiveRun()
			return out, nil
		})
}

func registerRecordingHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "start-recording", Method: http.MethodPost, Path: "/api/v1/recording/start", Summary: "Start recording the foreground tab", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*recordingOutput, error) {
			state, err := svc.StartRecording(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return stateOutput(state)
		})

	type stopOutput struct {
		Body struct {
			Name  string `json:"name"`
			Saved bool   `json:"saved" doc:"False when no recording was active"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "stop-recording", Method: http.MethodPost, Path: "/api/v1/recording/stop", Summary: "Stop recording and save the flow", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Name string `json:"name" required:"true" doc:"Name to save the flow under; an existing flow is replaced"`
			}
		}) (*stopOutput, error) {
			saved, err := svc.StopRecordingAndSave(ctx, input.Body.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &stopOutput{}
			out.Body.Name = input.Body.Name
			out.Body.Saved = saved
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cancel-recording", Method: http.MethodPost, Path: "/api/v1/recording/cancel", Summary: "Discard the current recording", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*recordingOutput, error) {
			svc.CancelRecording(ctx)
			return stateOutput(svc.RecordingState())
		})

	huma.Register(api, huma.Operation{OperationID: "get-recording", Method: http.MethodGet, Path: "/api/v1/recording", Summary: "Current recording state", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*recordingOutput, error) {
			return stateOutput(svc.RecordingState())
		})
}

func registerFlowHandlers(api huma.API, svc Service) {
	type flowBody struct {
		Name  string     `json:"name"`
		Steps []stepBody `json:"steps"`
	}
	type flowOutput struct {
		Body flowBody
	}
	type listFlowsOutput struct {
		Body struct {
			Flows []flowBody `json:"flows"`
		}
	}
	flowResult := func(name string, steps flow.Sequence) (*flowOutput, error) {
		body, err := toWire(steps)
		if err != nil {
			return nil, mapErr(err)
		}
		return &flowOutput{Body: flowBody{Name: name, Steps: body}}, nil
	}

	huma.Register(api, huma.Operation{OperationID: "list-flows", Method: http.MethodGet, Path: "/api/v1/flows", Summary: "List saved flows", Tags: []string{"Flows"}},
		func(ctx context.Context, input *struct{}) (*listFlowsOutput, error) {
			flows, err := svc.GetFlows()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listFlowsOutput{}
			out.Body.Flows = make([]flowBody, 0, len(flows))
			for _, f := range flows {
				body, err := toWire(f.Steps)
				if err != nil {
					return nil, mapErr(fmt.Errorf("flow %q: %w", f.Name, err))
				}
				out.Body.Flows = append(out.Body.Flows, flowBody{Name: f.Name, Steps: body})
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-flow", Method: http.MethodGet, Path: "/api/v1/flows/{name}", Summary: "Get one flow", Tags: []string{"Flows"}},
		func(ctx context.Context, input *flowNameInput) (*flowOutput, error) {
			steps, err := svc.GetFlow(input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return flowResult(input.Name, steps)
		})

	huma.Register(api, huma.Operation{OperationID: "put-flow", Method: http.MethodPut, Path: "/api/v1/flows/{name}", Summary: "Create or replace a flow", Tags: []string{"Flows"}},
		func(ctx context.Context, input *struct {
			Name string `path:"name" doc:"Flow name"`
			Body struct {
				Steps []stepBody `json:"steps" required:"true" doc:"Steps; the first must be goto"`
			}
		}) (*flowOutput, error) {
			steps, err := fromWire(input.Body.Steps)
			if err == nil {
				err = svc.PutFlow(input.Name, steps)
			}
			if err != nil {
				return nil, mapErr(err)
			}
			return flowResult(input.Name, steps)
		})

	huma.Register(api, huma.Operation{OperationID: "delete-flow", Method: http.MethodDelete, Path: "/api/v1/flows/{name}", Summary: "Delete a flow", Tags: []string{"Flows"}},
		func(ctx context.Context, input *flowNameInput) (*struct{}, error) {
			if err := svc.DeleteFlow(input.Name); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	huma.Register(api, huma.Operation{OperationID: "display-flow", Method: http.MethodPost, Path: "/api/v1/flows/{name}/display", Summary: "Show a flow's steps in the panel", Tags: []string{"Flows"}},
		func(ctx context.Context, input *flowNameInput) (*flowOutput, error) {
			steps, err := svc.DisplayFlow(input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return flowResult(input.Name, steps)
		})

	type runOutput struct {
		Status int
		RunID  string `header:"X-Flowrec-Run-Id"`
		Body   controller.RunResult
	}
	huma.Register(api, huma.Operation{OperationID: "run-flow", Method: http.MethodPost, Path: "/api/v1/flows/{name}/run", Summary: "Replay a flow in a fresh tab", Tags: []string{"Flows"},
		Description: "Without wait the run starts in the background and 202 is returned with its run id; the outcome arrives as a runFinished event."},
		func(ctx context.Context, input *struct {
			Name string `path:"name" doc:"Flow name"`
			Wait bool   `query:"wait" doc:"Block until the replay finishes"`
		}) (*runOutput, error) {
			if !input.Wait {
				runID, err := svc.StartFlow(input.Name)
				if err != nil {
					return nil, mapErr(err)
				}
				return &runOutput{Status: http.StatusAccepted, RunID: runID, Body: controller.RunResult{Name: input.Name, RunID: runID}}, nil
			}
			res, err := svc.RunFlow(ctx, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Status: http.StatusOK, RunID: res.RunID, Body: res}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var invalid *flow.ValidationError
	if errors.As(err, &invalid) {
		return huma.Error400BadRequest(invalid.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound, cdpcontrol.CodeFlowNotFound, cdpcontrol.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeBusy:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
