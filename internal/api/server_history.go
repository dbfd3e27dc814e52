package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/flowrec/internal/controller"
	"github.com/dgnsrekt/flowrec/internal/snapshot"
)

func registerRunHandlers(api huma.API, svc Service) {
	type listRunsOutput struct {
		Body struct {
			Runs []controller.RunResult `json:"runs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "Recent replays, newest first", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct {
			Limit int `query:"limit" minimum:"0" maximum:"500" doc:"Maximum number of runs; 0 means 50"`
		}) (*listRunsOutput, error) {
			runs, err := svc.RecentRuns(input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRunsOutput{}
			out.Body.Runs = runs
			if out.Body.Runs == nil {
				out.Body.Runs = []controller.RunResult{}
			}
			return out, nil
		})
}

func registerSnapshotHandlers(api huma.API, svc Service) {
	type snapshotBody struct {
		snapshot.Meta
		URL string `json:"url"`
	}
	withURL := func(meta snapshot.Meta) snapshotBody {
		return snapshotBody{Meta: meta, URL: "/api/v1/snapshots/" + meta.ID + "/image"}
	}

	type listSnapshotsOutput struct {
		Body struct {
			Snapshots []snapshotBody `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List failure screenshots", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*listSnapshotsOutput, error) {
			metas, err := svc.ListSnapshots()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSnapshotsOutput{}
			out.Body.Snapshots = make([]snapshotBody, 0, len(metas))
			for _, m := range metas {
				out.Body.Snapshots = append(out.Body.Snapshots, withURL(m))
			}
			return out, nil
		})

	type snapshotIDInput struct {
		SnapshotID string `path:"snapshot_id" doc:"Run id of the failed replay"`
	}
	type getSnapshotOutput struct {
		Body snapshotBody
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot", Method: http.MethodGet, Path: "/api/v1/snapshots/{snapshot_id}", Summary: "Get failure screenshot metadata", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*getSnapshotOutput, error) {
			meta, err := svc.GetSnapshot(input.SnapshotID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &getSnapshotOutput{Body: withURL(meta)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/snapshots/{snapshot_id}", Summary: "Delete a failure screenshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*struct{}, error) {
			if err := svc.DeleteSnapshot(input.SnapshotID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	type snapshotImageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshots/{snapshot_id}/image",
		Summary:     "Get failure screenshot image",
		Tags:        []string{"Snapshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Screenshot image",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *snapshotIDInput) (*snapshotImageOutput, error) {
		data, format, err := svc.ReadSnapshotImage(input.SnapshotID)
		if err != nil {
			return nil, mapErr(err)
		}
		ct := "image/png"
		if format == "jpeg" {
			ct = "image/jpeg"
		}
		return &snapshotImageOutput{ContentType: ct, Body: data}, nil
	})
}
