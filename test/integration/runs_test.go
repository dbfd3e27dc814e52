//go:build integration

package integration

import (
	"io"
	"net/http"
	"testing"
)

func TestReplaySucceeds(t *testing.T) {
	name := env.flowName("replay-ok")
	resp := env.PUT(t, flowPath(name), map[string]any{"steps": []map[string]any{
		{"type": "goto", "url": formPage},
		{"type": "change", "selector": "#q", "value": "hello", "frameId": 0},
		{"type": "click", "selector": "#go", "label": "Go", "frameId": 0},
		{"type": "click", "selector": "#inner", "label": "Inner", "frameId": 1},
	}})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.POST(t, flowPath(name, "/run?wait=true"), nil)
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[runResult](t, resp)
	if !res.OK {
		t.Fatalf("replay failed: %s", res.Error)
	}
	requireField(t, res.Executed, 4, "executed")
}

func TestReplayFailureKeepsScreenshot(t *testing.T) {
	name := env.flowName("replay-fail")
	resp := env.PUT(t, flowPath(name), map[string]any{"steps": []map[string]any{
		{"type": "goto", "url": formPage},
		{"type": "click", "selector": "#does-not-exist", "frameId": 0},
	}})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.POST(t, flowPath(name, "/run?wait=true"), nil)
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[runResult](t, resp)
	if res.OK {
		t.Fatal("replay of a missing element succeeded")
	}
	if res.FailedStep == nil || *res.FailedStep != 1 {
		t.Fatalf("failedStep = %v, want 1", res.FailedStep)
	}
	if res.Screenshot == "" {
		t.Fatal("expected a failure screenshot")
	}
	t.Cleanup(func() {
		r := env.DELETE(t, "/api/v1/snapshots/"+res.Screenshot)
		r.Body.Close()
	})

	resp = env.GET(t, "/api/v1/snapshots/"+res.Screenshot+"/image")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	requireField(t, resp.Header.Get("Content-Type"), "image/png", "content type")
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if len(img) < 8 || string(img[1:4]) != "PNG" {
		t.Fatalf("image is not a PNG (%d bytes)", len(img))
	}
}

func TestRunsListsFinishedReplays(t *testing.T) {
	resp := env.GET(t, "/api/v1/runs?limit=5")
	requireStatus(t, resp, http.StatusOK)
	listing := decodeJSON[struct {
		Runs []runResult `json:"runs"`
	}](t, resp)
	t.Logf("recent runs: %d", len(listing.Runs))
}

func TestRunUnknownFlowIs404(t *testing.T) {
	resp := env.POST(t, flowPath(env.flowName("missing"), "/run"), nil)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
