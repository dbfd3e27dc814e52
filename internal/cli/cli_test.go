package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginFlowJSON = `{"name":"login","steps":[
	{"type":"goto","url":"https://example.com/login"},
	{"type":"wait","durationMs":250},
	{"type":"change","selector":"#user","value":"ada","frameId":0},
	{"type":"click","selector":"#go","label":"Go","frameId":1}
]}`

type apiCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

func fakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]apiCall) {
	t.Helper()
	var calls []apiCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, apiCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestListFlows(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"flows":[`+loginFlowJSON+`]}`)
	})

	out, err := runCLI(t, srv.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "4 steps")
	require.Len(t, *calls, 1)
	assert.Equal(t, "/api/v1/flows", (*calls)[0].Path)
}

func TestShowFlow(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loginFlowJSON)
	})

	out, err := runCLI(t, srv.URL, "show", "login", "--display")
	require.NoError(t, err)
	assert.Contains(t, out, "goto https://example.com/login")
	assert.Contains(t, out, "wait 250ms")
	assert.Contains(t, out, `change #user = "ada" [frame 0]`)
	assert.Contains(t, out, `click #go "Go" [frame 1]`)
	assert.Equal(t, http.MethodPost, (*calls)[0].Method)
	assert.Equal(t, "/api/v1/flows/login/display", (*calls)[0].Path)
}

func TestShowMissingFlowReportsProblemDetail(t *testing.T) {
	srv, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"title":"Not Found","status":404,"detail":"flow \"nope\" not found"}`))
	})

	_, err := runCLI(t, srv.URL, "show", "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, `flow "nope" not found`, apiErr.Detail)
}

func TestRunWaitsByDefault(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"login","runId":"r1","ok":true,"steps":4,"executed":4,"durationMs":812}`)
	})

	out, err := runCLI(t, srv.URL, "run", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "OK login 4 steps in 812ms")
	assert.Equal(t, "wait=true", (*calls)[0].Query)
}

func TestRunFailureIsAnError(t *testing.T) {
	srv, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"login","runId":"r1","ok":false,"steps":4,"executed":3,"error":"step #3 click #go: element not found","failedStep":3}`)
	})

	out, err := runCLI(t, srv.URL, "run", "login")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED login after 3/4 steps: step #3 click #go: element not found")
}

func TestRunDetached(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, `{"name":"login","runId":"r2","ok":false}`)
	})

	out, err := runCLI(t, srv.URL, "run", "-d", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "run r2 started")
	assert.Empty(t, (*calls)[0].Query)
}

func TestStopSendsName(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"login","saved":true}`)
	})

	out, err := runCLI(t, srv.URL, "stop", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "saved login")
	assert.JSONEq(t, `{"name":"login"}`, (*calls)[0].Body)
}

func TestStatusWhileRecording(t *testing.T) {
	srv, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"isRecording":true,"tabId":"T1","startedAt":"2026-01-02T03:04:05Z","steps":[{"type":"goto","url":"https://example.com/"}]}`)
	})

	out, err := runCLI(t, srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "recording tab T1")
	assert.Contains(t, out, "goto https://example.com/")
}

func TestExportYAML(t *testing.T) {
	srv, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loginFlowJSON)
	})
	file := filepath.Join(t.TempDir(), "login.yaml")

	_, err := runCLI(t, srv.URL, "export", "login", "--format", "yaml", "-o", file)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: login")
	assert.Contains(t, string(data), "durationMs: 250")

	steps, err := parseSteps(data)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "#go", steps[3].Selector)
	assert.Equal(t, 1, *steps[3].FrameID)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	srv, _ := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loginFlowJSON)
	})
	_, err := runCLI(t, srv.URL, "export", "login", "--format", "xml")
	require.Error(t, err)
}

func TestImportJSONList(t *testing.T) {
	srv, calls := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, loginFlowJSON)
	})
	file := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"type":"goto","url":"https://example.com/"},{"type":"click","selector":"#a","label":"","frameId":0}]`), 0o644))

	out, err := runCLI(t, srv.URL, "import", "demo", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported demo (2 steps)")

	call := (*calls)[0]
	assert.Equal(t, http.MethodPut, call.Method)
	assert.Equal(t, "/api/v1/flows/demo", call.Path)
	var body struct {
		Steps []map[string]any `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(call.Body), &body))
	require.Len(t, body.Steps, 2)
	assert.Equal(t, "click", body.Steps[1]["type"])
	assert.Equal(t, "", body.Steps[1]["label"], "an empty label is still sent")
}

func TestParseStepsRejectsScalars(t *testing.T) {
	_, err := parseSteps([]byte(`"just a string"`))
	require.Error(t, err)
	_, err = parseSteps([]byte(`{"name":"x"}`))
	require.Error(t, err)
	_, err = parseSteps([]byte(``))
	require.Error(t, err)
}
