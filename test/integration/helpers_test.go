//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"
)

var env *Env

// Env holds shared state for all integration tests.
type Env struct {
	BaseURL string
	Client  *http.Client
	Prefix  string // flow names created by this run start with it
}

func (e *Env) ping() error {
	resp, err := e.Client.Get(e.BaseURL + "/api/v1/health")
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", e.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d", resp.StatusCode)
	}
	return nil
}

// cleanupFlows removes every flow this run created.
func (e *Env) cleanupFlows() {
	resp, err := e.Client.Get(e.BaseURL + "/api/v1/flows")
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var listing struct {
		Flows []struct {
			Name string `json:"name"`
		} `json:"flows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return
	}
	for _, f := range listing.Flows {
		if len(f.Name) < len(e.Prefix) || f.Name[:len(e.Prefix)] != e.Prefix {
			continue
		}
		req, _ := http.NewRequest(http.MethodDelete, e.BaseURL+"/api/v1/flows/"+url.PathEscape(f.Name), nil)
		if r, err := e.Client.Do(req); err == nil {
			r.Body.Close()
		}
	}
}

func TestMain(m *testing.M) {
	baseURL := os.Getenv("FLOWREC_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8190"
	}

	env = &Env{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
		Prefix:  fmt.Sprintf("it-%d-", time.Now().Unix()),
	}

	if err := env.ping(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "integration: using %s\n", env.BaseURL)

	code := m.Run()
	env.cleanupFlows()
	os.Exit(code)
}

// --- HTTP helpers ---

func (e *Env) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.Client.Get(e.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *Env) PUT(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPut, path, body)
}

func (e *Env) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, path, body)
}

func (e *Env) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodDelete, path, nil)
}

func (e *Env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("%s %s: marshal body: %v", method, path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.BaseURL+path, r)
	if err != nil {
		t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// --- Assertion helpers ---

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func requireField[T comparable](t *testing.T, got, want T, name string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// --- Flow path helpers ---

func (e *Env) flowName(suffix string) string {
	return e.Prefix + suffix
}

func flowPath(name string, suffix ...string) string {
	p := "/api/v1/flows/" + url.PathEscape(name)
	for _, s := range suffix {
		p += s
	}
	return p
}

// formPage is a data: URL with an input, a button that copies the input into
// the title, and an iframe holding a second button.
const formPage = `data:text/html,<input id="q"><button id="go" onclick="document.title=document.getElementById('q').value">Go</button>` +
	`<iframe srcdoc="<button id='inner'>Inner</button>"></iframe>`

type runResult struct {
	Name       string `json:"name"`
	RunID      string `json:"runId"`
	OK         bool   `json:"ok"`
	Steps      int    `json:"steps"`
	Executed   int    `json:"executed"`
	Error      string `json:"error"`
	FailedStep *int   `json:"failedStep"`
	Screenshot string `json:"screenshot"`
}
