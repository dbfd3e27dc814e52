// Package cli implements flowctl, the command line client of the flowrec API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 2 * time.Minute

// Client calls the flowrec HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer of the API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// problem is the RFC 9457 body huma answers errors with.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"errors"`
}

// do sends body as JSON and decodes the answer into out. A *[]byte out
// receives the raw body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if _, rawOut := out.(*[]byte); rawOut {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeProblem(resp.StatusCode, raw)
	}
	if dst, ok := out.(*[]byte); ok {
		*dst = raw
		return nil
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeProblem(status int, raw []byte) error {
	var p problem
	if err := json.Unmarshal(raw, &p); err != nil || (p.Detail == "" && p.Title == "") {
		return &APIError{Status: status, Detail: strings.TrimSpace(string(raw))}
	}
	detail := p.Detail
	if detail == "" {
		detail = p.Title
	}
	for _, e := range p.Errors {
		detail += "; " + e.Message
		if e.Location != "" {
			detail += " (" + e.Location + ")"
		}
	}
	return &APIError{Status: status, Detail: detail}
}

func flowPath(name string, suffix ...string) string {
	return "/api/v1/flows/" + url.PathEscape(name) + strings.Join(suffix, "")
}
