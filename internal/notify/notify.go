// Package notify posts plain-text messages to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, "", message)
}

// Notifier announces finished replays. A Notifier with no endpoint does nothing.
type Notifier struct {
	Client   *http.Client
	Endpoint string
}

// RunFinished posts the outcome of a replay. errText is empty on success.
func (n Notifier) RunFinished(ctx context.Context, flowName string, ok bool, errText string) error {
	if n.Endpoint == "" {
		return nil
	}
	title := "flowrec: " + flowName + " finished"
	message := fmt.Sprintf("Flow %q replayed successfully.", flowName)
	if !ok {
		title = "flowrec: " + flowName + " failed"
		message = fmt.Sprintf("Flow %q failed: %s", flowName, errText)
	}
	return send(ctx, n.Client, n.Endpoint, title, message)
}

func send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
