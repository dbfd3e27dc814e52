package replay

import (
	"context"
	"errors"
)

var (
	// ErrElementNotFound means the selector matched nothing before the resolution timeout.
	ErrElementNotFound = errors.New("element not found")
	// ErrUnsupportedTarget means a Change hit an element that is neither input-like nor content-editable.
	ErrUnsupportedTarget = errors.New("unsupported target")
)

// Browser opens fresh pages for replay.
type Browser interface {
	// OpenPage creates a tab, navigates it to url and returns once the page
	// has fired its load event.
	OpenPage(ctx context.Context, url string) (Page, error)
}

// Page is one loaded replay tab.
type Page interface {
	// Frame returns the document frame with the given ordinal (0 is the top frame).
	Frame(ctx context.Context, frameID int) (Frame, error)
}

// Screenshotter is implemented by pages that can capture what they show.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Frame is the transport to the executor agent of one frame.
type Frame interface {
	// Probe reports whether an executor already answers in the frame.
	Probe(ctx context.Context) (bool, error)
	Inject(ctx context.Context) error
	// Query reports whether selector currently matches an element.
	Query(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
}
