package capture

import (
	"context"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/recorder"
)

// TabSource finds the tab the user is looking at.
type TabSource interface {
	ForegroundTab(ctx context.Context) (cdpcontrol.TabInfo, error)
}

// Tabs adapts a TabSource to the recorder.
type Tabs struct {
	Source TabSource
}

func (t Tabs) ForegroundTab(ctx context.Context) (recorder.Tab, error) {
	info, err := t.Source.ForegroundTab(ctx)
	if err != nil {
		return recorder.Tab{}, err
	}
	return recorder.Tab{ID: info.ID, URL: info.URL}, nil
}
