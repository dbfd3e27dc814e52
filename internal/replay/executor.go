package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/flowrec/internal/flow"
	"github.com/dgnsrekt/flowrec/internal/poll"
)

// Executor runs action steps inside one frame.
type Executor struct {
	frame    Frame
	interval time.Duration
	timeout  time.Duration
}

// NewExecutor returns an executor polling every interval for up to timeout.
func NewExecutor(frame Frame, interval, timeout time.Duration) *Executor {
	return &Executor{frame: frame, interval: interval, timeout: timeout}
}

// Execute resolves the step's selector with bounded polling and performs it.
func (e *Executor) Execute(ctx context.Context, step flow.Step) error {
	switch s := step.(type) {
	case flow.Click:
		if err := e.await(ctx, s.Selector); err != nil {
			return err
		}
		return e.frame.Click(ctx, s.Selector)
	case flow.Change:
		if err := e.await(ctx, s.Selector); err != nil {
			return err
		}
		return e.frame.SetValue(ctx, s.Selector, s.Value)
	case flow.Goto, flow.Wait:
		return fmt.Errorf("executor cannot run a %s step", s.Type())
	default:
		return fmt.Errorf("executor: unknown step %T", step)
	}
}

func (e *Executor) await(ctx context.Context, selector string) error {
	err := poll.Until(ctx, e.interval, e.timeout, func(ctx context.Context) (bool, error) {
		return e.frame.Query(ctx, selector)
	})
	if errors.Is(err, poll.ErrTimeout) {
		return ErrElementNotFound
	}
	return err
}
