// Package retry implements fixed-delay polling with an optional attempt
// bound.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonkrylov/htzbuild/internal/clock"
)

// ErrExhausted is returned by Poll when MaxAttempts calls were made
// without the condition reporting done.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures Poll.
type Policy struct {
	// MaxAttempts bounds the number of calls. Zero means unbounded.
	MaxAttempts int
	// Delay is the pause between consecutive attempts.
	Delay time.Duration
	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Func is one polling attempt. attempt starts at 1. Returning done=true
// stops polling successfully; a non-nil error stops polling with that error.
type Func func(ctx context.Context, attempt int) (done bool, err error)

// Poll calls fn until it reports done, fails, ctx ends, or the attempt
// bound is reached. It sleeps Delay after every unsuccessful attempt.
func Poll(ctx context.Context, p Policy, fn Func) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	for attempt := 1; p.MaxAttempts <= 0 || attempt <= p.MaxAttempts; attempt++ {
		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := clk.Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, p.MaxAttempts)
}
