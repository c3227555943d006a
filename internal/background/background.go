// Package background runs deferred work: tasks scheduled after a response
// has been sent. Tasks are failure-isolated: a panic or error in one task
// is logged and never affects the response, its siblings, or the caller.
// The server drains the runner during graceful shutdown so scheduled work
// runs to completion.
package background

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner tracks detached tasks.
type Runner struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Go spawns fn as a tracked task. The task gets a context detached from any
// request so client disconnects cannot cancel it.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("deferred task panicked",
					"task", name,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
			}
		}()

		if err := fn(context.Background()); err != nil {
			r.logger.Error("deferred task failed",
				"task", name,
				"error", err.Error(),
			)
		}
	}()
}

// Wait blocks until all tracked tasks finish or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
