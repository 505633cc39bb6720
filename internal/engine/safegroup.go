package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/poltergeist/poltergeist/internal/logging"
)

// SafeGroup wraps errgroup.Group with panic recovery so one target's
// goroutine panicking never brings down the daemon process.
type SafeGroup struct {
	group  *errgroup.Group
	logger logging.Logger
}

func NewSafeGroup(ctx context.Context, log logging.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &SafeGroup{group: g, logger: log}, ctx
}

// Go runs fn in a new goroutine, converting any panic into a logged error
// rather than letting it propagate and crash the process.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("goroutine panic recovered",
					logging.WithField("panic", r),
					logging.WithField("stack", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()
		return fn()
	})
}

// SetLimit bounds the number of concurrently running goroutines.
func (sg *SafeGroup) SetLimit(n int) {
	sg.group.SetLimit(n)
}

// Wait blocks until every goroutine has returned, yielding the first error.
func (sg *SafeGroup) Wait() (err error) {
	defer func() {
		if r := recover(); r != nil {
			sg.logger.Error("panic during SafeGroup.Wait", logging.WithField("panic", r))
			err = fmt.Errorf("wait panic: %v", r)
		}
	}()
	return sg.group.Wait()
}
