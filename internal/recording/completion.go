package recording

import (
	"context"
	"sync"
)

// Completion resolves once when a session returns to idle.
type Completion struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve sets the result. Only the first call has an effect; it reports whether it won.
func (c *Completion) resolve(r Result) bool {
	resolved := false
	c.once.Do(func() {
		c.result = r
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed when the session has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the session result and whether it is available yet.
func (c *Completion) Result() (Result, bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the session finishes or ctx is done.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return Result{}, context.Cause(ctx)
	}
}
