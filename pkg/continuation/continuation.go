// Package continuation implements the suspend point of a conversation: a
// one-shot future that is parked until an external responder resumes it.
package continuation

import (
	"context"
	"sync"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrContinuationNil = errors.New("continuation is nil")
	// ErrSuperseded is delivered to a continuation replaced by a newer one
	// before anybody resumed it.
	ErrSuperseded = errors.New("continuation superseded by a newer suspend point")
)

// Response is what a responder hands back when resuming a conversation.
type Response struct {
	Data blocks.Data
	Meta blocks.Meta
}

// Body runs when the continuation is resolved, before the result is
// delivered to waiters. Its return value is what waiters receive.
type Body func(Response) (Response, error)

// Continuation is resolved at most once. The first Resolve or Reject wins;
// later calls report false and have no effect.
type Continuation struct {
	ID string

	body Body
	done chan struct{}

	mu       sync.Mutex
	consumed bool
	resp     Response
	err      error
}

func New(body Body) *Continuation {
	return &Continuation{
		ID:   uuid.NewString(),
		body: body,
		done: make(chan struct{}),
	}
}

// Resolve runs the body with resp and delivers its result. It returns false
// if the continuation was already consumed.
func (c *Continuation) Resolve(resp Response) bool {
	if !c.consume() {
		return false
	}
	out, err := resp, error(nil)
	if c.body != nil {
		out, err = c.body(resp)
	}
	c.deliver(out, err)
	return true
}

// Reject delivers err without running the body.
func (c *Continuation) Reject(err error) bool {
	if !c.consume() {
		return false
	}
	c.deliver(Response{}, err)
	return true
}

func (c *Continuation) consume() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return false
	}
	c.consumed = true
	return true
}

func (c *Continuation) deliver(resp Response, err error) {
	c.mu.Lock()
	c.resp = resp
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

// Wait blocks until the continuation is resolved or ctx is done. Giving up
// on ctx does not withdraw the continuation; it stays parked.
func (c *Continuation) Wait(ctx context.Context) (Response, error) {
	if c == nil {
		return Response{}, ErrContinuationNil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.resp, c.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Done is closed once the result has been delivered.
func (c *Continuation) Done() <-chan struct{} {
	return c.done
}

// IsPending reports whether nobody has resolved or rejected the
// continuation yet.
func (c *Continuation) IsPending() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.consumed
}
