package continuation

import "sync"

// Register holds the single installed continuation of a conversation.
// There is no queue: installing a continuation replaces the previous one.
type Register struct {
	mu      sync.Mutex
	current *Continuation
}

func NewRegister() *Register {
	return &Register{}
}

// Set installs c. If the replaced continuation was still pending it is
// returned so the caller can decide what to do with it; the register itself
// never resolves it.
func (r *Register) Set(c *Continuation) *Continuation {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current
	r.current = c
	if prev != nil && prev != c && prev.IsPending() {
		return prev
	}
	return nil
}

// Current returns the installed continuation, resolved or not.
func (r *Register) Current() *Continuation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Pending returns the installed continuation if it has not been consumed.
func (r *Register) Pending() (*Continuation, bool) {
	c := r.Current()
	if c == nil || !c.IsPending() {
		return nil, false
	}
	return c, true
}

// Resolve resolves the installed continuation. It is a no-op returning false
// when nothing is installed or the installed continuation was consumed.
func (r *Register) Resolve(resp Response) bool {
	c := r.Current()
	if c == nil {
		return false
	}
	return c.Resolve(resp)
}
