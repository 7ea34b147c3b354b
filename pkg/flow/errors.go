package flow

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrActionPending is returned by SetAction and Wait on a strict engine
	// while another action waits for its response.
	ErrActionPending = errors.New("an action is already pending")
	ErrNotFound      = errors.New("message not found")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
