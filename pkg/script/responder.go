package script

import (
	"context"
	"sync"

	"github.com/go-go-golems/convoflow/pkg/blocks"
	"github.com/pkg/errors"
)

// Responder answers actions on behalf of the user. The runner passes the
// answer to Engine.Next.
type Responder interface {
	Respond(ctx context.Context, action blocks.Block) (blocks.Data, error)
}

type ResponderFunc func(ctx context.Context, action blocks.Block) (blocks.Data, error)

func (f ResponderFunc) Respond(ctx context.Context, action blocks.Block) (blocks.Data, error) {
	return f(ctx, action)
}

// Scripted answers with the given texts in order. Waiting actions are
// answered with empty data and consume nothing.
func Scripted(answers ...string) Responder {
	var mu sync.Mutex
	i := 0
	return ResponderFunc(func(ctx context.Context, action blocks.Block) (blocks.Data, error) {
		if action.IsWaiting() {
			return blocks.Data{}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if i >= len(answers) {
			return nil, errors.Errorf("no scripted answer left for %q", action.Text())
		}
		a := answers[i]
		i++
		return blocks.Data{blocks.DataText: a}, nil
	})
}
