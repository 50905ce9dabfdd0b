package middleware

import (
	"context"

	"estancias/internal/app/commands"
)

// CommandMiddleware wraps a command bus with additional behavior (tx,
// idempotency, logging).
type CommandMiddleware func(next commands.Bus) commands.Bus

// ChainCommands builds a command bus wrapped with the provided middleware
// (outermost first).
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// commandFunc allows lightweight middleware composition without new structs
// per wrapper.
type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

func wrapCommand(next commands.Bus) commandFunc {
	return func(ctx context.Context, cmd commands.Command) (any, error) {
		return next.Dispatch(ctx, cmd)
	}
}
