// Package logctx carries a run-scoped logger through context.Context.
//
// The CLI creates one logger per invocation, tagged with a run_id and the
// command name; pipeline stages extract it and add their own fields:
//
//	ctx = logctx.NewRun(ctx, "explore")
//	ctx = logctx.WithStr(ctx, "source", locator)
//	log := logctx.FromContext(ctx)
//	log.Debug().Msg("opening source")
package logctx

import (
	"context"

	"github.com/eunmann/tabx/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

// runIDKey is the private key type for storing the run id in context.
type runIDKey struct{}

// NewRun returns a context whose logger carries a fresh run_id and the
// command name. The base logger is the one already in ctx, or the global
// logger from pkg/logging.
func NewRun(ctx context.Context, command string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	logger := FromContext(ctx).With().
		Str("run_id", id).
		Str("command", command).
		Logger()
	ctx = context.WithValue(ctx, runIDKey{}, id)
	return WithLogger(ctx, logger)
}

// RunID returns the run id set by NewRun, or "" if there is none.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context. If the context is nil
// or does not contain a logger, returns the global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context with a logger that has the specified string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithInt returns a new context with a logger that has the specified int field added.
func WithInt(ctx context.Context, key string, value int) context.Context {
	logger := FromContext(ctx).With().Int(key, value).Logger()
	return WithLogger(ctx, logger)
}
