package logging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type (
	loggerKey      struct{}
	annotationsKey struct{}
)

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx retrieves the request logger, or the global logger outside a request.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// annotations collects fields a handler wants on its request's completion
// line. Websocket handlers keep running after the upgrade, so the line is
// the only place the handshake outcome and connection id meet the request id.
type annotations struct {
	mu     sync.Mutex
	fields map[string]any
}

func withAnnotations(ctx context.Context) (context.Context, *annotations) {
	a := &annotations{fields: map[string]any{}}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate adds key to the completion line HTTPMiddleware writes for the
// request carrying ctx. Outside the middleware it does nothing.
func Annotate(ctx context.Context, key string, value any) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.fields[key] = value
	a.mu.Unlock()
}

func (a *annotations) apply(e *zerolog.Event) *zerolog.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.fields) == 0 {
		return e
	}
	return e.Fields(a.fields)
}
