// Package logctx carries a zerolog logger on a context.Context so lake
// operations log with the tap and stream they act on.
package logctx

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var fallback atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fallback.Store(&l)
}

// SetFallback sets the logger FromContext returns for a context without
// one.
func SetFallback(l zerolog.Logger) {
	fallback.Store(&l)
}

// WithLogger returns a copy of ctx carrying logger. A nil ctx is treated as
// context.Background.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or the fallback logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *fallback.Load()
}

// WithStr adds a string field to the context logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithStream adds the tap_id and stream_id fields every stream-scoped log
// line carries.
func WithStream(ctx context.Context, tapID, streamID string) context.Context {
	logger := FromContext(ctx).With().Str("tap_id", tapID).Str("stream_id", streamID).Logger()
	return WithLogger(ctx, logger)
}
