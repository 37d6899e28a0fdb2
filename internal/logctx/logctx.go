// Package logctx carries a zerolog logger through context.Context.
//
// The CLI attaches a logger per scan session (tagged with the shard name),
// and the scanner adds the id column for each sub-range scan:
//
//	ctx = logctx.WithShard(ctx, "2.moray.us-east.joyent.us")
//	ctx = logctx.WithColumn(ctx, "_id")
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("find _id: begin")
package logctx

import (
	"context"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/rs/zerolog"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context. Without one it returns
// the global logger from pkg/logging.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithShard tags the context logger with the shard being scanned.
func WithShard(ctx context.Context, shard string) context.Context {
	return WithStr(ctx, "moray", shard)
}

// WithColumn tags the context logger with the id column being scanned.
func WithColumn(ctx context.Context, column string) context.Context {
	return WithStr(ctx, "id_column", column)
}
