package logx

import (
	"context"
	"github.com/rs/zerolog"
	"io"
	"os"
	"time"
)

// New builds the process logger and installs it as zerolog's context default,
// so zerolog.Ctx(ctx) on a bare context still logs with service fields.
func New(service, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, level)
}

func NewWithWriter(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
	zerolog.DefaultContextLogger = &l
	return l
}

// Ctx: logger dari context (request-scoped kalau ada).
func Ctx(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// With menempelkan field tambahan ke logger di context.
func With(ctx context.Context, key, value string) context.Context {
	l := zerolog.Ctx(ctx).With().Str(key, value).Logger()
	return l.WithContext(ctx)
}
