// Package logger builds the zerolog loggers used by the CLI and carried through query contexts.
package logger

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string `default:"info" validate:"oneof=debug info warn error"`
	Console bool
	SampleN int `validate:"gte=0"`
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > int(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if n := safeUint32(cfg.SampleN); n > 0 {
		base = base.Sample(&zerolog.BasicSampler{N: n})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		base = base.Level(zerolog.DebugLevel)
	case "warn":
		base = base.Level(zerolog.WarnLevel)
	case "error":
		base = base.Level(zerolog.ErrorLevel)
	default:
		base = base.Level(zerolog.InfoLevel)
	}
	return base.With().Timestamp().Logger()
}

// WithOperator returns a context whose logger is tagged with the operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	l := FromContext(ctx).With().Str("operator", operator).Logger()
	return l.WithContext(ctx)
}

// FromContext returns the context logger, or a disabled one.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
