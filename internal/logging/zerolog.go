// Package logging adapts zerolog to the registry's Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GoCodeAlone/modreg"
)

// ZerologAdapter implements modreg.Logger using zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

var _ modreg.Logger = (*ZerologAdapter)(nil)

// Options selects output format and level.
type Options struct {
	// Format is "console" or "json". Default: console.
	Format string
	// Level is a zerolog level name. Default: info.
	Level string
	// Out defaults to os.Stderr.
	Out io.Writer
}

// New builds an adapter from opts.
func New(opts Options) (*ZerologAdapter, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	switch opts.Format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &ZerologAdapter{logger: logger}, nil
}

// NewWithLogger wraps an existing zerolog.Logger.
func NewWithLogger(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (z *ZerologAdapter) Debug(msg string, args ...any) { z.write(z.logger.Debug(), msg, args) }
func (z *ZerologAdapter) Info(msg string, args ...any)  { z.write(z.logger.Info(), msg, args) }
func (z *ZerologAdapter) Warn(msg string, args ...any)  { z.write(z.logger.Warn(), msg, args) }
func (z *ZerologAdapter) Error(msg string, args ...any) { z.write(z.logger.Error(), msg, args) }

// Logger returns the underlying zerolog.Logger.
func (z *ZerologAdapter) Logger() zerolog.Logger {
	return z.logger
}

// write turns alternating key/value args into typed fields. A trailing key
// without a value is logged under "!BADKEY", as log/slog does.
func (z *ZerologAdapter) write(event *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			event = addField(event, "!BADKEY", args[i])
			i--
			continue
		}
		event = addField(event, key, args[i+1])
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return event.Str(key, v)
	case int:
		return event.Int(key, v)
	case int64:
		return event.Int64(key, v)
	case uint64:
		return event.Uint64(key, v)
	case float64:
		return event.Float64(key, v)
	case bool:
		return event.Bool(key, v)
	case time.Duration:
		return event.Dur(key, v)
	case []string:
		return event.Strs(key, v)
	case error:
		return event.AnErr(key, v)
	case fmt.Stringer:
		return event.Stringer(key, v)
	default:
		return event.Interface(key, v)
	}
}
