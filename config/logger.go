package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mnehpets/onerpc/internal/logctx"
)

// Levels beyond the slog built-ins.
const (
	LevelTrace  = slog.Level(-8)
	LevelSilent = slog.Level(100)
)

// ParseLevel maps a level name to a slog level. An empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off", "none":
		return LevelSilent, nil
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", name)
}

// NewLogger builds the logger described by c, writing to w. Records logged
// with a request context carry the request and call attributes.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if !c.Enabled || level == LevelSilent {
		return slog.New(slog.DiscardHandler), nil
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if !c.Timestamp {
					return slog.Attr{}
				}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("config: log format must be text or json, got %q", c.Format)
	}
	return logctx.New(h), nil
}
