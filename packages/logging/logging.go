package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Formats accepted by New.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatColor = "color"
)

// Masked replaces the value of sensitive attributes.
const Masked = "***"

var sensitiveKeys = []string{"password", "secret", "token", "authorization", "api_key", "apikey", "cookie"}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Options configures New.
type Options struct {
	Level   slog.Level
	Format  string
	NoColor bool
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	hopts := &slog.HandlerOptions{Level: opts.Level, ReplaceAttr: maskAttr}

	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case FormatText:
		h = slog.NewTextHandler(w, hopts)
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	case FormatColor, "":
		h = NewColorHandler(w, hopts, !opts.NoColor)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(h), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Component tags a logger with the emitting component.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = Discard()
	}
	return l.With("component", name)
}

// IsSensitive reports whether an attribute key names a credential.
func IsSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && IsSensitive(a.Key) {
		return slog.String(a.Key, Masked)
	}
	return a
}
