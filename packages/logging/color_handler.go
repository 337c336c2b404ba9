package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ColorHandler writes one human readable line per record:
//
//	15:04:05.000 INFO  message key=value ...
type ColorHandler struct {
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	groups []string

	mu *sync.Mutex
	w  io.Writer

	levels map[slog.Level]*color.Color
	key    *color.Color
	dim    *color.Color
}

func NewColorHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	h := &ColorHandler{
		opts: opts,
		mu:   &sync.Mutex{},
		w:    w,
		levels: map[slog.Level]*color.Color{
			slog.LevelDebug: color.New(color.FgHiBlack),
			slog.LevelInfo:  color.New(color.FgGreen),
			slog.LevelWarn:  color.New(color.FgYellow),
			slog.LevelError: color.New(color.FgRed, color.Bold),
		},
		key: color.New(color.FgCyan),
		dim: color.New(color.FgHiBlack),
	}
	for _, c := range h.colors() {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return h
}

func (h *ColorHandler) colors() []*color.Color {
	out := []*color.Color{h.key, h.dim}
	for _, c := range h.levels {
		out = append(out, c)
	}
	return out
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	if !r.Time.IsZero() {
		sb.WriteString(h.dim.Sprint(r.Time.Format("15:04:05.000")))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.levelColor(r.Level).Sprintf("%-5s", r.Level.String()))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		h.writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&sb, prefix, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *ColorHandler) levelColor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return h.levels[slog.LevelError]
	case l >= slog.LevelWarn:
		return h.levels[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return h.levels[slog.LevelInfo]
	}
	return h.levels[slog.LevelDebug]
}

func (h *ColorHandler) writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(sb, key, ga)
		}
		return
	}
	if h.opts.ReplaceAttr != nil {
		a = h.opts.ReplaceAttr(h.groups, a)
	}
	sb.WriteByte(' ')
	sb.WriteString(h.key.Sprint(key))
	sb.WriteByte('=')
	sb.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().Round(time.Microsecond).String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	prefix := strings.Join(h.groups, ".")
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}
