package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/logrusorgru/aurora"
)

// ConsoleHandler writes one human-readable line per record:
// time, coloured level, message, then key=value attributes.
type ConsoleHandler struct {
	level slog.Leveler

	mu *sync.Mutex
	w  io.Writer

	groupPrefix string
	preformat   []byte
}

// NewConsoleHandler creates a console handler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{level: level, mu: &sync.Mutex{}, w: w}
}

// Enabled reports whether the handler handles records at the given level
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	buf.WriteString(t.Format(time.TimeOnly))
	buf.WriteByte(' ')
	buf.WriteString(FormatLevel(r.Level))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	if len(h.preformat) > 0 {
		buf.Write(h.preformat)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.groupPrefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a new handler with the given attributes
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	var buf bytes.Buffer
	for _, a := range attrs {
		appendAttr(&buf, h.groupPrefix, a)
	}
	h2.preformat = append(h2.preformat, buf.Bytes()...)
	return h2
}

// WithGroup returns a new handler with the given group name
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groupPrefix += name + "."
	return h2
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	return &ConsoleHandler{
		level:       h.level,
		mu:          h.mu,
		w:           h.w,
		groupPrefix: h.groupPrefix,
		preformat:   slices.Clone(h.preformat),
	}
}

func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, prefix, ga)
		}
		return
	}
	fmt.Fprintf(buf, " %s=%v", aurora.Faint(prefix+a.Key), a.Value.Any())
}

// FormatLevel returns a coloured, equal-width label for level.
func FormatLevel(l slog.Level) string {
	str := func(base string, offset slog.Level) string {
		if offset == 0 {
			return base
		}
		return fmt.Sprintf("%s+%d", base, aurora.Red(int(offset)))
	}

	switch {
	case l < slog.LevelInfo:
		return str(aurora.White("DEBUG").String(), l-slog.LevelDebug)
	case l < slog.LevelWarn:
		return str(aurora.Cyan("INFO ").String(), l-slog.LevelInfo)
	case l < slog.LevelError:
		return str(aurora.Yellow("WARN ").String(), l-slog.LevelWarn)
	default:
		return str(aurora.Red("ERROR").String(), l-slog.LevelError)
	}
}
