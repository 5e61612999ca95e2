package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	Log             *slog.Logger
	defaultLevel    slog.Level
	componentLevels map[string]slog.Level
	levelsMu        sync.RWMutex
	format          string
	output          io.Writer
	pid             int
	loggerCache     sync.Map
)

func init() {
	defaultLevel = slog.LevelInfo
	componentLevels = make(map[string]slog.Level)
	format = "text"
	output = os.Stdout
	pid = os.Getpid()

	Log = slog.New(NewTextHandler(output, ""))
}

// Configure replaces the global format, default level and per-component
// overrides. Loggers handed out before the call keep their old handler.
func Configure(logFormat string, level string, components map[string]string) {
	levelsMu.Lock()
	defaultLevel = parseLevel(level)
	format = strings.ToLower(logFormat)
	componentLevels = make(map[string]slog.Level, len(components))
	for name, lvl := range components {
		componentLevels[name] = parseLevel(lvl)
	}
	levelsMu.Unlock()

	loggerCache = sync.Map{}
	Log = slog.New(newHandler(""))
}

// SetOutput redirects every logger created afterwards.
func SetOutput(w io.Writer) {
	levelsMu.Lock()
	output = w
	levelsMu.Unlock()

	loggerCache = sync.Map{}
	Log = slog.New(newHandler(""))
}

func newHandler(component string) slog.Handler {
	levelsMu.RLock()
	w, f := output, format
	levelsMu.RUnlock()

	if f == "json" {
		return newJSONHandler(w, component)
	}
	return NewTextHandler(w, component)
}

type TextHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	attrs     []slog.Attr
	component string
}

func NewTextHandler(w io.Writer, component string) *TextHandler {
	return &TextHandler{
		mu:        &sync.Mutex{},
		w:         w,
		component: component,
	}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format("2006/01/02 15:04:05.000")...)
	buf = append(buf, fmt.Sprintf(" [%d] %s", pid, r.Level.String())...)
	if h.component != "" {
		buf = append(buf, fmt.Sprintf(" [%s]", h.component)...)
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	for _, k := range keys {
		buf = append(buf, fmt.Sprintf(" %s=%v", k, attrs[k])...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TextHandler{
		mu:        h.mu,
		w:         h.w,
		attrs:     merged,
		component: h.component,
	}
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	return &TextHandler{
		mu:        h.mu,
		w:         h.w,
		attrs:     h.attrs,
		component: joinComponent(h.component, name),
	}
}

type jsonHandler struct {
	inner     slog.Handler
	component string
}

func newJSONHandler(w io.Writer, component string) *jsonHandler {
	return &jsonHandler{
		inner:     slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		component: component,
	}
}

func (h *jsonHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *jsonHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.component != "" {
		r.AddAttrs(slog.String("component", h.component))
	}
	return h.inner.Handle(ctx, r)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jsonHandler{
		inner:     h.inner.WithAttrs(attrs),
		component: h.component,
	}
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	return &jsonHandler{
		inner:     h.inner,
		component: joinComponent(h.component, name),
	}
}

func joinComponent(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEffectiveLevel walks dotted component names upwards, so "enforce.routeros"
// inherits an override set on "enforce".
func getEffectiveLevel(component string) slog.Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()

	path := component
	for path != "" {
		if level, ok := componentLevels[path]; ok {
			return level
		}
		idx := strings.LastIndex(path, ".")
		if idx < 0 {
			break
		}
		path = path[:idx]
	}

	return defaultLevel
}

func Get(name string) *slog.Logger {
	if l, ok := loggerCache.Load(name); ok {
		return l.(*slog.Logger)
	}

	l := slog.New(newHandler(name))
	actual, _ := loggerCache.LoadOrStore(name, l)
	return actual.(*slog.Logger)
}

func SetComponentLevel(name string, level LogLevel) {
	levelsMu.Lock()
	componentLevels[name] = parseLevel(string(level))
	levelsMu.Unlock()
}

func ClearComponentLevel(name string) {
	levelsMu.Lock()
	delete(componentLevels, name)
	levelsMu.Unlock()
}

type SessionAttrs struct {
	SessionID     string
	AcctSessionID string
	UserID        string
	Username      string
	NAS           string
	Plan          string
}

func WithSession(logger *slog.Logger, attrs SessionAttrs) *slog.Logger {
	args := make([]any, 0, 12)

	if attrs.SessionID != "" {
		args = append(args, "session_id", attrs.SessionID)
	}
	if attrs.AcctSessionID != "" {
		args = append(args, "acct_session_id", attrs.AcctSessionID)
	}
	if attrs.UserID != "" {
		args = append(args, "user_id", attrs.UserID)
	}
	if attrs.Username != "" {
		args = append(args, "username", attrs.Username)
	}
	if attrs.NAS != "" {
		args = append(args, "nas", attrs.NAS)
	}
	if attrs.Plan != "" {
		args = append(args, "plan", attrs.Plan)
	}

	return logger.With(args...)
}
