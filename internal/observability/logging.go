package observability

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// sensitiveKeys marks attribute keys whose values must never reach a log
// sink verbatim.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"secret":        true,
	"token":         true,
	"password":      true,
}

// secretPattern catches bearer-style secrets embedded in values.
var secretPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9_-]{8,}|bearer\s+\S+)`)

// NewLogger builds the process logger: text handler on stderr at the
// given level, with secret-bearing attributes redacted before emission.
func NewLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	return slog.New(&contextHandler{inner: handler})
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		if secretPattern.MatchString(v) {
			return slog.String(a.Key, secretPattern.ReplaceAllString(v, "[redacted]"))
		}
	}
	return a
}

// Redact applies the secret patterns to a free-form string, for error
// text that may echo request headers.
func Redact(s string) string {
	return secretPattern.ReplaceAllString(s, "[redacted]")
}

// contextHandler enriches records with the ids carried by the context.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := GetSessionID(ctx); id != "" {
		record.AddAttrs(slog.String("session_id", id))
	}
	if id := GetTaskID(ctx); id != "" {
		record.AddAttrs(slog.String("task_id", id))
	}
	if id := GetBatchID(ctx); id != "" {
		record.AddAttrs(slog.String("batch_id", id))
	}
	return h.inner.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
