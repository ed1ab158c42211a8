package dispatch

import (
	"os"
	"strconv"
	"strings"
)

// Defaults for worker output capping, overridable through the environment.
const (
	DefaultMaxOutputBytes = 500_000
	DefaultMaxOutputLines = 5_000
	DefaultMaxConcurrency = 4
	DefaultMaxDepth       = 3

	// previewLimit caps the per-result preview embedded in the summary.
	previewLimit = 5_000
)

// Environment variables recognized by the dispatcher.
const (
	EnvMaxOutputBytes = "PI_TASK_MAX_OUTPUT_BYTES"
	EnvMaxOutputLines = "PI_TASK_MAX_OUTPUT_LINES"
	EnvBlockedAgent   = "PI_BLOCKED_AGENT"

	// Legacy spellings still honored for max concurrency.
	EnvMaxParallelLegacy    = "OMP_TASK_MAX_PARALLEL"
	EnvMaxConcurrencyLegacy = "OMP_TASK_MAX_CONCURRENCY"
)

// Limits carries the resolved output and scheduling caps for one batch.
type Limits struct {
	MaxOutputBytes int
	MaxOutputLines int
	MaxConcurrency int
	MaxDepth       int
}

// LimitsFromEnv resolves the caps from the environment over the given
// base configuration values. Zero base values fall back to the defaults.
func LimitsFromEnv(maxConcurrency, maxDepth int) Limits {
	l := Limits{
		MaxOutputBytes: envInt(EnvMaxOutputBytes, DefaultMaxOutputBytes),
		MaxOutputLines: envInt(EnvMaxOutputLines, DefaultMaxOutputLines),
		MaxConcurrency: maxConcurrency,
		MaxDepth:       maxDepth,
	}
	if l.MaxConcurrency <= 0 {
		l.MaxConcurrency = envInt(EnvMaxParallelLegacy, 0)
	}
	if l.MaxConcurrency <= 0 {
		l.MaxConcurrency = envInt(EnvMaxConcurrencyLegacy, 0)
	}
	if l.MaxConcurrency <= 0 {
		l.MaxConcurrency = DefaultMaxConcurrency
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	return l
}

// BlockedAgent returns the process-wide self-recursion block, if set.
func BlockedAgent() string {
	return strings.TrimSpace(os.Getenv(EnvBlockedAgent))
}

func envInt(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// capOutput enforces the byte and line caps on a worker's collected
// output, reporting whether anything was dropped.
func capOutput(text string, limits Limits) (string, bool) {
	truncated := false

	if limits.MaxOutputLines > 0 {
		lines := strings.Split(text, "\n")
		if len(lines) > limits.MaxOutputLines {
			lines = lines[:limits.MaxOutputLines]
			text = strings.Join(lines, "\n")
			truncated = true
		}
	}

	if limits.MaxOutputBytes > 0 && len(text) > limits.MaxOutputBytes {
		text = trimAtLineBoundary(text, limits.MaxOutputBytes)
		truncated = true
	}

	return text, truncated
}

// preview returns up to previewLimit chars of text, trimmed back to the
// last full line, plus whether it was cut.
func preview(text string) (string, bool) {
	if len(text) <= previewLimit {
		return text, false
	}
	return trimAtLineBoundary(text, previewLimit), true
}

// trimAtLineBoundary cuts text to at most limit bytes, preferring the last
// newline before the cut so no line is split mid-way. If the first line
// alone exceeds the limit, it is cut hard.
func trimAtLineBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		return cut[:idx]
	}
	return cut
}
