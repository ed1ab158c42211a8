// Package format renders durations for batch summaries and progress
// lines.
package format

import (
	"fmt"
	"math"
	"strings"
)

// DurationSecondsOptions configures FormatDurationSeconds output.
type DurationSecondsOptions struct {
	// Decimals is the number of decimal places (default: 1)
	Decimals int
	// Unit is the suffix to use: "s" or "seconds" (default: "s")
	Unit string
}

// FormatDurationSeconds formats milliseconds as a seconds string.
// Returns "unknown" for non-finite values.
func FormatDurationSeconds(ms float64, opts *DurationSecondsOptions) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return "unknown"
	}

	decimals := 1
	unit := "s"
	if opts != nil {
		if opts.Decimals > 0 {
			decimals = opts.Decimals
		}
		if opts.Unit == "seconds" {
			unit = " seconds"
		}
	}

	if ms < 0 {
		ms = 0
	}

	seconds := ms / 1000
	formatted := fmt.Sprintf(fmt.Sprintf("%%.%df", decimals), seconds)
	return trimTrailingZeros(formatted) + unit
}

// FormatDurationMsInt renders integer milliseconds: "Xms" under one
// second, a trimmed seconds string otherwise.
func FormatDurationMsInt(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return FormatDurationSeconds(float64(ms), &DurationSecondsOptions{Decimals: 2})
}

// trimTrailingZeros removes trailing zeros after the decimal point.
// e.g., "1.50" -> "1.5", "2.00" -> "2"
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
