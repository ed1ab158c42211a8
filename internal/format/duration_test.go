package format

import (
	"math"
	"testing"
)

func TestFormatDurationSeconds(t *testing.T) {
	tests := []struct {
		name     string
		ms       float64
		opts     *DurationSecondsOptions
		expected string
	}{
		{"default one decimal", 1500, nil, "1.5s"},
		{"whole seconds trim", 2000, nil, "2s"},
		{"two decimals", 1234, &DurationSecondsOptions{Decimals: 2}, "1.23s"},
		{"seconds unit", 3000, &DurationSecondsOptions{Unit: "seconds"}, "3 seconds"},
		{"negative clamps to zero", -500, nil, "0s"},
		{"zero", 0, nil, "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDurationSeconds(tt.ms, tt.opts); got != tt.expected {
				t.Errorf("FormatDurationSeconds(%v, %+v) = %q, want %q", tt.ms, tt.opts, got, tt.expected)
			}
		})
	}
}

func TestFormatDurationSecondsNonFinite(t *testing.T) {
	if got := FormatDurationSeconds(math.NaN(), nil); got != "unknown" {
		t.Errorf("NaN = %q, want unknown", got)
	}
}

func TestFormatDurationMsInt(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1s"},
		{1500, "1.5s"},
		{62_000, "62s"},
		{1234, "1.23s"},
	}
	for _, tt := range tests {
		if got := FormatDurationMsInt(tt.ms); got != tt.expected {
			t.Errorf("FormatDurationMsInt(%d) = %q, want %q", tt.ms, got, tt.expected)
		}
	}
}

func TestTrimTrailingZeros(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"1.50", "1.5"},
		{"2.00", "2"},
		{"3", "3"},
		{"0.25", "0.25"},
	}
	for _, tt := range tests {
		if got := trimTrailingZeros(tt.in); got != tt.expected {
			t.Errorf("trimTrailingZeros(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}
