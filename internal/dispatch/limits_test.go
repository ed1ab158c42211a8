package dispatch

import (
	"strings"
	"testing"
)

func TestLimitsFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		l := LimitsFromEnv(0, 0)
		if l.MaxOutputBytes != DefaultMaxOutputBytes || l.MaxOutputLines != DefaultMaxOutputLines {
			t.Errorf("limits = %+v", l)
		}
		if l.MaxConcurrency != DefaultMaxConcurrency || l.MaxDepth != DefaultMaxDepth {
			t.Errorf("limits = %+v", l)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv(EnvMaxOutputBytes, "1234")
		t.Setenv(EnvMaxOutputLines, "56")
		l := LimitsFromEnv(0, 0)
		if l.MaxOutputBytes != 1234 || l.MaxOutputLines != 56 {
			t.Errorf("limits = %+v", l)
		}
	})

	t.Run("legacy concurrency vars", func(t *testing.T) {
		t.Setenv(EnvMaxParallelLegacy, "7")
		l := LimitsFromEnv(0, 0)
		if l.MaxConcurrency != 7 {
			t.Errorf("MaxConcurrency = %d, want 7", l.MaxConcurrency)
		}
	})

	t.Run("config beats legacy env", func(t *testing.T) {
		t.Setenv(EnvMaxConcurrencyLegacy, "7")
		l := LimitsFromEnv(2, 0)
		if l.MaxConcurrency != 2 {
			t.Errorf("MaxConcurrency = %d, want 2", l.MaxConcurrency)
		}
	})

	t.Run("garbage env falls back", func(t *testing.T) {
		t.Setenv(EnvMaxOutputBytes, "not-a-number")
		l := LimitsFromEnv(0, 0)
		if l.MaxOutputBytes != DefaultMaxOutputBytes {
			t.Errorf("MaxOutputBytes = %d", l.MaxOutputBytes)
		}
	})
}

func TestCapOutput(t *testing.T) {
	limits := Limits{MaxOutputBytes: 50, MaxOutputLines: 3}

	t.Run("under caps untouched", func(t *testing.T) {
		out, cut := capOutput("a\nb", limits)
		if cut || out != "a\nb" {
			t.Errorf("got %q, cut=%v", out, cut)
		}
	})

	t.Run("line cap", func(t *testing.T) {
		out, cut := capOutput("1\n2\n3\n4\n5", limits)
		if !cut || out != "1\n2\n3" {
			t.Errorf("got %q, cut=%v", out, cut)
		}
	})

	t.Run("byte cap trims at line boundary", func(t *testing.T) {
		text := strings.Repeat("aaaaaaaaa\n", 10) // 100 bytes, 10 lines; only the byte cap applies
		out, cut := capOutput(text, Limits{MaxOutputBytes: 25, MaxOutputLines: 0})
		if !cut {
			t.Fatal("expected truncation")
		}
		if strings.HasSuffix(out, "a\na") || len(out) > 25 {
			t.Errorf("got %q (%d bytes)", out, len(out))
		}
		for _, line := range strings.Split(out, "\n") {
			if line != "aaaaaaaaa" {
				t.Errorf("split line %q", line)
			}
		}
	})
}

func TestPreview(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		p, cut := preview("short output")
		if cut || p != "short output" {
			t.Errorf("got %q, cut=%v", p, cut)
		}
	})

	t.Run("long trims to last line", func(t *testing.T) {
		long := strings.Repeat("0123456789012345678901234567890123456789012345678\n", 200)
		p, cut := preview(long)
		if !cut {
			t.Fatal("expected truncation")
		}
		if len(p) > previewLimit {
			t.Errorf("preview length %d exceeds %d", len(p), previewLimit)
		}
		if strings.HasSuffix(p, "\n") {
			t.Error("preview should end on content, not newline")
		}
		lines := strings.Split(p, "\n")
		if lines[len(lines)-1] != "0123456789012345678901234567890123456789012345678" {
			t.Errorf("last preview line split mid-way: %q", lines[len(lines)-1])
		}
	})

	t.Run("single huge line cuts hard", func(t *testing.T) {
		p, cut := preview(strings.Repeat("x", 2*previewLimit))
		if !cut || len(p) != previewLimit {
			t.Errorf("len = %d, cut = %v", len(p), cut)
		}
	})
}
