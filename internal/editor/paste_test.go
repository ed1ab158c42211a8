package editor

import (
	"strings"
	"testing"
)

func TestPasteRegistryMarkers(t *testing.T) {
	r := NewPasteRegistry()

	multiline := strings.Repeat("line\n", 14) + "line"
	m1 := r.Add(multiline)
	if m1 != "[paste #1 +15 lines]" {
		t.Errorf("marker = %q", m1)
	}

	single := strings.Repeat("x", 1200)
	m2 := r.Add(single)
	if m2 != "[paste #2 1200 chars]" {
		t.Errorf("marker = %q", m2)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestPasteRegistryExpandRoundTrip(t *testing.T) {
	r := NewPasteRegistry()
	original := "the\noriginal\ntext"
	marker := r.Add(original)

	text := "before " + marker + " after"
	got := r.Expand(text)
	want := "before " + original + " after"
	if got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestPasteRegistryExpandUnknownMarkerVerbatim(t *testing.T) {
	r := NewPasteRegistry()
	in := "keep [paste #7 +3 lines] as is"
	if got := r.Expand(in); got != in {
		t.Errorf("Expand = %q", got)
	}
}

func TestPasteRegistryExpandMarkerWithoutSuffix(t *testing.T) {
	// The count suffix is optional in the marker regex.
	r := NewPasteRegistry()
	original := strings.Repeat("z\n", 12)
	r.Add(original) // becomes paste #1
	if got := r.Expand("[paste #1]"); got != original {
		t.Errorf("Expand = %q", got)
	}
}

func TestPasteRegistryClear(t *testing.T) {
	r := NewPasteRegistry()
	marker := r.Add("data")
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("len = %d", r.Len())
	}
	if got := r.Expand(marker); got != marker {
		t.Error("cleared registry must leave markers verbatim")
	}
	// Ids restart after Clear.
	if m := r.Add(strings.Repeat("y", 1100)); !strings.Contains(m, "#1") {
		t.Errorf("marker = %q", m)
	}
}

func TestNormalizePaste(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"tabs", "a\tb", "a    b"},
		{"control bytes stripped", "a\x00\x07b", "ab"},
		{"lf kept", "a\nb", "a\nb"},
		{"unicode kept", "héllo 世界", "héllo 世界"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePaste(tt.in); got != tt.want {
				t.Errorf("normalizePaste(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLooksLikePath(t *testing.T) {
	for _, p := range []string{"/etc/hosts", "~/notes.md", "./main.go", "../up"} {
		if !looksLikePath(p) {
			t.Errorf("looksLikePath(%q) = false", p)
		}
	}
	for _, p := range []string{"hello", "http://x", ""} {
		if looksLikePath(p) {
			t.Errorf("looksLikePath(%q) = true", p)
		}
	}
}
