package editor

import (
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// VisualLine is one post-wrap segment of a logical line at the current
// render width.
type VisualLine struct {
	// Line is the logical line index.
	Line int

	// StartCol is the byte offset of the segment within the logical line.
	StartCol int

	// Length is the segment's byte length.
	Length int
}

// visualLines wraps each logical line greedily at width, splitting on
// grapheme boundaries measured in visible columns. Wrapping is a pure
// function of (lines, width); no state survives between calls.
func visualLines(lines []string, width int) []VisualLine {
	if width <= 0 {
		width = 1
	}
	var out []VisualLine
	for li, line := range lines {
		if line == "" {
			out = append(out, VisualLine{Line: li})
			continue
		}
		start := 0
		col := 0
		w := 0
		rest := line
		for len(rest) > 0 {
			cluster, tail, _, _ := uniseg.StepString(rest, -1)
			cw := runewidth.StringWidth(cluster)
			if w+cw > width && col > start {
				out = append(out, VisualLine{Line: li, StartCol: start, Length: col - start})
				start = col
				w = 0
			}
			col += len(cluster)
			w += cw
			rest = tail
		}
		out = append(out, VisualLine{Line: li, StartCol: start, Length: col - start})
	}
	return out
}

// visualIndex locates the visual line holding the cursor. A cursor
// sitting exactly at a segment's end belongs to the next segment unless
// that segment is the logical line's last.
func visualIndex(vls []VisualLine, line, col int) int {
	for i, vl := range vls {
		if vl.Line != line {
			continue
		}
		end := vl.StartCol + vl.Length
		lastOfLine := i+1 >= len(vls) || vls[i+1].Line != line
		if col < end || (col == end && lastOfLine) {
			return i
		}
	}
	// Fallback: the last segment of the logical line.
	for i := len(vls) - 1; i >= 0; i-- {
		if vls[i].Line == line {
			return i
		}
	}
	return 0
}

// segmentWidthTo measures the visible width from the segment start to
// byte offset col within the logical line text.
func segmentWidthTo(text string, vl VisualLine, col int) int {
	if col < vl.StartCol {
		return 0
	}
	end := col
	if max := vl.StartCol + vl.Length; end > max {
		end = max
	}
	return runewidth.StringWidth(text[vl.StartCol:end])
}

// colAtWidth returns the byte offset inside the segment whose prefix
// width best matches target, clamped to the segment, stepping grapheme
// by grapheme.
func colAtWidth(text string, vl VisualLine, target int) int {
	seg := text[vl.StartCol : vl.StartCol+vl.Length]
	col := vl.StartCol
	w := 0
	rest := seg
	for len(rest) > 0 && w < target {
		cluster, tail, _, _ := uniseg.StepString(rest, -1)
		cw := runewidth.StringWidth(cluster)
		if w+cw > target {
			break
		}
		col += len(cluster)
		w += cw
		rest = tail
	}
	return col
}
