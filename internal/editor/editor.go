// Package editor implements the multi-line terminal prompt buffer: a
// grapheme-aware, word-wrapping, history-navigating line editor with
// bracketed-paste buffering and autocomplete integration. It never
// renders; it owns text, cursor, and the visual-line model the
// surrounding surface draws from.
package editor

import (
	"strings"

	"github.com/rivo/uniseg"
)

// wordPunct is the punctuation set word navigation treats as its own
// boundary class.
const wordPunct = "(){}[]<>.,;:'\"!?+-=*/\\|&%^$#@~`"

// Editor holds the buffer, cursor, history, paste registry, and
// autocomplete state for one prompt input. It is not safe for concurrent
// use; the input loop owns it.
type Editor struct {
	lines []string
	line  int
	col   int // byte offset; movement steps by grapheme

	width int

	pending     string
	pasteActive bool
	pasteBuf    strings.Builder

	pastes  *PasteRegistry
	history *History

	onSubmit       func(text string)
	submitDisabled bool

	provider AutocompleteProvider
	ac       acState
}

// New builds an empty editor with the given render width.
func New(width int) *Editor {
	if width <= 0 {
		width = 80
	}
	return &Editor{
		lines:   []string{""},
		width:   width,
		pastes:  NewPasteRegistry(),
		history: NewHistory(),
	}
}

// OnSubmit registers the submit callback.
func (e *Editor) OnSubmit(fn func(text string)) { e.onSubmit = fn }

// SetProvider wires the autocomplete provider.
func (e *Editor) SetProvider(p AutocompleteProvider) { e.provider = p }

// SetSubmitDisabled toggles whether plain Enter submits.
func (e *Editor) SetSubmitDisabled(disabled bool) { e.submitDisabled = disabled }

// SetWidth updates the render width used by the visual-line model.
func (e *Editor) SetWidth(w int) {
	if w > 0 {
		e.width = w
	}
}

// Lines returns the logical lines.
func (e *Editor) Lines() []string { return append([]string(nil), e.lines...) }

// Cursor returns the logical cursor position.
func (e *Editor) Cursor() (line, col int) { return e.line, e.col }

// VisualLines returns the buffer wrapped at the current width.
func (e *Editor) VisualLines() []VisualLine { return visualLines(e.lines, e.width) }

// GetText joins the buffer with newlines.
func (e *Editor) GetText() string { return strings.Join(e.lines, "\n") }

// SetText replaces the buffer, placing the cursor at the end. It exits
// history-browse mode.
func (e *Editor) SetText(text string) {
	e.history.Exit()
	e.lines = strings.Split(text, "\n")
	if len(e.lines) == 0 {
		e.lines = []string{""}
	}
	e.line = len(e.lines) - 1
	e.col = len(e.lines[e.line])
}

// History exposes the editor's prompt history.
func (e *Editor) History() *History { return e.history }

// HandleInput consumes one raw chunk from the terminal. Paste content
// is captured raw, before key classification, so control bytes inside a
// paste survive for normalization instead of being read as key presses.
func (e *Editor) HandleInput(input string) {
	input = e.pending + input
	e.pending = ""

	for input != "" {
		if e.pasteActive {
			input = e.consumePaste(input)
			continue
		}

		idx := strings.Index(input, pasteStartMarker)
		if idx < 0 {
			keys, pending := classify(input)
			e.pending = pending
			for _, key := range keys {
				e.handleKey(key)
			}
			return
		}

		// Keys before the paste marker are handled normally; a partial
		// escape sequence butted against the marker is dropped, chunks
		// never split that way in practice.
		keys, _ := classify(input[:idx])
		for _, key := range keys {
			e.handleKey(key)
		}
		e.pasteActive = true
		e.pasteBuf.Reset()
		input = input[idx+len(pasteStartMarker):]
	}
}

// consumePaste accumulates paste bytes until the end marker is seen,
// returning any input that followed the marker. Classification stays
// pending while only part of the marker has arrived.
func (e *Editor) consumePaste(input string) (after string) {
	e.pasteBuf.WriteString(input)
	buf := e.pasteBuf.String()

	idx := strings.Index(buf, pasteEndMarker)
	if idx < 0 {
		return ""
	}

	content := buf[:idx]
	after = buf[idx+len(pasteEndMarker):]
	e.pasteActive = false
	e.pasteBuf.Reset()
	e.finishPaste(content)
	return after
}

// finishPaste normalizes a completed paste and inserts it inline or as a
// registry marker when large.
func (e *Editor) finishPaste(raw string) {
	text := normalizePaste(raw)
	if text == "" {
		return
	}

	if looksLikePath(text) && e.charBeforeCursorIsWord() {
		e.insertText(" ")
	}

	lineCount := strings.Count(text, "\n") + 1
	if lineCount > pasteLineThreshold || len(text) > pasteCharThreshold {
		e.insertText(e.pastes.Add(text))
		return
	}
	e.insertText(text)
}

func (e *Editor) charBeforeCursorIsWord() bool {
	if e.col == 0 {
		return false
	}
	_, cluster := prevCluster(e.lines[e.line], e.col)
	if cluster == "" {
		return false
	}
	r := []rune(cluster)[0]
	return !strings.ContainsRune(wordPunct, r) && r != ' ' && r != '\t'
}

// handleKey dispatches one classified key, letting an open autocomplete
// list intercept first.
func (e *Editor) handleKey(key Key) {
	wasOpen := e.ac.open
	if wasOpen && e.handleAutocompleteKey(key) {
		return
	}

	switch key.Kind {
	case KeyText:
		e.insertText(key.Text)
		e.afterTextInput(key.Text)
	case KeyEnter:
		e.submit()
	case KeyNewline:
		e.insertText("\n")
	case KeyTab:
		e.handleTab()
	case KeyUp:
		e.moveUp()
	case KeyDown:
		e.moveDown()
	case KeyLeft:
		e.moveLeft()
	case KeyRight:
		e.moveRight()
	case KeyWordLeft:
		e.col = e.wordLeftFrom(e.col)
	case KeyWordRight:
		e.col = e.wordRightFrom(e.col)
	case KeyHome, KeyCtrlA:
		e.col = 0
	case KeyEnd, KeyCtrlE:
		e.col = len(e.lines[e.line])
	case KeyBackspace:
		e.backspace()
	case KeyDelete:
		e.deleteForward()
	case KeyCtrlK:
		e.killToEnd()
	case KeyCtrlU:
		e.killToStart()
	case KeyCtrlW, KeyAltBackspace:
		e.deleteWordLeft()
	case KeyEscape:
		// Local cancel only: a lone Escape outside autocomplete does not
		// touch the buffer.
	}

	// Keys that fell through an open list refresh it; text input already
	// refreshed through afterTextInput.
	if wasOpen && e.ac.open && key.Kind != KeyText {
		e.refreshAutocomplete()
	}
}

// insertText inserts possibly multi-line text at the cursor, splitting
// and re-joining the current line around it. Any edit exits history
// browsing.
func (e *Editor) insertText(text string) {
	if text == "" {
		return
	}
	e.history.Exit()

	cur := e.lines[e.line]
	before, rest := cur[:e.col], cur[e.col:]

	parts := strings.Split(text, "\n")
	if len(parts) == 1 {
		e.lines[e.line] = before + text + rest
		e.col += len(text)
		return
	}

	newLines := make([]string, 0, len(e.lines)+len(parts)-1)
	newLines = append(newLines, e.lines[:e.line]...)
	newLines = append(newLines, before+parts[0])
	newLines = append(newLines, parts[1:len(parts)-1]...)
	last := parts[len(parts)-1]
	newLines = append(newLines, last+rest)
	newLines = append(newLines, e.lines[e.line+1:]...)

	e.lines = newLines
	e.line += len(parts) - 1
	e.col = len(last)
}

func (e *Editor) backspace() {
	e.history.Exit()
	if e.col > 0 {
		start, _ := prevCluster(e.lines[e.line], e.col)
		line := e.lines[e.line]
		e.lines[e.line] = line[:start] + line[e.col:]
		e.col = start
		return
	}
	if e.line == 0 {
		return
	}
	prev := e.lines[e.line-1]
	e.col = len(prev)
	e.lines[e.line-1] = prev + e.lines[e.line]
	e.lines = append(e.lines[:e.line], e.lines[e.line+1:]...)
	e.line--
}

func (e *Editor) deleteForward() {
	e.history.Exit()
	line := e.lines[e.line]
	if e.col < len(line) {
		cluster, _, _, _ := uniseg.StepString(line[e.col:], -1)
		e.lines[e.line] = line[:e.col] + line[e.col+len(cluster):]
		return
	}
	if e.line+1 >= len(e.lines) {
		return
	}
	e.lines[e.line] = line + e.lines[e.line+1]
	e.lines = append(e.lines[:e.line+1], e.lines[e.line+2:]...)
}

func (e *Editor) killToStart() {
	e.history.Exit()
	if e.col > 0 {
		e.lines[e.line] = e.lines[e.line][e.col:]
		e.col = 0
		return
	}
	if e.line > 0 {
		// At column 0 the kill merges with the previous line.
		e.backspace()
	}
}

func (e *Editor) killToEnd() {
	e.history.Exit()
	line := e.lines[e.line]
	if e.col < len(line) {
		e.lines[e.line] = line[:e.col]
		return
	}
	if e.line+1 < len(e.lines) {
		e.deleteForward()
	}
}

func (e *Editor) deleteWordLeft() {
	e.history.Exit()
	if e.col == 0 {
		e.backspace()
		return
	}
	target := e.wordLeftFrom(e.col)
	line := e.lines[e.line]
	e.lines[e.line] = line[:target] + line[e.col:]
	e.col = target
}

func (e *Editor) moveLeft() {
	if e.col > 0 {
		start, _ := prevCluster(e.lines[e.line], e.col)
		e.col = start
		return
	}
	if e.line > 0 {
		e.line--
		e.col = len(e.lines[e.line])
	}
}

func (e *Editor) moveRight() {
	line := e.lines[e.line]
	if e.col < len(line) {
		cluster, _, _, _ := uniseg.StepString(line[e.col:], -1)
		e.col += len(cluster)
		return
	}
	if e.line+1 < len(e.lines) {
		e.line++
		e.col = 0
	}
}

// moveUp navigates visual lines, falling back into history when the
// cursor sits on the first visual line or the buffer is empty.
func (e *Editor) moveUp() {
	vls := e.VisualLines()
	idx := visualIndex(vls, e.line, e.col)

	if idx == 0 || e.bufferEmpty() {
		if entry, ok := e.history.Back(e.lines); ok {
			e.applyHistoryEntry(entry)
		}
		return
	}

	e.moveToVisual(vls, idx, idx-1)
}

// moveDown navigates visual lines; on the last visual line it steps
// forward through history, −1 restoring the live buffer.
func (e *Editor) moveDown() {
	vls := e.VisualLines()
	idx := visualIndex(vls, e.line, e.col)

	if idx == len(vls)-1 {
		if !e.history.Browsing() {
			return
		}
		entry, live, moved := e.history.Forward()
		if !moved {
			return
		}
		if live != nil {
			e.restoreLive(live)
			return
		}
		e.applyHistoryEntry(entry)
		return
	}

	e.moveToVisual(vls, idx, idx+1)
}

// moveToVisual carries the visual column from one visual line to
// another, clamping to the target's length.
func (e *Editor) moveToVisual(vls []VisualLine, from, to int) {
	width := segmentWidthTo(e.lines[vls[from].Line], vls[from], e.col)
	target := vls[to]
	e.line = target.Line
	e.col = colAtWidth(e.lines[target.Line], target, width)
}

func (e *Editor) bufferEmpty() bool {
	return len(e.lines) == 1 && e.lines[0] == ""
}

// applyHistoryEntry swaps the buffer to a history entry without exiting
// browse mode.
func (e *Editor) applyHistoryEntry(text string) {
	e.lines = strings.Split(text, "\n")
	if len(e.lines) == 0 {
		e.lines = []string{""}
	}
	e.line = len(e.lines) - 1
	e.col = len(e.lines[e.line])
}

func (e *Editor) restoreLive(live []string) {
	e.lines = append([]string(nil), live...)
	if len(e.lines) == 0 {
		e.lines = []string{""}
	}
	e.line = len(e.lines) - 1
	e.col = len(e.lines[e.line])
}

// submit finalizes the buffer: join, trim, expand paste markers, reset
// state, invoke the callback, and record history.
func (e *Editor) submit() {
	if e.submitDisabled {
		return
	}
	text := strings.TrimSpace(e.GetText())
	if text == "" {
		return
	}
	final := e.pastes.Expand(text)

	e.lines = []string{""}
	e.line, e.col = 0, 0
	e.pastes.Clear()
	e.history.Exit()
	e.ac.close()

	if e.onSubmit != nil {
		e.onSubmit(final)
	}
	e.history.Push(final)
}

// wordLeftFrom finds the previous word boundary on the current line:
// skip trailing whitespace, then a run of punctuation or a run of
// non-boundary characters depending on what sits at the boundary.
func (e *Editor) wordLeftFrom(col int) int {
	line := e.lines[e.line]
	for col > 0 {
		start, cluster := prevCluster(line, col)
		if !isSpaceCluster(cluster) {
			break
		}
		col = start
	}
	if col == 0 {
		return 0
	}
	_, boundary := prevCluster(line, col)
	punct := isPunctCluster(boundary)
	for col > 0 {
		start, cluster := prevCluster(line, col)
		if isSpaceCluster(cluster) || isPunctCluster(cluster) != punct {
			break
		}
		col = start
	}
	return col
}

// wordRightFrom is the symmetric forward walk.
func (e *Editor) wordRightFrom(col int) int {
	line := e.lines[e.line]
	for col < len(line) {
		cluster, _, _, _ := uniseg.StepString(line[col:], -1)
		if !isSpaceCluster(cluster) {
			break
		}
		col += len(cluster)
	}
	if col >= len(line) {
		return len(line)
	}
	first, _, _, _ := uniseg.StepString(line[col:], -1)
	punct := isPunctCluster(first)
	for col < len(line) {
		cluster, _, _, _ := uniseg.StepString(line[col:], -1)
		if isSpaceCluster(cluster) || isPunctCluster(cluster) != punct {
			break
		}
		col += len(cluster)
	}
	return col
}

// prevCluster returns the byte start and content of the grapheme cluster
// ending at col.
func prevCluster(line string, col int) (start int, cluster string) {
	if col <= 0 {
		return 0, ""
	}
	rest := line[:col]
	pos := 0
	for len(rest) > 0 {
		c, tail, _, _ := uniseg.StepString(rest, -1)
		if len(tail) == 0 {
			return pos, c
		}
		pos += len(c)
		rest = tail
	}
	return 0, ""
}

func isSpaceCluster(c string) bool {
	return c == " " || c == "\t"
}

func isPunctCluster(c string) bool {
	if c == "" {
		return false
	}
	r := []rune(c)[0]
	return strings.ContainsRune(wordPunct, r)
}
