package editor

import "strings"

// AutocompleteItem is one selectable completion.
type AutocompleteItem struct {
	// Value replaces the completed prefix when applied.
	Value string

	// Label is what the surface renders; empty falls back to Value.
	Label string

	Description string
}

// AutocompleteResult is a provider response: the prefix being completed
// (the text immediately before the cursor the application will replace)
// and the candidate items.
type AutocompleteResult struct {
	Prefix string
	Items  []AutocompleteItem
}

// AutocompleteProvider computes completions for the current buffer and
// cursor. Returning ok=false closes the list.
type AutocompleteProvider interface {
	Complete(lines []string, cursorLine, cursorCol int) (AutocompleteResult, bool)
}

// FileCompleter is the optional secondary entry point a provider can
// declare for the forced file-reference list Tab triggers outside a
// slash-command context.
type FileCompleter interface {
	CompleteFiles(lines []string, cursorLine, cursorCol int) (AutocompleteResult, bool)
}

// acMode distinguishes the two trigger contexts.
type acMode int

const (
	acNone acMode = iota
	acSlash
	acFile
)

// acState is the open-list state.
type acState struct {
	open     bool
	mode     acMode
	prefix   string
	items    []AutocompleteItem
	selected int
}

func (s *acState) close() {
	*s = acState{}
}

// AutocompleteOpen reports whether a completion list is showing.
func (e *Editor) AutocompleteOpen() bool { return e.ac.open }

// AutocompleteItems returns the current candidates and selection index.
func (e *Editor) AutocompleteItems() ([]AutocompleteItem, int) {
	return append([]AutocompleteItem(nil), e.ac.items...), e.ac.selected
}

// afterTextInput evaluates the trigger rules once text landed in the
// buffer: "/" at line start opens slash-command mode, "@" after
// whitespace or at line start opens file-reference mode, and further
// typing inside an open context refreshes the list.
func (e *Editor) afterTextInput(text string) {
	if e.provider == nil {
		return
	}

	if e.ac.open {
		e.refreshAutocomplete()
		return
	}

	if len(text) != 1 {
		return
	}
	switch text {
	case "/":
		if e.col == 1 {
			e.openAutocomplete(acSlash)
		}
	case "@":
		if e.atWordStartBeforeCursor() {
			e.openAutocomplete(acFile)
		}
	}
}

// atWordStartBeforeCursor reports whether the trigger character just
// typed sits at line start or after whitespace.
func (e *Editor) atWordStartBeforeCursor() bool {
	if e.col <= 1 {
		return true
	}
	before := e.lines[e.line][:e.col-1]
	return strings.HasSuffix(before, " ") || strings.HasSuffix(before, "\t")
}

func (e *Editor) openAutocomplete(mode acMode) {
	result, ok := e.provider.Complete(e.lines, e.line, e.col)
	if !ok {
		return
	}
	e.ac = acState{open: true, mode: mode, prefix: result.Prefix, items: result.Items}
}

func (e *Editor) refreshAutocomplete() {
	result, ok := e.provider.Complete(e.lines, e.line, e.col)
	if !ok || len(result.Items) == 0 {
		e.ac.close()
		return
	}
	mode := e.ac.mode
	e.ac = acState{open: true, mode: mode, prefix: result.Prefix, items: result.Items}
}

// handleTab opens the context-appropriate list: the command list inside
// a slash-command context, otherwise a forced file-reference list when
// the provider declares the secondary entry point.
func (e *Editor) handleTab() {
	if e.provider == nil {
		return
	}
	if strings.HasPrefix(e.lines[e.line], "/") {
		e.openAutocomplete(acSlash)
		return
	}
	fc, ok := e.provider.(FileCompleter)
	if !ok {
		return
	}
	result, ok := fc.CompleteFiles(e.lines, e.line, e.col)
	if !ok {
		return
	}
	e.ac = acState{open: true, mode: acFile, prefix: result.Prefix, items: result.Items}
}

// handleAutocompleteKey intercepts keys while the list is open. It
// returns true when the key was fully consumed; false lets the key fall
// through to normal editing, after which the list refreshes.
func (e *Editor) handleAutocompleteKey(key Key) bool {
	switch key.Kind {
	case KeyUp:
		if e.ac.selected > 0 {
			e.ac.selected--
		}
		return true
	case KeyDown:
		if e.ac.selected < len(e.ac.items)-1 {
			e.ac.selected++
		}
		return true
	case KeyTab:
		e.applySelection()
		return true
	case KeyEnter:
		submitAfter := e.ac.mode == acSlash
		e.applySelection()
		if submitAfter {
			e.submit()
		}
		return true
	case KeyEscape:
		e.ac.close()
		return true
	default:
		// Fall through to normal editing; handleKey refreshes the list
		// after the edit lands.
		return false
	}
}

// applySelection replaces the completed prefix before the cursor with
// the selected item's value.
func (e *Editor) applySelection() {
	if !e.ac.open || len(e.ac.items) == 0 {
		e.ac.close()
		return
	}
	item := e.ac.items[e.ac.selected]
	prefix := e.ac.prefix
	e.ac.close()

	line := e.lines[e.line]
	start := e.col - len(prefix)
	if start < 0 || !strings.HasSuffix(line[:e.col], prefix) {
		start = e.col
	}
	e.lines[e.line] = line[:start] + item.Value + line[e.col:]
	e.col = start + len(item.Value)
}
