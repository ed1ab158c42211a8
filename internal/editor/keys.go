package editor

import (
	"strconv"
	"strings"
)

// KeyKind abstracts over terminal-specific encodings of a key press.
type KeyKind int

const (
	KeyText KeyKind = iota
	KeyEnter
	KeyNewline // Shift+Enter / Alt+Enter
	KeyTab
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyWordLeft
	KeyWordRight
	KeyHome
	KeyEnd
	KeyBackspace
	KeyDelete
	KeyCtrlA
	KeyCtrlE
	KeyCtrlK
	KeyCtrlU
	KeyCtrlW
	KeyAltBackspace
	KeyEscape
	KeyPasteStart
	KeyPasteEnd
	KeyUnknown
)

// Key is one classified input token. Text carries the payload for
// KeyText.
type Key struct {
	Kind KeyKind
	Text string
}

// classify tokenizes a raw input chunk. When the chunk ends inside what
// could become a longer escape sequence, the unconsumed tail comes back
// as pending and must be prepended to the next chunk.
func classify(input string) (keys []Key, pending string) {
	for len(input) > 0 {
		if input[0] == 0x1b {
			key, consumed, incomplete := classifyEscape(input)
			if incomplete {
				return keys, input
			}
			keys = append(keys, key)
			input = input[consumed:]
			continue
		}

		if key, consumed := classifyControl(input); consumed > 0 {
			keys = append(keys, key)
			input = input[consumed:]
			continue
		}

		// Printable run: take everything up to the next control byte.
		end := len(input)
		for i := 0; i < len(input); i++ {
			if input[i] < 0x20 || input[i] == 0x7f {
				end = i
				break
			}
		}
		keys = append(keys, Key{Kind: KeyText, Text: input[:end]})
		input = input[end:]
	}
	return keys, ""
}

// classifyControl maps single control bytes.
func classifyControl(input string) (Key, int) {
	switch input[0] {
	case '\r', '\n':
		return Key{Kind: KeyEnter}, 1
	case '\t':
		return Key{Kind: KeyTab}, 1
	case 0x7f, 0x08:
		return Key{Kind: KeyBackspace}, 1
	case 0x01:
		return Key{Kind: KeyCtrlA}, 1
	case 0x05:
		return Key{Kind: KeyCtrlE}, 1
	case 0x0b:
		return Key{Kind: KeyCtrlK}, 1
	case 0x15:
		return Key{Kind: KeyCtrlU}, 1
	case 0x17:
		return Key{Kind: KeyCtrlW}, 1
	}
	if input[0] < 0x20 {
		return Key{Kind: KeyUnknown}, 1
	}
	return Key{}, 0
}

// classifyEscape parses one escape sequence at the head of input. It
// reports incomplete when input is a strict prefix of a longer sequence
// so the caller can wait for the next chunk; a lone ESC at chunk end is
// the Escape key itself.
func classifyEscape(input string) (key Key, consumed int, incomplete bool) {
	if input == "\x1b" {
		return Key{Kind: KeyEscape}, 1, false
	}

	switch input[1] {
	case '[':
		return classifyCSI(input)
	case 'O':
		if len(input) < 3 {
			return Key{}, 0, true
		}
		return ss3Key(input[2]), 3, false
	case 0x7f:
		return Key{Kind: KeyAltBackspace}, 2, false
	case '\r', '\n':
		return Key{Kind: KeyNewline}, 2, false
	case 'b':
		return Key{Kind: KeyWordLeft}, 2, false
	case 'f':
		return Key{Kind: KeyWordRight}, 2, false
	default:
		// Unrecognized alt-chord: swallow ESC and let the next byte be
		// reclassified on its own.
		return Key{Kind: KeyEscape}, 1, false
	}
}

// classifyCSI parses "\x1b[" params final-byte, covering legacy arrows,
// Home/End variants, tilde codes, bracketed paste boundaries, and the
// Kitty "\x1b[<codepoint>;<modifier>u" protocol.
func classifyCSI(input string) (key Key, consumed int, incomplete bool) {
	i := 2
	for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == ';') {
		i++
	}
	if i >= len(input) {
		return Key{}, 0, true
	}

	final := input[i]
	params := input[2:i]
	consumed = i + 1

	modifier := csiModifier(params)
	switch final {
	case 'A':
		return Key{Kind: KeyUp}, consumed, false
	case 'B':
		return Key{Kind: KeyDown}, consumed, false
	case 'C':
		if modifier == 3 || modifier == 5 {
			return Key{Kind: KeyWordRight}, consumed, false
		}
		return Key{Kind: KeyRight}, consumed, false
	case 'D':
		if modifier == 3 || modifier == 5 {
			return Key{Kind: KeyWordLeft}, consumed, false
		}
		return Key{Kind: KeyLeft}, consumed, false
	case 'H':
		return Key{Kind: KeyHome}, consumed, false
	case 'F':
		return Key{Kind: KeyEnd}, consumed, false
	case '~':
		return tildeKey(params), consumed, false
	case 'u':
		return kittyKey(params), consumed, false
	default:
		return Key{Kind: KeyUnknown}, consumed, false
	}
}

// csiModifier extracts the modifier field of "1;<mod>" style params.
func csiModifier(params string) int {
	parts := strings.Split(params, ";")
	if len(parts) < 2 {
		return 1
	}
	mod, err := strconv.Atoi(parts[1])
	if err != nil {
		return 1
	}
	return mod
}

func tildeKey(params string) Key {
	num := params
	if idx := strings.IndexByte(params, ';'); idx >= 0 {
		num = params[:idx]
	}
	switch num {
	case "1", "7":
		return Key{Kind: KeyHome}
	case "4", "8":
		return Key{Kind: KeyEnd}
	case "3":
		return Key{Kind: KeyDelete}
	case "200":
		return Key{Kind: KeyPasteStart}
	case "201":
		return Key{Kind: KeyPasteEnd}
	default:
		return Key{Kind: KeyUnknown}
	}
}

// kittyKey decodes the Kitty keyboard protocol codepoint;modifier form.
// Modifier values are 1-based flags+1: 2 shift, 3 alt, 5 ctrl.
func kittyKey(params string) Key {
	parts := strings.Split(params, ";")
	cp, err := strconv.Atoi(parts[0])
	if err != nil {
		return Key{Kind: KeyUnknown}
	}
	mod := 1
	if len(parts) > 1 {
		if m, err := strconv.Atoi(parts[1]); err == nil {
			mod = m
		}
	}

	switch cp {
	case 13:
		if mod == 2 || mod == 3 {
			return Key{Kind: KeyNewline}
		}
		return Key{Kind: KeyEnter}
	case 9:
		return Key{Kind: KeyTab}
	case 27:
		return Key{Kind: KeyEscape}
	case 127:
		if mod == 3 {
			return Key{Kind: KeyAltBackspace}
		}
		return Key{Kind: KeyBackspace}
	}

	if mod == 5 {
		switch cp {
		case 'a':
			return Key{Kind: KeyCtrlA}
		case 'e':
			return Key{Kind: KeyCtrlE}
		case 'k':
			return Key{Kind: KeyCtrlK}
		case 'u':
			return Key{Kind: KeyCtrlU}
		case 'w':
			return Key{Kind: KeyCtrlW}
		}
	}

	if mod == 1 && cp >= 0x20 {
		return Key{Kind: KeyText, Text: string(rune(cp))}
	}
	return Key{Kind: KeyUnknown}
}

func ss3Key(b byte) Key {
	switch b {
	case 'A':
		return Key{Kind: KeyUp}
	case 'B':
		return Key{Kind: KeyDown}
	case 'C':
		return Key{Kind: KeyRight}
	case 'D':
		return Key{Kind: KeyLeft}
	case 'H':
		return Key{Kind: KeyHome}
	case 'F':
		return Key{Kind: KeyEnd}
	default:
		return Key{Kind: KeyUnknown}
	}
}
