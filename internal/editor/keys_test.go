package editor

import (
	"reflect"
	"testing"
)

func TestClassifyLegacySequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Key
	}{
		{"plain text run", "hello", []Key{{Kind: KeyText, Text: "hello"}}},
		{"enter", "\r", []Key{{Kind: KeyEnter}}},
		{"tab", "\t", []Key{{Kind: KeyTab}}},
		{"backspace del", "\x7f", []Key{{Kind: KeyBackspace}}},
		{"backspace bs", "\x08", []Key{{Kind: KeyBackspace}}},
		{"arrows", "\x1b[A\x1b[B\x1b[C\x1b[D", []Key{{Kind: KeyUp}, {Kind: KeyDown}, {Kind: KeyRight}, {Kind: KeyLeft}}},
		{"ss3 arrows", "\x1bOA\x1bOD", []Key{{Kind: KeyUp}, {Kind: KeyLeft}}},
		{"ctrl word arrows", "\x1b[1;5C\x1b[1;5D", []Key{{Kind: KeyWordRight}, {Kind: KeyWordLeft}}},
		{"alt word arrows", "\x1b[1;3C\x1b[1;3D", []Key{{Kind: KeyWordRight}, {Kind: KeyWordLeft}}},
		{"meta b f", "\x1bb\x1bf", []Key{{Kind: KeyWordLeft}, {Kind: KeyWordRight}}},
		{"home end csi", "\x1b[H\x1b[F", []Key{{Kind: KeyHome}, {Kind: KeyEnd}}},
		{"home end ss3", "\x1bOH\x1bOF", []Key{{Kind: KeyHome}, {Kind: KeyEnd}}},
		{"home end tilde", "\x1b[1~\x1b[4~\x1b[7~\x1b[8~", []Key{{Kind: KeyHome}, {Kind: KeyEnd}, {Kind: KeyHome}, {Kind: KeyEnd}}},
		{"forward delete", "\x1b[3~", []Key{{Kind: KeyDelete}}},
		{"alt backspace", "\x1b\x7f", []Key{{Kind: KeyAltBackspace}}},
		{"alt enter", "\x1b\r", []Key{{Kind: KeyNewline}}},
		{"ctrl combos", "\x01\x05\x0b\x15\x17", []Key{{Kind: KeyCtrlA}, {Kind: KeyCtrlE}, {Kind: KeyCtrlK}, {Kind: KeyCtrlU}, {Kind: KeyCtrlW}}},
		{"lone escape", "\x1b", []Key{{Kind: KeyEscape}}},
		{"paste markers", "\x1b[200~\x1b[201~", []Key{{Kind: KeyPasteStart}, {Kind: KeyPasteEnd}}},
		{"text around escape", "ab\x1b[Acd", []Key{{Kind: KeyText, Text: "ab"}, {Kind: KeyUp}, {Kind: KeyText, Text: "cd"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, pending := classify(tt.input)
			if pending != "" {
				t.Errorf("pending = %q, want empty", pending)
			}
			if !reflect.DeepEqual(keys, tt.want) {
				t.Errorf("classify(%q) = %+v, want %+v", tt.input, keys, tt.want)
			}
		})
	}
}

func TestClassifyKittyProtocol(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  KeyKind
	}{
		{"enter", "\x1b[13;1u", KeyEnter},
		{"shift enter", "\x1b[13;2u", KeyNewline},
		{"alt enter", "\x1b[13;3u", KeyNewline},
		{"tab", "\x1b[9;1u", KeyTab},
		{"escape", "\x1b[27;1u", KeyEscape},
		{"backspace", "\x1b[127;1u", KeyBackspace},
		{"alt backspace", "\x1b[127;3u", KeyAltBackspace},
		{"ctrl a", "\x1b[97;5u", KeyCtrlA},
		{"ctrl e", "\x1b[101;5u", KeyCtrlE},
		{"ctrl k", "\x1b[107;5u", KeyCtrlK},
		{"ctrl u", "\x1b[117;5u", KeyCtrlU},
		{"ctrl w", "\x1b[119;5u", KeyCtrlW},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, pending := classify(tt.input)
			if pending != "" || len(keys) != 1 {
				t.Fatalf("classify(%q) = %+v, pending %q", tt.input, keys, pending)
			}
			if keys[0].Kind != tt.want {
				t.Errorf("kind = %v, want %v", keys[0].Kind, tt.want)
			}
		})
	}
}

func TestClassifySplitSequenceStaysPending(t *testing.T) {
	tests := []struct {
		name   string
		chunk1 string
		chunk2 string
		want   KeyKind
	}{
		{"split arrow", "\x1b[", "A", KeyUp},
		{"split paste end", "\x1b[20", "1~", KeyPasteEnd},
		{"split kitty", "\x1b[13;", "2u", KeyNewline},
		{"split ss3", "\x1bO", "F", KeyEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, pending := classify(tt.chunk1)
			if len(keys) != 0 {
				t.Fatalf("premature keys from %q: %+v", tt.chunk1, keys)
			}
			if pending != tt.chunk1 {
				t.Fatalf("pending = %q", pending)
			}
			keys, pending = classify(pending + tt.chunk2)
			if pending != "" || len(keys) != 1 || keys[0].Kind != tt.want {
				t.Errorf("reassembled = %+v, pending %q", keys, pending)
			}
		})
	}
}
