package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/relaycore/relaycore/internal/editor"
)

func newEditorDemoCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "editor-demo",
		Short: "Drive the line editor against the raw terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return fmt.Errorf("editor-demo needs an interactive terminal")
			}

			oldState, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("enter raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)

			width := state.cfg.Editor.Width
			if w, _, err := term.GetSize(fd); err == nil && w > 0 {
				width = w
			}

			// Enable bracketed paste for the session.
			fmt.Fprint(os.Stdout, "\x1b[?2004h")
			defer fmt.Fprint(os.Stdout, "\x1b[?2004l")

			done := false
			ed := editor.New(width)
			ed.OnSubmit(func(text string) {
				fmt.Fprintf(os.Stdout, "\r\nsubmitted: %q\r\n", text)
				if text == "/quit" {
					done = true
				}
			})

			fmt.Fprint(os.Stdout, "type, paste, navigate; submit /quit to exit\r\n> ")
			buf := make([]byte, 4096)
			for !done {
				n, err := os.Stdin.Read(buf)
				if err != nil {
					return err
				}
				ed.HandleInput(string(buf[:n]))
				redraw(ed)
			}
			return nil
		},
	}
}

// redraw paints the buffer on one line, enough to watch the editor
// state; the real surface owns presentation.
func redraw(ed *editor.Editor) {
	line, col := ed.Cursor()
	fmt.Fprintf(os.Stdout, "\r\x1b[K> %s  [%d:%d]", ed.GetText(), line, col)
}
