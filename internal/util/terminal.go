package util

import (
	"os"

	"github.com/mattn/go-isatty"
)

// StderrIsTerminal reports whether stderr is attached to a terminal.
// Colors and the progress bar are disabled when it isn't.
func StderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ConfigureTerminal sets up color output based on the environment
func ConfigureTerminal() {
	if os.Getenv("NO_COLOR") != "" || !StderrIsTerminal() {
		SetColors(false)
	}
}
