package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var interactive bool

// ConfigureInteraction decides whether the process runs interactively and
// sets the lipgloss color profile to match. Interaction is disabled when
// NO_INTERACTION or CI is set, when TERM is dumb, or when stderr is not a
// terminal.
func ConfigureInteraction() {
	interactive = detectInteractive()
	if interactive {
		lipgloss.SetColorProfile(termenv.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsInteractive reports whether interactive output (color, prompts) is
// enabled. ConfigureInteraction must have been called first.
func IsInteractive() bool {
	return interactive
}

func detectInteractive() bool {
	if os.Getenv("NO_INTERACTION") != "" {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
