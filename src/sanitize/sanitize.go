// Package sanitize cleans captured command output before it is published as
// a build artifact.
package sanitize

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// BuildOutput strips ANSI escape sequences and normalizes line endings.
// Carriage-return progress redraws collapse to their final state.
func BuildOutput(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}
