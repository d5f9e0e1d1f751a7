package mcp

import (
	"regexp"
	"strings"

	"serf-ci/src/sanitize"
)

// OutputTailLines is how many trailing output lines get_build returns.
const OutputTailLines = 80

// timestampPattern matches leading log timestamps such as
// 2024-05-21T10:00:05.123Z or 2024-05-21 10:00:05,123.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[.,]?\d*Z?([+-]\d{2}:?\d{2})?\s*`)

// longPathPattern matches absolute paths of 3+ directories, keeping the file
// name and optional line number.
var longPathPattern = regexp.MustCompile(`/(?:[^/\s]+/){3,}([^/\s:]+(?::\d+)?)`)

var spaceRun = regexp.MustCompile(`[ \t]+`)

// compactLine shortens one line of build output.
func compactLine(line string) string {
	line = timestampPattern.ReplaceAllString(line, "")
	line = longPathPattern.ReplaceAllString(line, ".../$1")
	return strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
}

// CompactOutput strips terminal escapes, drops blank lines and returns the
// last max compacted lines. truncated reports whether lines were dropped
// from the front.
func CompactOutput(output string, max int) (lines []string, truncated bool) {
	for _, raw := range strings.Split(sanitize.BuildOutput(output), "\n") {
		if line := compactLine(raw); line != "" {
			lines = append(lines, line)
		}
	}
	if max > 0 && len(lines) > max {
		return lines[len(lines)-max:], true
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, false
}
