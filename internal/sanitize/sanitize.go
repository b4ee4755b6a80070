// Package sanitize cleans model answers before they are shown to the user.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	reasoningBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	lineEnding     = regexp.MustCompile(`\r+\n`)
	blankLineRun   = regexp.MustCompile(`\n(?:[ \t\r]*\n){2,}`)
)

// Clean removes <think>…</think> reasoning blocks, normalizes CRLF line
// endings to LF, collapses runs of two or more blank lines into one, and
// trims surrounding whitespace.
// Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	out := raw
	// Removing one block can splice a new pair together, so repeat until stable.
	for {
		next := reasoningBlock.ReplaceAllString(out, "")
		if next == out {
			break
		}
		out = next
	}
	out = lineEnding.ReplaceAllString(out, "\n")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
