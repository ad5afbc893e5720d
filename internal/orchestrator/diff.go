package orchestrator

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffLines = 200

// renderDiff produces a line-oriented before/after view of an applied
// fix for the run log and report input.
func renderDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", path, path)
	count := 0
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffEqual:
			// Unchanged regions are elided from the rendered view
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			if count >= maxDiffLines {
				sb.WriteString("… diff truncated\n")
				return sb.String()
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
			count++
		}
	}
	return sb.String()
}
