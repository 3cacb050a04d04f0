// Package diff renders unified diffs between stored and current SQL
// for the audit and immutability reports.
package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Unified renders a unified diff between old and new text. The labels
// name the two sides (e.g. "stored" and "current").
func Unified(oldLabel, newLabel, oldText, newText string) string {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return out
}

// Changed reports whether the two texts differ beyond leading and
// trailing whitespace.
func Changed(oldText, newText string) bool {
	return strings.TrimSpace(oldText) != strings.TrimSpace(newText)
}
