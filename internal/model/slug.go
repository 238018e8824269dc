package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks folds away combining marks so accented ref names produce
// plain-ASCII slugs where possible.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// TargetSlug derives the stable artifact path component for a tracked ref.
// Slashes in ref names would split the path, so they become underscores;
// spaces become hyphens.
func TargetSlug(kind RefKind, name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	safe := strings.ReplaceAll(folded, "/", "_")
	safe = strings.ReplaceAll(safe, " ", "-")
	return string(kind) + "-" + safe
}
