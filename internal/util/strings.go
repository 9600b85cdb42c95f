// Package util provides common utility functions used across the codebase.
package util

import "strings"

// Truncate shortens s to at most max characters, appending "..." when it was cut.
// Block names and error excerpts in summaries use this to stay readable.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// FirstLine returns the text up to the first newline.
func FirstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Pluralize returns singular if count is 1, otherwise plural.
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}
