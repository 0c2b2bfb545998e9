// Package parser provides the markdown-derivation helpers shared by the
// knowledge base: title extraction, filename-derived titles, path slugs,
// and search snippets.
package parser

import (
	"regexp"
	"strings"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Title returns the text of the first top-level `# Heading` line, or the
// empty string when the content has none.
func Title(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// TitleOrFilename derives a note title: the first H1 heading when present,
// otherwise the filename with separators replaced by spaces, the .md
// extension stripped, and each word title-cased.
func TitleOrFilename(content, filename string) string {
	if t := Title(content); t != "" {
		return t
	}
	return TitleFromFilename(filename)
}

// TitleFromFilename turns "feature-flags.md" into "Feature Flags".
func TitleFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".md")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Slug converts a title to a kebab-case filename stem: lowercase, runs of
// non-alphanumeric characters collapsed to a single hyphen, trimmed.
func Slug(title string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(s, "-")
}

// Snippet extracts a context window around the first case-insensitive
// occurrence of query in content: up to 100 characters on each side, with
// ellipses marking truncation. When the query does not occur in the content
// (title-only hits) the first 200 characters are returned instead.
func Snippet(content, query string) string {
	pos := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if pos < 0 {
		if len(content) > 200 {
			return content[:200] + "..."
		}
		return content
	}

	start := pos - 100
	if start < 0 {
		start = 0
	}
	end := pos + len(query) + 100
	if end > len(content) {
		end = len(content)
	}

	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return strings.TrimSpace(snippet)
}
