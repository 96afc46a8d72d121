// Package retrieval decides when a turn is worth enriching with project
// context, fetches that context from the backend retriever, and caches
// formatted context blocks for a short window.
package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minGateLength is the text length above which retrieval always fires,
// regardless of keyword matches.
const minGateLength = 200

var (
	// Code-entity references: CamelCase identifiers, snake_case pairs,
	// call expressions, backtick spans.
	codeEntityPattern = regexp.MustCompile("[a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*|[A-Za-z][a-zA-Z0-9]*_[a-zA-Z0-9_]+|[A-Za-z_][A-Za-z0-9_]*\\(\\)|`[^`]+`")

	// File or doc references: path segments or a trailing extension.
	fileRefPattern = regexp.MustCompile(`[\w.-]+/[\w./-]+|\b[\w-]+\.(go|py|ts|tsx|js|jsx|rs|java|c|h|cpp|md|txt|json|yaml|yml|toml|sql|sh|vue)\b`)

	interrogativeWords = []string{
		"how", "why", "what", "where", "which", "when", "who",
		"explain", "describe", "show me", "can you", "could you",
	}
)

// ShouldRetrieve is the deterministic heuristic over outbound text that
// decides whether a retrieval round-trip is worthwhile.
func ShouldRetrieve(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if utf8.RuneCountInString(trimmed) > minGateLength {
		return true
	}

	if codeEntityPattern.MatchString(trimmed) {
		return true
	}

	if fileRefPattern.MatchString(trimmed) {
		return true
	}

	if strings.Contains(trimmed, "?") {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, word := range interrogativeWords {
		if strings.HasPrefix(lower, word+" ") || lower == word {
			return true
		}
	}

	return false
}
