package mcp

import (
	"sort"
	"strings"
	"unicode"
)

// ToolIndex is a full-text index over tool names and descriptions. It
// is immutable after construction; when the downstream set changes the
// aggregator builds a fresh index and swaps it atomically. Searches
// are read-only and wait-free.
type ToolIndex struct {
	tools  []ToolRecord
	tokens map[string][]int // token -> tool positions
}

// BuildIndex tokenizes the given tools once.
func BuildIndex(tools []ToolRecord) *ToolIndex {
	idx := &ToolIndex{
		tools:  tools,
		tokens: make(map[string][]int),
	}

	for i, t := range tools {
		seen := make(map[string]bool)
		for _, tok := range tokenize(t.QualifiedName() + " " + t.Description) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			idx.tokens[tok] = append(idx.tokens[tok], i)
		}
	}

	return idx
}

// Search returns tools matching the query, best match first. A tool
// matches when it shares at least one token with the query; ties break
// on qualified name for stable output.
func (idx *ToolIndex) Search(query string) []ToolRecord {
	scores := make(map[int]int)
	for _, tok := range tokenize(query) {
		for _, pos := range idx.tokens[tok] {
			scores[pos]++
		}
		// Prefix matches catch partially-typed tool names.
		for indexed, positions := range idx.tokens {
			if indexed != tok && strings.HasPrefix(indexed, tok) {
				for _, pos := range positions {
					scores[pos]++
				}
			}
		}
	}

	matched := make([]int, 0, len(scores))
	for pos := range scores {
		matched = append(matched, pos)
	}
	sort.Slice(matched, func(a, b int) bool {
		if scores[matched[a]] != scores[matched[b]] {
			return scores[matched[a]] > scores[matched[b]]
		}
		return idx.tools[matched[a]].QualifiedName() < idx.tools[matched[b]].QualifiedName()
	})

	out := make([]ToolRecord, 0, len(matched))
	for _, pos := range matched {
		out = append(out, idx.tools[pos])
	}
	return out
}

// Len returns the number of indexed tools.
func (idx *ToolIndex) Len() int { return len(idx.tools) }

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
