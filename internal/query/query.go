// Package query filters note collections for display.
package query

import (
	"strings"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// DateAll is the sentinel date filter that matches every note.
const DateAll = "all"

// Filter returns the notes matching tagQuery and dateFilter, preserving the
// input order. It is a pure function, safe to call on every keystroke.
//
// tagQuery is tokenized on whitespace; a note passes when at least one token
// is a case-insensitive substring of any of its tags. An empty token set
// passes everything. dateFilter is either DateAll (or empty) or a
// "2006-01-02" calendar date compared against the note's creation date in
// the client's local time zone. Both filters compose by logical AND.
func Filter(notes []models.Note, tagQuery, dateFilter string) []models.Note {
	tokens := tokenize(tagQuery)

	out := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		if !matchesTags(n, tokens) {
			continue
		}
		if !matchesDate(n, dateFilter) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// tokenize splits the free-text query on whitespace, lowercases the tokens,
// and drops empty ones.
func tokenize(tagQuery string) []string {
	var tokens []string
	for _, f := range strings.Fields(tagQuery) {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// matchesTags applies OR-of-substring semantics over the note's tags.
func matchesTags(n models.Note, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, tag := range n.Tags {
		lower := strings.ToLower(tag)
		for _, token := range tokens {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}
	return false
}

// matchesDate compares the note's creation calendar date, in local time,
// against the filter.
func matchesDate(n models.Note, dateFilter string) bool {
	if dateFilter == "" || dateFilter == DateAll {
		return true
	}
	return n.CreatedAt.In(time.Local).Format("2006-01-02") == dateFilter
}
