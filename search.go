// Tokenization shared by Search-block insertion (n-gram substrings per
// token) and Search-query evaluation (multi-word query matching against
// intersecting positions) — spec.md §4.3/§4.4.
package engine

import (
	"strings"
	"unicode"
)

// stopwords mirrors a conventional small English stopword list; tokens in
// this set are skipped entirely when indexing or querying, and their
// count is tracked as a position "offset" for multi-word query alignment.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "were": true, "will": true,
	"with": true,
}

// tokenize splits s on whitespace into lowercase tokens, matching the
// teacher's whitespace-splitting intuition (teacher tokenizes content for
// regex search; here it becomes the substring-indexing unit).
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
}

// substrings returns every non-empty substring of token, de-duplicated,
// for n-gram indexing (spec.md §4.3: "for every non-empty... substring of
// each token (de-duplicated per token at a given position)").
func substrings(token string) []string {
	seen := make(map[string]bool)
	var out []string
	runes := []rune(token)
	for i := 0; i < len(runes); i++ {
		for j := i + 1; j <= len(runes); j++ {
			sub := string(runes[i:j])
			if sub == "" || seen[sub] {
				continue
			}
			seen[sub] = true
			out = append(out, sub)
		}
	}
	return out
}

// indexableTerms tokenizes value's string form and returns, for every
// non-stopword token at position i, its substrings paired with i —
// exactly the set of (term, position) pairs Write.toSearch turns into
// SearchRevisions.
type termAtPosition struct {
	term     string
	position int
}

func indexableTerms(s string) []termAtPosition {
	var out []termAtPosition
	pos := 0
	for _, tok := range tokenize(s) {
		if stopwords[tok] {
			continue
		}
		for _, sub := range substrings(tok) {
			out = append(out, termAtPosition{term: sub, position: pos})
		}
		pos++
	}
	return out
}

// queryTokens splits a search query into non-stopword tokens and the
// count of stopwords skipped before each surviving token — the "offset"
// spec.md §4.4 uses so that "term i+1+offset follows term i".
type queryToken struct {
	term         string
	skippedBefore int
}

// matchesQuery reports whether val's string form satisfies query under
// the same tokenize/stopword/position-intersection rule Database.Search
// applies across a whole Search Record — used by BufferedStore to decide
// whether a single overlay value (not yet synced into a Search block)
// matches a query.
func matchesQuery(query string, val Value) bool {
	if val.Kind() != KindString {
		return false
	}
	terms := indexableTerms(val.String())
	if len(terms) == 0 {
		return false
	}
	positions := make(map[string][]int)
	for _, t := range terms {
		positions[t.term] = append(positions[t.term], t.position)
	}

	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return false
	}

	candidates := make(map[int]bool)
	for _, p := range positions[tokens[0].term] {
		candidates[p] = true
	}
	for i := 1; i < len(tokens); i++ {
		offset := 1 + tokens[i].skippedBefore
		next := make(map[int]bool)
		for _, p := range positions[tokens[i].term] {
			if candidates[p-offset] {
				next[p] = true
			}
		}
		candidates = next
		if len(candidates) == 0 {
			return false
		}
	}
	return len(candidates) > 0
}

func queryTokens(query string) []queryToken {
	var out []queryToken
	skipped := 0
	for _, tok := range tokenize(query) {
		if stopwords[tok] {
			skipped++
			continue
		}
		out = append(out, queryToken{term: tok, skippedBefore: skipped})
		skipped = 0
	}
	return out
}
