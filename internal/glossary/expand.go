package glossary

import (
	"regexp"
	"strings"
)

// maxSynonymsPerTerm caps how many synonyms one matched term contributes.
const maxSynonymsPerTerm = 2

// Match is one glossary hit within a query.
type Match struct {
	Term     string
	Synonyms []string // capped at maxSynonymsPerTerm
}

// Expand returns the expanded query and the matches that produced it.
// With no matches the query is returned exactly as given.
//
// Expansion layout: original query, then each matched term repeated once
// (boosting the exact phrasing), then the synonyms. Matching consumes the
// query left to right against terms ordered longest first; a span of the
// query matched by one term cannot match another.
func (g *Glossary) Expand(query string) (string, []Match) {
	matches := g.matchQuery(query)
	if len(matches) == 0 {
		return query, nil
	}

	parts := []string{query}
	for _, m := range matches {
		parts = append(parts, m.Term)
	}
	for _, m := range matches {
		parts = append(parts, m.Synonyms...)
	}
	return strings.Join(parts, " "), matches
}

// matchQuery finds glossary terms in the query: case-insensitive, word
// boundaries, longest phrase first, non-overlapping.
func (g *Glossary) matchQuery(query string) []Match {
	type span struct{ start, end int }
	var taken []span
	overlaps := func(start, end int) bool {
		for _, s := range taken {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	var matches []Match
	for _, e := range g.entries {
		re, err := termPattern(e.Term)
		if err != nil {
			continue
		}
		locs := re.FindAllStringIndex(query, -1)
		hit := false
		for _, loc := range locs {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			taken = append(taken, span{loc[0], loc[1]})
			hit = true
		}
		if hit {
			syns := e.Synonyms
			if len(syns) > maxSynonymsPerTerm {
				syns = syns[:maxSynonymsPerTerm]
			}
			matches = append(matches, Match{Term: e.Term, Synonyms: syns})
		}
	}
	return matches
}

// termPattern compiles a case-insensitive, word-bounded pattern for a term.
// Interior whitespace in multi-word phrases matches any run of whitespace.
func termPattern(term string) (*regexp.Regexp, error) {
	words := strings.Fields(term)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(quoted, `\s+`) + `\b`)
}
