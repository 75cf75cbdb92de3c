package search

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeQuote canonicalizes text for the citation substring check:
// NFKC normalization, Unicode quotation marks and dashes mapped to plain
// equivalents (dashes and hyphens become spaces so "measurement-omission"
// and "measurement omission" compare equal), whitespace collapsed, and
// case folded.
func normalizeQuote(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case isQuoteRune(r):
			b.WriteRune('\'')
		case isDashRune(r):
			b.WriteRune(' ')
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func isQuoteRune(r rune) bool {
	switch r {
	case '\'', '"', '‘', '’', '‚', '‛',
		'“', '”', '„', '‟', '‹', '›',
		'«', '»':
		return true
	}
	return false
}

func isDashRune(r rune) bool {
	switch r {
	case '-', '‐', '‑', '‒', '–', '—', '―', '−':
		return true
	}
	return false
}

// validateClaims checks every claim's quote against its cited passage.
// Returns the claims that validate and a description of each failure,
// phrased for the corrective re-prompt.
func validateClaims(claims []Claim, passages map[string]RankedPassage) (valid []Claim, failures []string) {
	for i, claim := range claims {
		ps, ok := passages[claim.Citation.PassageID]
		if !ok {
			failures = append(failures, fmt.Sprintf(
				"claim %d cites unknown passage %q", i+1, claim.Citation.PassageID))
			continue
		}
		if claim.Citation.FileID != ps.FileID {
			failures = append(failures, fmt.Sprintf(
				"claim %d cites passage %q with mismatched file %q",
				i+1, claim.Citation.PassageID, claim.Citation.FileID))
			continue
		}
		if claim.Citation.Quote == "" {
			failures = append(failures, fmt.Sprintf("claim %d has an empty quote", i+1))
			continue
		}
		if !strings.Contains(normalizeQuote(ps.Text), normalizeQuote(claim.Citation.Quote)) {
			failures = append(failures, fmt.Sprintf(
				"claim %d quote %q is not found in passage %q",
				i+1, claim.Citation.Quote, claim.Citation.PassageID))
			continue
		}
		valid = append(valid, claim)
	}
	return valid, failures
}
