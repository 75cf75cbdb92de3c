// Package glossary loads the curated synonym glossary and expands queries
// with it.
//
// Matching is case-insensitive, word-boundary-aware, and longest-phrase
// first, so "sense perception" wins over "perception" when both are terms.
// Expansion duplicates the matched terms (a relevance boost for the exact
// wording) and appends up to two synonyms per matched term. A query with no
// glossary matches expands to itself, unchanged.
package glossary
