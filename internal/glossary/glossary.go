package glossary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one glossary term and its synonyms.
type Entry struct {
	Term     string   `yaml:"term"`
	Synonyms []string `yaml:"synonyms"`
}

// document is the on-disk shape: a top-level terms sequence.
type document struct {
	Terms []Entry `yaml:"terms"`
}

// Glossary is a loaded, validated synonym glossary.
type Glossary struct {
	entries []Entry // sorted longest term first for longest-match precedence
}

// Load reads and validates a YAML glossary.
func Load(path string) (*Glossary, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load glossary: %w", err)
	}
	return Parse(buf)
}

// Parse validates glossary bytes.
func Parse(buf []byte) (*Glossary, error) {
	var doc document
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}

	seen := make(map[string]bool)
	for i, e := range doc.Terms {
		term := strings.TrimSpace(e.Term)
		if term == "" {
			return nil, fmt.Errorf("parse glossary: entry %d has empty term", i)
		}
		key := strings.ToLower(term)
		if seen[key] {
			return nil, fmt.Errorf("parse glossary: duplicate term %q", term)
		}
		seen[key] = true
		if len(e.Synonyms) == 0 {
			return nil, fmt.Errorf("parse glossary: term %q has no synonyms", term)
		}
		for j, syn := range e.Synonyms {
			if strings.TrimSpace(syn) == "" {
				return nil, fmt.Errorf("parse glossary: term %q synonym %d is empty", term, j)
			}
		}
	}

	entries := make([]Entry, len(doc.Terms))
	copy(entries, doc.Terms)
	// Longest phrase first; ties broken alphabetically for determinism.
	sort.SliceStable(entries, func(i, j int) bool {
		li, lj := len(entries[i].Term), len(entries[j].Term)
		if li != lj {
			return li > lj
		}
		return strings.ToLower(entries[i].Term) < strings.ToLower(entries[j].Term)
	})

	return &Glossary{entries: entries}, nil
}

// Len returns the number of terms.
func (g *Glossary) Len() int {
	return len(g.entries)
}

// Entries returns the glossary's entries, longest term first.
func (g *Glossary) Entries() []Entry {
	out := make([]Entry, len(g.entries))
	copy(out, g.entries)
	return out
}
