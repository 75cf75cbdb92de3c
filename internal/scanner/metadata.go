package scanner

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Conventions names the directory levels under the corpus root, outermost
// first. A file at root/philosophy/epistemology/lecture-03.txt with levels
// [category, course] yields {"category": "philosophy", "course":
// "epistemology", "episode": 3}.
type Conventions struct {
	Levels []string
}

// DefaultConventions match the curated corpus layout.
var DefaultConventions = Conventions{Levels: []string{"category", "course", "series"}}

// episodePattern extracts a trailing number from the filename stem, e.g.
// "lecture-03" or "part 12".
var episodePattern = regexp.MustCompile(`(\d+)\s*$`)

// Extract derives metadata JSON for a file at relPath (relative to the
// corpus root, slash-separated).
func (c Conventions) Extract(relPath string) (string, error) {
	meta := make(map[string]any)

	dir, name := filepath.Split(filepath.ToSlash(relPath))
	segments := strings.Split(strings.Trim(dir, "/"), "/")
	if dir == "" {
		segments = nil
	}

	for i, level := range c.Levels {
		if i < len(segments) && segments[i] != "" {
			meta[level] = segments[i]
		}
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if m := episodePattern.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			meta["episode"] = n
		}
	}
	meta["filename"] = name

	buf, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("extract metadata for %s: %w", relPath, err)
	}
	return string(buf), nil
}
