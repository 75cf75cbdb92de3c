package search

// diversify applies maximal-marginal-relevance-style capping: at most
// perFile passages per source file, preferring passages whose course
// grouping is not yet represented. The #1 ranked passage is always kept.
// If the constraints would leave fewer than target passages, they relax in
// two steps: first the course preference, then the per-file cap.
func diversify(passages []RankedPassage, target, perFile int) []RankedPassage {
	if len(passages) <= 1 {
		return passages
	}
	if target > len(passages) {
		target = len(passages)
	}

	type counts struct {
		file   map[string]int
		course map[string]int
	}
	c := counts{file: make(map[string]int), course: make(map[string]int)}
	picked := make([]bool, len(passages))
	var out []RankedPassage

	take := func(i int) {
		ps := passages[i]
		picked[i] = true
		c.file[ps.FileID]++
		if course := ps.Metadata["course"]; course != "" {
			c.course[course]++
		}
		out = append(out, ps)
	}

	// The top-ranked passage is never diversified away.
	take(0)

	// Pass 1: respect the per-file cap and prefer unseen courses.
	for i := 1; i < len(passages) && len(out) < target; i++ {
		ps := passages[i]
		if c.file[ps.FileID] >= perFile {
			continue
		}
		if course := ps.Metadata["course"]; course != "" && c.course[course] > 0 {
			continue
		}
		take(i)
	}

	// Pass 2: drop the course preference, keep the per-file cap.
	for i := 1; i < len(passages) && len(out) < target; i++ {
		if picked[i] || c.file[passages[i].FileID] >= perFile {
			continue
		}
		take(i)
	}

	// Pass 3: constraints fully relaxed to reach the target.
	for i := 1; i < len(passages) && len(out) < target; i++ {
		if !picked[i] {
			take(i)
		}
	}

	return out
}
