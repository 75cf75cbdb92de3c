package search

import (
	"context"
	"fmt"
)

// synthesize runs the opt-in generation stage with citation validation.
//
// Protocol: one generation call; if any claim fails validation, one
// corrective re-prompt naming the specific failures; after the second
// attempt only validated claims are kept. If nothing validates - or the
// model itself fails - the caller falls back to excerpts (nil synthesis).
func (p *Pipeline) synthesize(ctx context.Context, req Request, query string, passages []RankedPassage) (*Synthesis, []string) {
	byID := make(map[string]RankedPassage, len(passages))
	for _, ps := range passages {
		byID[ps.PassageID] = ps
	}

	input := SynthesisInput{Query: query, Passages: passages}

	synthesis, err := p.model.Synthesize(ctx, input)
	if err != nil {
		p.emitError(ctx, req.SessionID, "synthesize", err)
		return nil, []string{fmt.Sprintf("synthesis failed, returning excerpts: %v", err)}
	}

	valid, failures := validateClaims(synthesis.Claims, byID)
	if len(failures) == 0 {
		return synthesis, nil
	}

	// Single corrective re-prompt, naming the failures.
	p.logger.Warn("citation validation failed; re-prompting",
		"failures", len(failures))
	input.Failures = failures
	retry, err := p.model.Synthesize(ctx, input)
	if err != nil {
		p.emitError(ctx, req.SessionID, "synthesize", err)
		if len(valid) > 0 {
			synthesis.Claims = valid
			return synthesis, []string{fmt.Sprintf(
				"re-prompt failed; kept %d validated claims", len(valid))}
		}
		return nil, []string{fmt.Sprintf("synthesis failed, returning excerpts: %v", err)}
	}

	valid, failures = validateClaims(retry.Claims, byID)
	if len(valid) == 0 {
		p.emitError(ctx, req.SessionID, "validate_citations",
			fmt.Errorf("no claims validated after re-prompt (%d failures)", len(failures)))
		return nil, []string{"no claims survived citation validation; returning excerpts"}
	}

	var warnings []string
	if len(failures) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d claims dropped after failing citation validation twice", len(failures)))
	}
	retry.Claims = valid
	return retry, warnings
}
