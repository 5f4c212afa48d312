// Package guard enforces citation integrity on writer output: every
// citation the writer emits must have been available to the analyst.
// This is the single most important invariant in the core.
package guard

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/meridian-search/reasoner/internal/agents"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// unavailableMarker replaces citation markers the analyst never saw.
// They are never rendered as working references.
const unavailableMarker = "[source unavailable]"

// ValidatedOutput is the writer output after citation enforcement.
type ValidatedOutput struct {
	Report      string            `json:"report"`
	SourcesUsed []int             `json:"sources_used"`
	Confidence  agents.Confidence `json:"confidence"`
	Methodology string            `json:"methodology,omitempty"`
	// Stripped lists the citation ids removed from the report text.
	Stripped []int `json:"stripped,omitempty"`
}

// Violations reports whether the guard had to correct anything.
func (v ValidatedOutput) Violations() int { return len(v.Stripped) }

// Verify enforces sources_used ⊆ analystCitations with set semantics.
// Markers outside the whitelist are replaced in the report text, never
// silently kept; sources_used is intersected with the whitelist. Verify
// is pure: it never fails, it only corrects.
func Verify(out agents.WriterOutput, analystCitations []int) ValidatedOutput {
	allowed := make(map[int]bool, len(analystCitations))
	for _, id := range analystCitations {
		allowed[id] = true
	}

	strippedSet := make(map[int]bool)
	report := citationMarker.ReplaceAllStringFunc(out.Report, func(marker string) string {
		id, err := strconv.Atoi(citationMarker.FindStringSubmatch(marker)[1])
		if err != nil || !allowed[id] {
			if err == nil {
				strippedSet[id] = true
			}
			return unavailableMarker
		}
		return marker
	})

	validated := ValidatedOutput{
		Report:      report,
		Confidence:  out.Confidence,
		Methodology: out.Methodology,
	}

	seen := make(map[int]bool, len(out.SourcesUsed))
	for _, id := range out.SourcesUsed {
		if !allowed[id] {
			strippedSet[id] = true
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		validated.SourcesUsed = append(validated.SourcesUsed, id)
	}

	// Citations used in the text but missing from sources_used still
	// count: the list must reflect what the report actually cites.
	for _, match := range citationMarker.FindAllStringSubmatch(report, -1) {
		id, err := strconv.Atoi(match[1])
		if err != nil || !allowed[id] || seen[id] {
			continue
		}
		seen[id] = true
		validated.SourcesUsed = append(validated.SourcesUsed, id)
	}

	for id := range strippedSet {
		validated.Stripped = append(validated.Stripped, id)
	}
	sort.Ints(validated.Stripped)
	return validated
}
