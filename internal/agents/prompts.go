package agents

import (
	"fmt"
	"strings"

	"github.com/meridian-search/reasoner/internal/sources"
)

const analystSystemPrompt = `You are a research analyst. You draft research findings strictly from the numbered sources provided. Cite sources inline as [n]. Never invent a citation number that is not in the source list.

Emit atomic claims: each argument node encodes exactly one inferential step. If a conclusion needs three logical jumps, emit three chained nodes linked through depends_on, not one node.`

const analystSchema = `{
  "status": "DRAFT_READY or SEARCH_REQUIRED",
  "draft": "markdown draft with [n] citations",
  "citations_used": [1, 2],
  "gaps": [
    {
      "description": "what is missing",
      "channel": "static_knowledge|web_search|stock|weather|encyclopedia|company",
      "search_query": "query if a lookup channel fits",
      "confidence": "high|medium|low"
    }
  ],
  "argument_nodes": [
    {
      "id": "c1",
      "claim": "one atomic claim",
      "evidence_ids": [1],
      "reasoning": "deduction|induction|abduction",
      "confidence": "high|medium|low",
      "score": 7,
      "depends_on": []
    }
  ]
}`

const criticSystemPrompt = `You are a research critic. Review the draft against exactly five criteria:
1. factual accuracy relative to the cited sources
2. completeness relative to the query
3. clarity
4. citation correctness
5. bias and balance

Return PASS when the draft is sound, WARN for fixable cosmetic issues, REJECT when a criterion fails materially.`

const criticSchema = `{
  "verdict": "PASS|WARN|REJECT",
  "critique": "free-text diagnosis",
  "suggestions": ["..."],
  "logical_gaps": ["..."],
  "source_issues": ["..."],
  "weaknesses": [
    {
      "node_id": "c1",
      "type": "insufficient_evidence|biased_sample|correlation_not_causation|hasty_generalization|missing_alternatives|invalid_deduction|source_tier_violation|logical_leap",
      "severity": "minor|moderate|critical",
      "detail": "..."
    }
  ]
}`

const writerSystemPrompt = `You are a research report writer. Turn the approved analyst draft into a polished, well-structured report. Cite only from the citation whitelist you are given, using [n] markers. Any number outside the whitelist is forbidden.`

const writerSchema = `{
  "report": "final markdown report with [n] citations",
  "sources_used": [1, 2],
  "confidence": "high|medium|low",
  "methodology": "one-paragraph note on how the research was conducted"
}`

const writerPlanSchema = `{
  "sections": [
    {"heading": "...", "focus": "what this section covers", "word_budget": 250}
  ]
}`

const clarifierSystemPrompt = `You examine a research query for ambiguity before research begins. Check three independent classes in one pass: temporal (which time frame?), scope (how broad or deep?), entity (which thing, among several with this name?). Report every ambiguity you find, not just the first. Report none if the query is answerable as stated.`

const clarifierSchema = `{
  "ambiguities": [
    {"type": "temporal|scope|entity", "question": "question for the user", "reason": "why this is ambiguous"}
  ]
}`

// formatSources renders the numbered source list shared by every agent
// prompt. Citation numbers here are the session's stable ids.
func formatSources(recs []sources.SourceRecord) string {
	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "[%d] %s (%s, tier %d) %s\n", rec.ID, rec.Title, rec.Label, rec.Tier, rec.Locator)
		if rec.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", rec.Snippet)
		}
		if rec.ComparisonGroup != "" {
			fmt.Fprintf(&b, "    comparison group: %s\n", rec.ComparisonGroup)
		}
	}
	return b.String()
}

// formatEnrichments renders gap-resolution output and hints for the
// next analyst pass.
func formatEnrichments(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return "Additional knowledge gathered since the last pass:\n" + strings.Join(notes, "\n")
}
