package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/llm"
)

// Analyst produces research drafts with tracked citations, flags
// knowledge gaps, and emits the atomic-claim graph.
type Analyst struct {
	client *llm.StructuredClient
	logger *zap.Logger

	// EmitArgumentNodes controls whether the prompt asks for the claim
	// graph; off when the argument-graph feature is disabled.
	EmitArgumentNodes bool
}

// NewAnalyst builds an Analyst over a structured LLM client.
func NewAnalyst(client *llm.StructuredClient, emitNodes bool, logger *zap.Logger) *Analyst {
	return &Analyst{client: client, logger: logger, EmitArgumentNodes: emitNodes}
}

// Research runs the first analysis pass over the filtered sources.
func (a *Analyst) Research(ctx context.Context, rc ResearchContext) (AnalystOutput, llm.Usage, error) {
	return a.run(ctx, rc, a.buildResearchPrompt(rc))
}

// Revise runs a subsequent pass. The prompt carries the previous
// critique verbatim; the analyst must address every item in it.
func (a *Analyst) Revise(ctx context.Context, rc ResearchContext, critic CriticOutput) (AnalystOutput, llm.Usage, error) {
	return a.run(ctx, rc, a.buildRevisePrompt(rc, critic))
}

func (a *Analyst) run(ctx context.Context, rc ResearchContext, prompt string) (AnalystOutput, llm.Usage, error) {
	var out AnalystOutput
	usage, err := a.client.Complete(ctx, llm.StructuredRequest{
		System: analystSystemPrompt,
		User:   prompt,
		Schema: analystSchema,
	}, &out, func() error { return a.checkShape(out) })
	if err != nil {
		return AnalystOutput{}, usage, fmt.Errorf("analyst: %w", err)
	}
	a.validateReferences(&out, rc)
	return out, usage, nil
}

// checkShape rejects outputs that need a model-side repair. Reference
// validation is deliberately NOT here: invalid ids are dropped locally
// rather than burning a retry on them.
func (a *Analyst) checkShape(out AnalystOutput) error {
	switch out.Status {
	case StatusDraftReady, StatusSearchRequired:
	default:
		return fmt.Errorf("status must be DRAFT_READY or SEARCH_REQUIRED, got %q", out.Status)
	}
	if out.Status == StatusDraftReady && strings.TrimSpace(out.Draft) == "" {
		return fmt.Errorf("DRAFT_READY with empty draft")
	}
	for i, gap := range out.Gaps {
		if !gap.Channel.Valid() {
			return fmt.Errorf("gap %d has unknown channel %q", i, gap.Channel)
		}
	}
	return nil
}

// validateReferences enforces the citation and dependency invariants
// after generation: every citation must exist in the session's source
// map, every evidence id must be a used citation, and depends_on may
// only point at earlier nodes in the same batch. Invalid references
// are silently dropped with a warning, never a failed call.
func (a *Analyst) validateReferences(out *AnalystOutput, rc ResearchContext) {
	known := make(map[int]bool, len(rc.Sources))
	for _, rec := range rc.Sources {
		known[rec.ID] = true
	}

	kept := out.CitationsUsed[:0]
	for _, id := range out.CitationsUsed {
		if known[id] {
			kept = append(kept, id)
			continue
		}
		a.logger.Warn("Analyst cited unknown source, dropping",
			zap.Int("citation_id", id),
			zap.Int("iteration", rc.Iteration))
	}
	out.CitationsUsed = kept

	cited := make(map[int]bool, len(out.CitationsUsed))
	for _, id := range out.CitationsUsed {
		cited[id] = true
	}

	seen := make(map[string]bool, len(out.ArgumentNodes))
	for i := range out.ArgumentNodes {
		node := &out.ArgumentNodes[i]

		evidence := node.EvidenceIDs[:0]
		for _, id := range node.EvidenceIDs {
			if cited[id] {
				evidence = append(evidence, id)
				continue
			}
			a.logger.Warn("Argument node references uncited evidence, dropping",
				zap.String("node_id", node.ID),
				zap.Int("evidence_id", id))
		}
		node.EvidenceIDs = evidence

		deps := node.DependsOn[:0]
		for _, dep := range node.DependsOn {
			if seen[dep] {
				deps = append(deps, dep)
				continue
			}
			// Forward references and unknown ids violate the batch
			// ordering invariant; the chain analyzer treats survivors
			// as the authoritative graph.
			a.logger.Warn("Argument node has invalid dependency, dropping",
				zap.String("node_id", node.ID),
				zap.String("depends_on", dep))
		}
		node.DependsOn = deps

		seen[node.ID] = true
	}
}

func (a *Analyst) buildResearchPrompt(rc ResearchContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\nResearch mode: %s\nIteration: %d\n\n", rc.Query, rc.Mode, rc.Iteration)
	b.WriteString("Sources:\n")
	b.WriteString(formatSources(rc.Sources))
	if enrich := formatEnrichments(rc.Enrichments); enrich != "" {
		b.WriteString("\n")
		b.WriteString(enrich)
		b.WriteString("\n")
	}
	b.WriteString("\nDraft your findings. If information essential to the query is missing from every source, list it under gaps and pick the narrowest channel that could resolve it.")
	if !a.EmitArgumentNodes {
		b.WriteString("\nOmit argument_nodes (return an empty list).")
	}
	return b.String()
}

func (a *Analyst) buildRevisePrompt(rc ResearchContext, critic CriticOutput) string {
	var b strings.Builder
	b.WriteString(a.buildResearchPrompt(rc))
	b.WriteString("\n\nYour previous draft:\n")
	b.WriteString(rc.PrevDraft)
	b.WriteString("\n\nCritic feedback (address every item):\n")
	fmt.Fprintf(&b, "Verdict: %s\n%s\n", critic.Verdict, critic.Critique)
	for _, s := range critic.Suggestions {
		fmt.Fprintf(&b, "- suggestion: %s\n", s)
	}
	for _, g := range critic.LogicalGaps {
		fmt.Fprintf(&b, "- logical gap: %s\n", g)
	}
	for _, s := range critic.SourceIssues {
		fmt.Fprintf(&b, "- source issue: %s\n", s)
	}
	for _, w := range critic.Weaknesses {
		fmt.Fprintf(&b, "- weakness on %s: %s (%s) %s\n", w.NodeID, w.Type, w.Severity, w.Detail)
	}
	return b.String()
}
