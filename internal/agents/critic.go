package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/llm"
)

// Critic reviews analyst drafts against five fixed quality criteria.
type Critic struct {
	client *llm.StructuredClient
	logger *zap.Logger

	// StructuredMode asks for typed weaknesses tied to claim ids.
	StructuredMode bool
}

// NewCritic builds a Critic over a structured LLM client.
func NewCritic(client *llm.StructuredClient, structured bool, logger *zap.Logger) *Critic {
	return &Critic{client: client, logger: logger, StructuredMode: structured}
}

// Review evaluates a draft and returns the verdict with diagnostics.
func (c *Critic) Review(ctx context.Context, rc ResearchContext, analyst AnalystOutput) (CriticOutput, llm.Usage, error) {
	var out CriticOutput
	usage, err := c.client.Complete(ctx, llm.StructuredRequest{
		System: criticSystemPrompt,
		User:   c.buildPrompt(rc, analyst),
		Schema: criticSchema,
	}, &out, func() error { return c.checkShape(out) })
	if err != nil {
		return CriticOutput{}, usage, fmt.Errorf("critic: %w", err)
	}
	c.validateWeaknesses(&out, analyst)
	return out, usage, nil
}

func (c *Critic) checkShape(out CriticOutput) error {
	if !out.Verdict.Valid() {
		return fmt.Errorf("verdict must be PASS, WARN or REJECT, got %q", out.Verdict)
	}
	if out.Verdict != VerdictPass && strings.TrimSpace(out.Critique) == "" {
		return fmt.Errorf("%s verdict requires a critique", out.Verdict)
	}
	return nil
}

// validateWeaknesses drops weaknesses outside the fixed vocabulary or
// pointing at unknown claim ids. Dropped entries are logged, not fatal.
func (c *Critic) validateWeaknesses(out *CriticOutput, analyst AnalystOutput) {
	if len(out.Weaknesses) == 0 {
		return
	}
	nodes := make(map[string]bool, len(analyst.ArgumentNodes))
	for _, n := range analyst.ArgumentNodes {
		nodes[n.ID] = true
	}
	kept := out.Weaknesses[:0]
	for _, w := range out.Weaknesses {
		if !w.Type.Valid() {
			c.logger.Warn("Critic weakness outside fixed vocabulary, dropping",
				zap.String("type", string(w.Type)))
			continue
		}
		if w.NodeID != "" && !nodes[w.NodeID] {
			c.logger.Warn("Critic weakness references unknown claim, dropping",
				zap.String("node_id", w.NodeID))
			continue
		}
		switch w.Severity {
		case SeverityMinor, SeverityModerate, SeverityCritical:
		default:
			w.Severity = SeverityModerate
		}
		kept = append(kept, w)
	}
	out.Weaknesses = kept
}

// EscalateVerdict applies the deterministic auto-escalation rule: when
// the count of critical weaknesses reaches the threshold and the model
// did not already reject, a NEW CriticOutput with a REJECT verdict is
// returned. The input is never modified.
func EscalateVerdict(out CriticOutput, threshold int) CriticOutput {
	if out.Verdict == VerdictReject {
		return out
	}
	critical := out.CriticalWeaknesses()
	if critical < threshold {
		return out
	}
	escalated := out
	escalated.Verdict = VerdictReject
	escalated.Escalated = true
	escalated.Critique = fmt.Sprintf(
		"%s\n\n[auto-escalated to REJECT: %d critical weaknesses, threshold %d]",
		out.Critique, critical, threshold)
	// Copy slices so the original stays untouched.
	escalated.Suggestions = append([]string(nil), out.Suggestions...)
	escalated.LogicalGaps = append([]string(nil), out.LogicalGaps...)
	escalated.SourceIssues = append([]string(nil), out.SourceIssues...)
	escalated.Weaknesses = append([]StructuredWeakness(nil), out.Weaknesses...)
	return escalated
}

func (c *Critic) buildPrompt(rc ResearchContext, analyst AnalystOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\nIteration: %d\n\n", rc.Query, rc.Iteration)
	b.WriteString("Sources available to the analyst:\n")
	b.WriteString(formatSources(rc.Sources))
	b.WriteString("\nDraft under review:\n")
	b.WriteString(analyst.Draft)
	if c.StructuredMode && len(analyst.ArgumentNodes) > 0 {
		b.WriteString("\n\nClaim graph:\n")
		for _, n := range analyst.ArgumentNodes {
			fmt.Fprintf(&b, "- %s: %s (evidence %v, depends on %v, %s, confidence %s)\n",
				n.ID, n.Claim, n.EvidenceIDs, n.DependsOn, n.Reasoning, n.Confidence)
		}
		b.WriteString("\nTag each weakness you find to a claim id using the fixed vocabulary.")
	} else {
		b.WriteString("\n\nOmit weaknesses (return an empty list).")
	}
	return b.String()
}
