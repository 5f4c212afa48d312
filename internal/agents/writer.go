package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/llm"
)

// Writer turns an approved draft into the final formatted report,
// citing only from the whitelist derived from the analyst's citations.
type Writer struct {
	client *llm.StructuredClient
	logger *zap.Logger
}

// NewWriter builds a Writer over a structured LLM client.
func NewWriter(client *llm.StructuredClient, logger *zap.Logger) *Writer {
	return &Writer{client: client, logger: logger}
}

// Plan produces a section outline with word budgets for long reports.
// It consumes the FULL analyst draft: planning from a truncated prefix
// makes the outline ignore late-discovered facts.
func (w *Writer) Plan(ctx context.Context, rc ResearchContext, draft string) (WriterPlan, llm.Usage, error) {
	var plan WriterPlan
	usage, err := w.client.Complete(ctx, llm.StructuredRequest{
		System: writerSystemPrompt,
		User: fmt.Sprintf(
			"Research query: %s\n\nFull analyst draft:\n%s\n\nPlan the report outline. Budget words per section; total stays under 1500.",
			rc.Query, draft),
		Schema: writerPlanSchema,
	}, &plan, func() error {
		if len(plan.Sections) == 0 {
			return fmt.Errorf("plan must contain at least one section")
		}
		return nil
	})
	if err != nil {
		return WriterPlan{}, usage, fmt.Errorf("writer plan: %w", err)
	}
	return plan, usage, nil
}

// Compose writes the final report. whitelist is the analyst's
// citations_used; plan may be nil for single-shot composition. The
// returned sources_used is pre-filtered to the whitelist, but the
// hallucination guard remains the authority on the invariant.
func (w *Writer) Compose(ctx context.Context, rc ResearchContext, draft string, whitelist []int, plan *WriterPlan) (WriterOutput, llm.Usage, error) {
	var out WriterOutput
	usage, err := w.client.Complete(ctx, llm.StructuredRequest{
		System: writerSystemPrompt,
		User:   w.buildComposePrompt(rc, draft, whitelist, plan),
		Schema: writerSchema,
	}, &out, func() error { return w.checkShape(out) })
	if err != nil {
		return WriterOutput{}, usage, fmt.Errorf("writer compose: %w", err)
	}

	allowed := make(map[int]bool, len(whitelist))
	for _, id := range whitelist {
		allowed[id] = true
	}
	kept := out.SourcesUsed[:0]
	for _, id := range out.SourcesUsed {
		if allowed[id] {
			kept = append(kept, id)
			continue
		}
		w.logger.Warn("Writer listed source outside whitelist, dropping",
			zap.Int("citation_id", id))
	}
	out.SourcesUsed = kept
	return out, usage, nil
}

func (w *Writer) checkShape(out WriterOutput) error {
	if strings.TrimSpace(out.Report) == "" {
		return fmt.Errorf("report is empty")
	}
	if !out.Confidence.Valid() {
		return fmt.Errorf("confidence must be high, medium or low, got %q", out.Confidence)
	}
	return nil
}

func (w *Writer) buildComposePrompt(rc ResearchContext, draft string, whitelist []int, plan *WriterPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\n", rc.Query)
	b.WriteString("Citation whitelist (the ONLY citation numbers you may use): ")
	for i, id := range whitelist {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "[%d]", id)
	}
	b.WriteString("\n\nSource details:\n")
	b.WriteString(formatSources(rc.Sources))
	b.WriteString("\nApproved analyst draft:\n")
	b.WriteString(draft)
	if plan != nil {
		b.WriteString("\n\nFollow this outline:\n")
		for _, s := range plan.Sections {
			fmt.Fprintf(&b, "- %s (~%d words): %s\n", s.Heading, s.WordBudget, s.Focus)
		}
	}
	b.WriteString("\nCompose the final report.")
	return b.String()
}
