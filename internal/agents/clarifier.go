package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/llm"
)

// Clarifier detects query ambiguity before research begins. It must
// surface every ambiguity class it finds in one call; returning only
// the first of several is a quality defect.
type Clarifier struct {
	client *llm.StructuredClient
	logger *zap.Logger
}

// NewClarifier builds a Clarifier over a structured LLM client.
func NewClarifier(client *llm.StructuredClient, logger *zap.Logger) *Clarifier {
	return &Clarifier{client: client, logger: logger}
}

// Check inspects the raw query. An empty ambiguity list means research
// can proceed; otherwise the orchestrator halts with a clarification
// request.
func (c *Clarifier) Check(ctx context.Context, query string) (ClarifierOutput, llm.Usage, error) {
	var out ClarifierOutput
	usage, err := c.client.Complete(ctx, llm.StructuredRequest{
		System: clarifierSystemPrompt,
		User:   fmt.Sprintf("Query: %s", query),
		Schema: clarifierSchema,
	}, &out, nil)
	if err != nil {
		return ClarifierOutput{}, usage, fmt.Errorf("clarifier: %w", err)
	}

	// Keep at most one ambiguity per class, unknown classes dropped.
	seen := make(map[AmbiguityType]bool, 3)
	kept := out.Ambiguities[:0]
	for _, amb := range out.Ambiguities {
		if !amb.Type.Valid() {
			c.logger.Warn("Clarifier returned unknown ambiguity class, dropping",
				zap.String("type", string(amb.Type)))
			continue
		}
		if seen[amb.Type] {
			continue
		}
		seen[amb.Type] = true
		kept = append(kept, amb)
	}
	out.Ambiguities = kept
	return out, usage, nil
}
