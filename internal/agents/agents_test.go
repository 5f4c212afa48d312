package agents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/llm"
	"github.com/meridian-search/reasoner/internal/sources"
)

// cannedInvoker returns pre-baked JSON payloads in order.
type cannedInvoker struct {
	payloads []string
	calls    int
}

func (c *cannedInvoker) Invoke(context.Context, llm.Request) (llm.Response, error) {
	i := c.calls
	c.calls++
	if i >= len(c.payloads) {
		i = len(c.payloads) - 1
	}
	return llm.Response{Content: c.payloads[i], InputTokens: 100, OutputTokens: 50}, nil
}

func structuredOver(inv llm.Invoker) *llm.StructuredClient {
	return llm.NewStructuredClient(inv, 3, time.Millisecond, zap.NewNop())
}

func testContext() ResearchContext {
	return ResearchContext{
		Query:     "What is EUV lithography?",
		Mode:      sources.ModeDiscovery,
		Iteration: 1,
		Sources: []sources.SourceRecord{
			{ID: 1, Tier: 1, Kind: sources.OriginDocument, Locator: "https://gov.example/euv", Title: "EUV overview", Label: "Official / Primary"},
			{ID: 2, Tier: 2, Kind: sources.OriginDocument, Locator: "https://reuters.example/chips", Title: "Chip supply", Label: "Mainstream Media"},
			{ID: 3, Tier: 3, Kind: sources.OriginDocument, Locator: "https://tradepress.example/asml", Title: "ASML deep dive", Label: "Industry Press"},
		},
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestAnalystDropsInvalidReferences(t *testing.T) {
	payload := mustJSON(t, map[string]interface{}{
		"status":         "DRAFT_READY",
		"draft":          "EUV uses 13.5nm light [1][2].",
		"citations_used": []int{1, 2, 9}, // 9 does not exist
		"argument_nodes": []map[string]interface{}{
			{"id": "c1", "claim": "EUV uses 13.5nm light", "evidence_ids": []int{1, 7}, "reasoning": "deduction", "confidence": "high"},
			{"id": "c2", "claim": "Supply is constrained", "evidence_ids": []int{2}, "reasoning": "induction", "confidence": "medium", "depends_on": []string{"c1", "c9", "c3"}},
			{"id": "c3", "claim": "Prices will rise", "evidence_ids": []int{2}, "reasoning": "abduction", "confidence": "low", "depends_on": []string{"c2"}},
		},
	})
	analyst := NewAnalyst(structuredOver(&cannedInvoker{payloads: []string{payload}}), true, zap.NewNop())

	out, usage, err := analyst.Research(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, StatusDraftReady, out.Status)
	assert.Equal(t, []int{1, 2}, out.CitationsUsed, "unknown citation must be dropped")
	assert.Equal(t, []int{1}, out.ArgumentNodes[0].EvidenceIDs, "uncited evidence must be dropped")
	// c9 is unknown, c3 is a forward reference; only c1 survives.
	assert.Equal(t, []string{"c1"}, out.ArgumentNodes[1].DependsOn)
	assert.Equal(t, []string{"c2"}, out.ArgumentNodes[2].DependsOn)
	assert.Equal(t, 150, usage.Total())
}

func TestAnalystRepairsBadStatus(t *testing.T) {
	bad := mustJSON(t, map[string]interface{}{"status": "MAYBE", "draft": "x", "citations_used": []int{1}})
	good := mustJSON(t, map[string]interface{}{"status": "DRAFT_READY", "draft": "x [1]", "citations_used": []int{1}})
	inv := &cannedInvoker{payloads: []string{bad, good}}
	analyst := NewAnalyst(structuredOver(inv), true, zap.NewNop())

	out, _, err := analyst.Research(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, StatusDraftReady, out.Status)
	assert.Equal(t, 2, inv.calls)
}

func TestAnalystReviseIncludesCriticFeedback(t *testing.T) {
	recording := &recordingInvoker{payload: mustJSON(t, map[string]interface{}{
		"status": "DRAFT_READY", "draft": "better [1]", "citations_used": []int{1},
	})}
	analyst := NewAnalyst(structuredOver(recording), true, zap.NewNop())

	rc := testContext()
	rc.PrevDraft = "previous draft"
	critic := CriticOutput{
		Verdict:     VerdictReject,
		Critique:    "citation correctness fails",
		Suggestions: []string{"cite the official source"},
	}
	_, _, err := analyst.Revise(context.Background(), rc, critic)
	require.NoError(t, err)
	assert.Contains(t, recording.lastPrompt, "previous draft")
	assert.Contains(t, recording.lastPrompt, "citation correctness fails")
	assert.Contains(t, recording.lastPrompt, "cite the official source")
}

type recordingInvoker struct {
	payload    string
	lastPrompt string
}

func (r *recordingInvoker) Invoke(_ context.Context, req llm.Request) (llm.Response, error) {
	r.lastPrompt = req.User
	return llm.Response{Content: r.payload}, nil
}

func TestCriticDropsInvalidWeaknesses(t *testing.T) {
	payload := mustJSON(t, map[string]interface{}{
		"verdict":  "WARN",
		"critique": "mostly fine",
		"weaknesses": []map[string]interface{}{
			{"node_id": "c1", "type": "insufficient_evidence", "severity": "critical"},
			{"node_id": "c1", "type": "made_up_weakness", "severity": "critical"},
			{"node_id": "ghost", "type": "logical_leap", "severity": "minor"},
		},
	})
	critic := NewCritic(structuredOver(&cannedInvoker{payloads: []string{payload}}), true, zap.NewNop())

	analystOut := AnalystOutput{
		Draft:         "d",
		CitationsUsed: []int{1},
		ArgumentNodes: []ArgumentNode{{ID: "c1", Claim: "x"}},
	}
	out, _, err := critic.Review(context.Background(), testContext(), analystOut)
	require.NoError(t, err)
	require.Len(t, out.Weaknesses, 1)
	assert.Equal(t, WeaknessInsufficientEvidence, out.Weaknesses[0].Type)
}

func TestEscalateVerdictProducesNewOutput(t *testing.T) {
	original := CriticOutput{
		Verdict:  VerdictWarn,
		Critique: "two structural problems",
		Weaknesses: []StructuredWeakness{
			{NodeID: "c1", Type: WeaknessInvalidDeduction, Severity: SeverityCritical},
			{NodeID: "c2", Type: WeaknessLogicalLeap, Severity: SeverityCritical},
		},
	}
	escalated := EscalateVerdict(original, 2)

	assert.Equal(t, VerdictReject, escalated.Verdict)
	assert.True(t, escalated.Escalated)
	// The original must be untouched.
	assert.Equal(t, VerdictWarn, original.Verdict)
	assert.False(t, original.Escalated)
}

func TestEscalateVerdictBelowThresholdIsIdentity(t *testing.T) {
	original := CriticOutput{
		Verdict:    VerdictWarn,
		Critique:   "one problem",
		Weaknesses: []StructuredWeakness{{NodeID: "c1", Type: WeaknessBiasedSample, Severity: SeverityCritical}},
	}
	out := EscalateVerdict(original, 2)
	assert.Equal(t, VerdictWarn, out.Verdict)
	assert.False(t, out.Escalated)
}

func TestWriterComposeFiltersWhitelist(t *testing.T) {
	payload := mustJSON(t, map[string]interface{}{
		"report":       "Findings [1][2].",
		"sources_used": []int{1, 2, 7},
		"confidence":   "high",
		"methodology":  "reviewed 3 sources",
	})
	writer := NewWriter(structuredOver(&cannedInvoker{payloads: []string{payload}}), zap.NewNop())

	out, _, err := writer.Compose(context.Background(), testContext(), "draft [1][2]", []int{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out.SourcesUsed)
}

func TestWriterPlanRejectsEmptyOutline(t *testing.T) {
	empty := mustJSON(t, map[string]interface{}{"sections": []interface{}{}})
	good := mustJSON(t, map[string]interface{}{"sections": []map[string]interface{}{
		{"heading": "Background", "focus": "context", "word_budget": 200},
		{"heading": "Findings", "focus": "results", "word_budget": 400},
	}})
	inv := &cannedInvoker{payloads: []string{empty, good}}
	writer := NewWriter(structuredOver(inv), zap.NewNop())

	plan, _, err := writer.Plan(context.Background(), testContext(), "long draft")
	require.NoError(t, err)
	assert.Len(t, plan.Sections, 2)
	assert.Equal(t, 2, inv.calls, "empty outline must trigger a repair attempt")
}

func TestClarifierReturnsMultipleAmbiguitiesInOnePass(t *testing.T) {
	payload := mustJSON(t, map[string]interface{}{
		"ambiguities": []map[string]interface{}{
			{"type": "temporal", "question": "Which time period?", "reason": "no dates given"},
			{"type": "scope", "question": "Technical progress or policy?", "reason": "broad topic"},
			{"type": "scope", "question": "duplicate scope entry", "reason": "dup"},
			{"type": "mystery", "question": "bogus", "reason": "unknown class"},
		},
	})
	clarifier := NewClarifier(structuredOver(&cannedInvoker{payloads: []string{payload}}), zap.NewNop())

	out, _, err := clarifier.Check(context.Background(), "AI development")
	require.NoError(t, err)
	require.Len(t, out.Ambiguities, 2, "distinct classes kept, duplicates and unknowns dropped")
	types := map[AmbiguityType]bool{}
	for _, a := range out.Ambiguities {
		types[a.Type] = true
	}
	assert.True(t, types[AmbiguityTemporal])
	assert.True(t, types[AmbiguityScope])
}
