package degradation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/chain"
)

func TestScoreVerdictDominates(t *testing.T) {
	low := agents.AnalystOutput{ArgumentNodes: []agents.ArgumentNode{{Confidence: agents.ConfidenceLow}}}
	high := agents.AnalystOutput{ArgumentNodes: []agents.ArgumentNode{{Confidence: agents.ConfidenceHigh}}}

	pass := Score(low, agents.CriticOutput{Verdict: agents.VerdictPass})
	warn := Score(high, agents.CriticOutput{Verdict: agents.VerdictWarn})
	reject := Score(high, agents.CriticOutput{Verdict: agents.VerdictReject})

	assert.Greater(t, pass, warn)
	assert.Greater(t, warn, reject)
}

func TestTrackerKeepsBestDraft(t *testing.T) {
	tr := NewTracker()

	tr.Record(1, agents.AnalystOutput{Draft: "first"}, agents.CriticOutput{Verdict: agents.VerdictReject}, nil)
	tr.Record(2, agents.AnalystOutput{Draft: "second"}, agents.CriticOutput{Verdict: agents.VerdictWarn}, nil)
	tr.Record(3, agents.AnalystOutput{Draft: "third"}, agents.CriticOutput{Verdict: agents.VerdictReject}, nil)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, "second", best.Analyst.Draft)
	assert.Equal(t, 2, best.Iteration)
	assert.Len(t, tr.History(), 3)
}

func TestTrackerTieKeepsLaterDraft(t *testing.T) {
	tr := NewTracker()
	tr.Record(1, agents.AnalystOutput{Draft: "a"}, agents.CriticOutput{Verdict: agents.VerdictReject}, nil)
	tr.Record(2, agents.AnalystOutput{Draft: "b"}, agents.CriticOutput{Verdict: agents.VerdictReject}, nil)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, "b", best.Analyst.Draft)
}

func TestTrackerBestCarriesOwnAnalysis(t *testing.T) {
	// The winning snapshot must keep the analysis computed over its
	// own argument graph, not a later iteration's.
	tr := NewTracker()
	winning := &chain.Analysis{TotalNodes: 2, TopologicalOrder: []string{"c1", "c2"}}
	losing := &chain.Analysis{TotalNodes: 1, TopologicalOrder: []string{"z1"}}

	tr.Record(1, agents.AnalystOutput{Draft: "strong"}, agents.CriticOutput{Verdict: agents.VerdictWarn}, winning)
	tr.Record(2, agents.AnalystOutput{Draft: "weak"}, agents.CriticOutput{Verdict: agents.VerdictReject}, losing)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Iteration)
	assert.Same(t, winning, best.Analysis)
}

func TestTrackerEmpty(t *testing.T) {
	_, ok := NewTracker().Best()
	assert.False(t, ok)
}
