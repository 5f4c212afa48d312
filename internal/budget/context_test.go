package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRenderKeepsEverythingUnderCeiling(t *testing.T) {
	b := NewContextBudget(10000, zap.NewNop())
	b.Add("query", SegmentEssential, "What happened to margins?")
	b.Add("sources", SegmentEssential, "[1] 10-K filing")
	b.Add("iter1", SegmentHistory, "Draft one discussed revenue.")

	out := b.Render()

	assert.Contains(t, out, "What happened to margins?")
	assert.Contains(t, out, "[1] 10-K filing")
	assert.Contains(t, out, "Draft one discussed revenue.")
	assert.Zero(t, b.Evicted())
}

func TestRenderEvictsOldestHistoryFirst(t *testing.T) {
	old := strings.Repeat("a", 3000)
	recent := strings.Repeat("b", 3000)

	b := NewContextBudget(3200, zap.NewNop())
	b.Add("query", SegmentEssential, "q")
	b.Add("iter1", SegmentHistory, old)
	b.Add("iter2", SegmentHistory, recent)

	out := b.Render()

	assert.Contains(t, out, recent)
	assert.NotContains(t, out, strings.Repeat("a", 1000))
	assert.Equal(t, 1, b.Evicted())
}

func TestRenderNeverEvictsEssential(t *testing.T) {
	critique := strings.Repeat("c", 5000)

	b := NewContextBudget(1000, zap.NewNop())
	b.Add("critique", SegmentEssential, critique)
	b.Add("iter1", SegmentHistory, strings.Repeat("h", 5000))

	out := b.Render()

	// Essentials survive even when they alone exceed the ceiling.
	assert.Contains(t, out, critique)
	assert.Equal(t, 1, b.Evicted())
}

func TestRenderTruncatesPartialFit(t *testing.T) {
	b := NewContextBudget(2000, zap.NewNop())
	b.Add("query", SegmentEssential, "q")
	b.Add("iter1", SegmentHistory, strings.Repeat("x", 5000))

	out := b.Render()

	assert.Contains(t, out, "[truncated]")
	assert.Less(t, len(out), 2200)
}

func TestRenderZeroCeilingDisablesTrimming(t *testing.T) {
	b := NewContextBudget(0, zap.NewNop())
	b.Add("iter1", SegmentHistory, strings.Repeat("x", 100000))

	assert.Equal(t, 100000, len(b.Render()))
	assert.Zero(t, b.Evicted())
}

func TestUsageTrackerTotals(t *testing.T) {
	tr := NewUsageTracker()
	tr.Record("analyst", 1, 1200, 400, 1)
	tr.Record("critic", 1, 800, 150, 2)

	totals := tr.Totals()
	assert.Equal(t, 2000, totals.InputTokens)
	assert.Equal(t, 550, totals.OutputTokens)
	assert.Equal(t, 2, totals.Calls)

	entries := tr.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "critic", entries[1].Agent)
	assert.Equal(t, 2, entries[1].Attempts)
}
