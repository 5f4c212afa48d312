// Package degradation keeps the best draft produced so far, so a
// session that exhausts its iteration budget can still hand the
// writer something instead of failing with nothing.
package degradation

import (
	"sync"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/chain"
)

// Snapshot is one iteration's draft with its review outcome. Analysis
// is the chain analysis computed over this iteration's argument nodes,
// so the eventual winner always carries the analysis that matches its
// own graph.
type Snapshot struct {
	Iteration int
	Analyst   agents.AnalystOutput
	Critic    agents.CriticOutput
	Analysis  *chain.Analysis
	Score     float64
}

// verdict weights; node scores break ties within a verdict class.
const (
	scorePass   = 1.0
	scoreWarn   = 0.7
	scoreReject = 0.3
)

// Score rates a reviewed draft. The verdict dominates; the mean
// argument-node score (normalized to 0-0.1) separates drafts with the
// same verdict.
func Score(analyst agents.AnalystOutput, critic agents.CriticOutput) float64 {
	var base float64
	switch critic.Verdict {
	case agents.VerdictPass:
		base = scorePass
	case agents.VerdictWarn:
		base = scoreWarn
	default:
		base = scoreReject
	}
	if len(analyst.ArgumentNodes) == 0 {
		return base
	}
	var sum float64
	for _, n := range analyst.ArgumentNodes {
		sum += n.ConfidenceScore()
	}
	mean := sum / float64(len(analyst.ArgumentNodes)) // 0-10
	return base + mean/100
}

// Tracker records each iteration and remembers the best one.
type Tracker struct {
	mu      sync.Mutex
	history []Snapshot
	best    *Snapshot
}

func NewTracker() *Tracker { return &Tracker{} }

// Record stores an iteration's outcome and returns its score.
func (t *Tracker) Record(iteration int, analyst agents.AnalystOutput, critic agents.CriticOutput, analysis *chain.Analysis) float64 {
	snap := Snapshot{
		Iteration: iteration,
		Analyst:   analyst,
		Critic:    critic,
		Analysis:  analysis,
		Score:     Score(analyst, critic),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, snap)
	// Ties keep the later draft: it saw more context.
	if t.best == nil || snap.Score >= t.best.Score {
		s := snap
		t.best = &s
	}
	return snap.Score
}

// Best returns the highest-scoring snapshot, or false when nothing
// has been recorded.
func (t *Tracker) Best() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.best == nil {
		return Snapshot{}, false
	}
	return *t.best, true
}

// History returns the per-iteration record in order.
func (t *Tracker) History() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, len(t.history))
	copy(out, t.history)
	return out
}
