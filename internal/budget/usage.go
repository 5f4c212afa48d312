package budget

import (
	"sync"
	"time"
)

// AgentUsage records one LLM call's token spend.
type AgentUsage struct {
	Agent        string    `json:"agent"`
	Iteration    int       `json:"iteration"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Attempts     int       `json:"attempts"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsageTotals summarizes a session's token spend.
type UsageTotals struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Calls        int `json:"calls"`
}

// UsageTracker accumulates per-agent token usage for one session.
type UsageTracker struct {
	mu      sync.Mutex
	entries []AgentUsage
	totals  UsageTotals
	now     func() time.Time
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{now: time.Now}
}

// Record adds one call's usage.
func (t *UsageTracker) Record(agent string, iteration, inputTokens, outputTokens, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, AgentUsage{
		Agent:        agent,
		Iteration:    iteration,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Attempts:     attempts,
		Timestamp:    t.now(),
	})
	t.totals.InputTokens += inputTokens
	t.totals.OutputTokens += outputTokens
	t.totals.Calls++
}

// Totals returns the running totals.
func (t *UsageTracker) Totals() UsageTotals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// Entries returns a copy of the per-call log.
func (t *UsageTracker) Entries() []AgentUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AgentUsage, len(t.entries))
	copy(out, t.entries)
	return out
}
