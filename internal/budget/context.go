// Package budget keeps prompt context within a character ceiling and
// tracks token spend per research session.
package budget

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SegmentKind classifies a context segment for eviction purposes.
type SegmentKind string

const (
	// SegmentEssential segments are never evicted: the query, the
	// active source listing, and the latest critique.
	SegmentEssential SegmentKind = "essential"
	// SegmentHistory segments hold prior iterations and enrichment
	// text. They are evicted oldest first when over budget.
	SegmentHistory SegmentKind = "history"
)

// Segment is one labeled block of prompt context.
type Segment struct {
	Label string
	Kind  SegmentKind
	Text  string
}

// ContextBudget assembles prompt context under a character ceiling.
// Essential segments are always kept, even if the result overshoots
// the ceiling; history segments are dropped oldest first, and the
// oldest surviving history segment is truncated to fit.
type ContextBudget struct {
	mu      sync.Mutex
	ceiling int
	logger  *zap.Logger

	segments []Segment
	evicted  int
}

// NewContextBudget returns a budget with the given character ceiling.
// A non-positive ceiling disables trimming.
func NewContextBudget(ceiling int, logger *zap.Logger) *ContextBudget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBudget{ceiling: ceiling, logger: logger}
}

// Add appends a segment. Segments are evaluated in insertion order,
// so older history is evicted before newer history.
func (b *ContextBudget) Add(label string, kind SegmentKind, text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments = append(b.segments, Segment{Label: label, Kind: kind, Text: text})
}

// Evicted reports how many history segments were dropped by Render.
func (b *ContextBudget) Evicted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Render joins the surviving segments with blank lines. It is safe to
// call repeatedly; each call re-plans eviction from the full segment
// list so a later Add can only evict, never resurrect and re-evict
// inconsistently.
func (b *ContextBudget) Render() string {
	var parts []string
	for _, s := range b.Surviving() {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Surviving returns the segments Render would keep, in insertion
// order, with truncation already applied.
func (b *ContextBudget) Surviving() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	essentialLen := 0
	for _, s := range b.segments {
		if s.Kind == SegmentEssential {
			essentialLen += len(s.Text) + 2
		}
	}

	// Walk history newest first deciding what fits beside the
	// essentials, then emit in insertion order.
	remaining := b.ceiling - essentialLen
	keep := make(map[int]bool, len(b.segments))
	truncateAt := -1
	truncateTo := 0
	if b.ceiling <= 0 {
		for i := range b.segments {
			keep[i] = true
		}
	} else {
		for i := len(b.segments) - 1; i >= 0; i-- {
			s := b.segments[i]
			if s.Kind == SegmentEssential {
				keep[i] = true
				continue
			}
			cost := len(s.Text) + 2
			switch {
			case cost <= remaining:
				keep[i] = true
				remaining -= cost
			case remaining > minTruncated && truncateAt < 0:
				// Partial fit: keep the head of this segment.
				keep[i] = true
				truncateAt = i
				truncateTo = remaining - 2
				remaining = 0
			}
		}
	}

	var out []Segment
	evicted := 0
	for i, s := range b.segments {
		if !keep[i] {
			if s.Kind == SegmentHistory {
				evicted++
			}
			continue
		}
		if i == truncateAt && truncateTo < len(s.Text) {
			s.Text = s.Text[:truncateTo] + "\n[truncated]"
		}
		out = append(out, s)
	}
	if evicted > 0 {
		b.logger.Debug("context segments evicted",
			zap.Int("evicted", evicted),
			zap.Int("ceiling", b.ceiling))
	}
	b.evicted = evicted
	return out
}

// minTruncated is the smallest useful tail budget; below this a
// partial segment carries no signal and is dropped outright.
const minTruncated = 200
