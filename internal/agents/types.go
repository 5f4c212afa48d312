// Package agents implements the four cooperating agents of the
// actor-critic research loop (Clarifier, Analyst, Critic, Writer) and
// the typed outputs they exchange.
package agents

import (
	"github.com/meridian-search/reasoner/internal/sources"
)

// AnalystStatus signals whether the analyst produced a usable draft or
// needs another retrieval pass first.
type AnalystStatus string

const (
	StatusDraftReady     AnalystStatus = "DRAFT_READY"
	StatusSearchRequired AnalystStatus = "SEARCH_REQUIRED"
)

// Confidence is the categorical confidence vocabulary shared by gaps
// and claims.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// ReasoningType classifies the inferential step of a claim.
type ReasoningType string

const (
	ReasoningDeduction ReasoningType = "deduction"
	ReasoningInduction ReasoningType = "induction"
	ReasoningAbduction ReasoningType = "abduction"
)

// GapChannel is the resolution channel for a detected knowledge gap.
type GapChannel string

const (
	ChannelStaticKnowledge GapChannel = "static_knowledge"
	ChannelWebSearch       GapChannel = "web_search"
	ChannelStock           GapChannel = "stock"
	ChannelWeather         GapChannel = "weather"
	ChannelEncyclopedia    GapChannel = "encyclopedia"
	ChannelCompany         GapChannel = "company"
)

// NetworkBacked reports whether the channel requires an external call.
// Static knowledge is synthesized locally and is always available.
func (c GapChannel) NetworkBacked() bool {
	return c != ChannelStaticKnowledge && c != ""
}

// Valid reports whether c is a known channel.
func (c GapChannel) Valid() bool {
	switch c {
	case ChannelStaticKnowledge, ChannelWebSearch, ChannelStock,
		ChannelWeather, ChannelEncyclopedia, ChannelCompany:
		return true
	}
	return false
}

// GapResolution is a missing-information request raised by the analyst.
// It is consumed once by the gap resolver; its effect persists only as
// a new source record and updated context.
type GapResolution struct {
	Description string     `json:"description"`
	Channel     GapChannel `json:"channel"`
	SearchQuery string     `json:"search_query,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	Confidence  Confidence `json:"confidence"`
}

// ArgumentNode is one atomic claim with its evidence and logical
// dependencies. DependsOn may only reference nodes emitted earlier in
// the same batch.
type ArgumentNode struct {
	ID            string        `json:"id"`
	Claim         string        `json:"claim"`
	EvidenceIDs   []int         `json:"evidence_ids"`
	Reasoning     ReasoningType `json:"reasoning"`
	Confidence    Confidence    `json:"confidence"`
	Score         *float64      `json:"score,omitempty"` // 0-10, optional
	DependsOn     []string      `json:"depends_on,omitempty"`
	LogicWarnings []string      `json:"logic_warnings,omitempty"`
}

// ConfidenceScore returns the numeric confidence, mapping the
// categorical level onto the 0-10 scale when no explicit score exists.
func (n ArgumentNode) ConfidenceScore() float64 {
	if n.Score != nil {
		return *n.Score
	}
	switch n.Confidence {
	case ConfidenceHigh:
		return 8
	case ConfidenceMedium:
		return 5
	case ConfidenceLow:
		return 2
	}
	return 5
}

// AnalystOutput is the analyst's draft plus everything downstream
// phases need: tracked citations, gap requests, and (optionally) the
// atomic-claim graph.
type AnalystOutput struct {
	Status        AnalystStatus   `json:"status"`
	Draft         string          `json:"draft"`
	CitationsUsed []int           `json:"citations_used"`
	Gaps          []GapResolution `json:"gaps,omitempty"`
	ArgumentNodes []ArgumentNode  `json:"argument_nodes,omitempty"`
}

// Verdict is the critic's review outcome.
type Verdict string

const (
	VerdictPass   Verdict = "PASS"
	VerdictWarn   Verdict = "WARN"
	VerdictReject Verdict = "REJECT"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictWarn, VerdictReject:
		return true
	}
	return false
}

// WeaknessType is the fixed vocabulary of structured critique.
type WeaknessType string

const (
	WeaknessInsufficientEvidence   WeaknessType = "insufficient_evidence"
	WeaknessBiasedSample           WeaknessType = "biased_sample"
	WeaknessCorrelationNotCausation WeaknessType = "correlation_not_causation"
	WeaknessHastyGeneralization    WeaknessType = "hasty_generalization"
	WeaknessMissingAlternatives    WeaknessType = "missing_alternatives"
	WeaknessInvalidDeduction       WeaknessType = "invalid_deduction"
	WeaknessSourceTierViolation    WeaknessType = "source_tier_violation"
	WeaknessLogicalLeap            WeaknessType = "logical_leap"
)

// Valid reports whether w is in the fixed weakness vocabulary.
func (w WeaknessType) Valid() bool {
	switch w {
	case WeaknessInsufficientEvidence, WeaknessBiasedSample,
		WeaknessCorrelationNotCausation, WeaknessHastyGeneralization,
		WeaknessMissingAlternatives, WeaknessInvalidDeduction,
		WeaknessSourceTierViolation, WeaknessLogicalLeap:
		return true
	}
	return false
}

// Severity grades a structured weakness.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// StructuredWeakness ties a typed weakness to a specific claim.
type StructuredWeakness struct {
	NodeID   string       `json:"node_id"`
	Type     WeaknessType `json:"type"`
	Severity Severity     `json:"severity"`
	Detail   string       `json:"detail,omitempty"`
}

// CriticOutput is one review. It is immutable after creation: the
// deterministic auto-escalation produces a new CriticOutput rather than
// editing the original.
type CriticOutput struct {
	Verdict      Verdict              `json:"verdict"`
	Critique     string               `json:"critique"`
	Suggestions  []string             `json:"suggestions,omitempty"`
	LogicalGaps  []string             `json:"logical_gaps,omitempty"`
	SourceIssues []string             `json:"source_issues,omitempty"`
	Weaknesses   []StructuredWeakness `json:"weaknesses,omitempty"`
	Escalated    bool                 `json:"escalated,omitempty"`
}

// CriticalWeaknesses counts critical-severity structured weaknesses.
func (c CriticOutput) CriticalWeaknesses() int {
	n := 0
	for _, w := range c.Weaknesses {
		if w.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// WriterOutput is the terminal artifact of the loop.
type WriterOutput struct {
	Report      string     `json:"report"`
	SourcesUsed []int      `json:"sources_used"`
	Confidence  Confidence `json:"confidence"`
	Methodology string     `json:"methodology,omitempty"`
}

// WriterPlan is a section outline with per-section word budgets,
// produced before composing long reports.
type WriterPlan struct {
	Sections []PlanSection `json:"sections"`
}

// PlanSection is one planned report section.
type PlanSection struct {
	Heading    string `json:"heading"`
	Focus      string `json:"focus"`
	WordBudget int    `json:"word_budget"`
}

// AmbiguityType classifies what the clarifier found unclear.
type AmbiguityType string

const (
	AmbiguityTemporal AmbiguityType = "temporal"
	AmbiguityScope    AmbiguityType = "scope"
	AmbiguityEntity   AmbiguityType = "entity"
)

// Valid reports whether a is a known ambiguity class.
func (a AmbiguityType) Valid() bool {
	switch a {
	case AmbiguityTemporal, AmbiguityScope, AmbiguityEntity:
		return true
	}
	return false
}

// Ambiguity is one clarification question for the caller.
type Ambiguity struct {
	Type     AmbiguityType `json:"type"`
	Question string        `json:"question"`
	Reason   string        `json:"reason,omitempty"`
}

// ClarifierOutput lists every ambiguity detected in a single pass.
type ClarifierOutput struct {
	Ambiguities []Ambiguity `json:"ambiguities"`
}

// ResearchContext is the working context assembled by the orchestrator
// for each agent call within one iteration.
type ResearchContext struct {
	Query       string
	Mode        sources.Mode
	Iteration   int
	Sources     []sources.SourceRecord
	Enrichments []string // resolved gap content and disabled-channel hints
	PrevDraft   string
	PrevCritic  *CriticOutput
}
