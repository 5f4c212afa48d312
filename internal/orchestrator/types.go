package orchestrator

import (
	"fmt"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/budget"
	"github.com/meridian-search/reasoner/internal/chain"
	"github.com/meridian-search/reasoner/internal/sources"
)

// Request is one research question with its candidate documents.
// Documents come pre-ranked from retrieval; this core only filters
// them by tier and cites them by stable id.
type Request struct {
	Query     string             `json:"query"`
	Mode      sources.Mode       `json:"mode"`
	Documents []sources.Document `json:"documents"`
}

// FinalResult is the terminal artifact of a completed session.
// Citation markers inside Report use the [n] convention referencing
// SourcesUsed by id.
type FinalResult struct {
	SessionID      string                 `json:"session_id"`
	Report         string                 `json:"report"`
	SourcesUsed    []sources.SourceRecord `json:"sources_used"`
	Confidence     agents.Confidence      `json:"confidence"`
	ArgumentGraph  []agents.ArgumentNode  `json:"argument_graph,omitempty"`
	ChainAnalysis  *chain.Analysis        `json:"reasoning_chain_analysis,omitempty"`
	IterationsUsed int                    `json:"iterations_used"`
	Degraded       bool                   `json:"degraded,omitempty"`
	Methodology    string                 `json:"methodology,omitempty"`
	Usage          budget.UsageTotals     `json:"usage"`
}

// ClarificationRequest halts the session before research: the caller
// must resolve the questions out of band and resubmit.
type ClarificationRequest struct {
	SessionID string             `json:"session_id"`
	Questions []agents.Ambiguity `json:"questions"`
}

// Result is the union returned by Run: exactly one field is set.
type Result struct {
	Final         *FinalResult          `json:"final,omitempty"`
	Clarification *ClarificationRequest `json:"clarification,omitempty"`
}

// SessionError is an irrecoverable session failure. PartialDraft
// carries the best draft produced before the failure, when any exists.
type SessionError struct {
	SessionID    string `json:"session_id"`
	Reason       string `json:"reason"`
	PartialDraft string `json:"partial_draft,omitempty"`
	Err          error  `json:"-"`
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
}

func (e *SessionError) Unwrap() error { return e.Err }
