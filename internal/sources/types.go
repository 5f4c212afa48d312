package sources

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoValidSources is returned when tier filtering leaves nothing to research.
	ErrNoValidSources = errors.New("no valid sources after tier filtering")
)

// NoValidSourcesError carries the context of a fatal empty filter result.
type NoValidSourcesError struct {
	Mode      Mode
	Candidate int
}

func (e *NoValidSourcesError) Error() string {
	return fmt.Sprintf("no valid sources after tier filtering: mode=%s candidates=%d", e.Mode, e.Candidate)
}

func (e *NoValidSourcesError) Unwrap() error { return ErrNoValidSources }

// Mode selects which source tiers participate in a research session.
type Mode string

const (
	// ModeStrict keeps tiers 1-2 only.
	ModeStrict Mode = "strict"
	// ModeDiscovery keeps tiers 1-5.
	ModeDiscovery Mode = "discovery"
	// ModeMonitor keeps tiers 1-5 and tags each source with a comparison
	// group for contrastive analysis.
	ModeMonitor Mode = "monitor"
)

// Valid reports whether m is a known research mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeStrict, ModeDiscovery, ModeMonitor:
		return true
	}
	return false
}

// OriginKind describes where a source record came from.
type OriginKind string

const (
	OriginDocument     OriginKind = "document"
	OriginLLMKnowledge OriginKind = "llm_knowledge"
	OriginWeb          OriginKind = "web"
	OriginStock        OriginKind = "stock"
	OriginWeather      OriginKind = "weather"
	OriginEncyclopedia OriginKind = "encyclopedia"
	OriginCompany      OriginKind = "company"
)

// Comparison groups assigned in monitor mode.
const (
	GroupAuthoritative = "authoritative" // tiers 1-2
	GroupGrassroots    = "grassroots"    // tiers 3-5
)

// EnrichmentTier is the tier assigned to knowledge derived during gap
// resolution rather than retrieved up front.
const EnrichmentTier = 6

// Document is a candidate document handed over by the retrieval layer.
// The reasoner never re-ranks documents; it filters by tier and cites
// them by the stable ids assigned in the session's source map.
type Document struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Domain      string     `json:"domain"`
	Relevance   float64    `json:"relevance"`
}

// SourceRecord is one citable entry in a session's source map: either a
// retrieved document or a virtual knowledge item produced by gap
// resolution. Once appended to a SourceMap a record is immutable.
type SourceRecord struct {
	ID              int        `json:"id"`
	Tier            int        `json:"tier"`
	Kind            OriginKind `json:"kind"`
	Locator         string     `json:"locator"`
	Label           string     `json:"label"`
	Title           string     `json:"title,omitempty"`
	Snippet         string     `json:"snippet,omitempty"`
	Domain          string     `json:"domain,omitempty"`
	ComparisonGroup string     `json:"comparison_group,omitempty"`
}
