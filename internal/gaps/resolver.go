package gaps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/config"
	"github.com/meridian-search/reasoner/internal/sources"
)

// Resolution is the outcome for one gap. Exactly one of Content or
// Hint is set: Content when the gap resolved (with SourceID pointing
// at the new tier-6 record), Hint when the channel was disabled or the
// provider failed and the next draft should hedge.
type Resolution struct {
	Gap      agents.GapResolution
	Resolved bool
	Content  string
	SourceID int
	Hint     string
}

// ContextLine renders the resolution for the next iteration's prompt.
func (r Resolution) ContextLine() string {
	if r.Resolved {
		return fmt.Sprintf("[%d] (gap: %s) %s", r.SourceID, r.Gap.Description, r.Content)
	}
	return fmt.Sprintf("(gap unresolved: %s) %s", r.Gap.Description, r.Hint)
}

// Resolver dispatches gaps to channel providers concurrently and
// appends each resolved gap to the session's source map.
type Resolver struct {
	static    Provider
	providers map[agents.GapChannel]Provider
	timeout   time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	flags config.ProviderFlags
}

// NewResolver builds a resolver. static must be non-nil; network
// providers are looked up per gap and may be absent.
func NewResolver(static Provider, flags config.ProviderFlags, perGapTimeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perGapTimeout <= 0 {
		perGapTimeout = 10 * time.Second
	}
	r := &Resolver{
		static:    static,
		providers: make(map[agents.GapChannel]Provider),
		timeout:   perGapTimeout,
		logger:    logger,
		flags:     flags,
	}
	ep := flags.Endpoints
	r.providers[agents.ChannelWebSearch] = NewWebSearch(ep.WebSearchURL, ep.APIKey)
	r.providers[agents.ChannelStock] = NewStock(ep.StockURL, ep.APIKey)
	r.providers[agents.ChannelWeather] = NewWeather(ep.WeatherURL, ep.APIKey)
	r.providers[agents.ChannelEncyclopedia] = NewEncyclopedia(ep.EncyclopediaURL, ep.APIKey)
	r.providers[agents.ChannelCompany] = NewCompany(ep.CompanyURL, ep.APIKey)
	return r
}

// Register swaps in a provider for a channel. Used by tests and by
// deployments with custom backends.
func (r *Resolver) Register(channel agents.GapChannel, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel == agents.ChannelStaticKnowledge {
		r.static = p
		return
	}
	r.providers[channel] = p
}

// SetFlags replaces the channel enable flags. Safe to call while
// resolutions are in flight; the new flags apply to later rounds.
func (r *Resolver) SetFlags(flags config.ProviderFlags) {
	r.mu.Lock()
	r.flags = flags
	r.mu.Unlock()
}

// Resolve fans out over the gaps concurrently, joins within the
// per-gap timeout, and appends one tier-6 source record per resolved
// gap. One channel's failure never blocks the others; the session
// proceeds with whatever subset resolved. Results are returned in gap
// order.
func (r *Resolver) Resolve(ctx context.Context, gapList []agents.GapResolution, sm *sources.SourceMap) []Resolution {
	if len(gapList) == 0 {
		return nil
	}

	results := make([]Resolution, len(gapList))
	g, ctx := errgroup.WithContext(ctx)
	for i, gap := range gapList {
		i, gap := i, gap
		g.Go(func() error {
			results[i] = r.resolveOne(ctx, gap, sm)
			return nil
		})
	}
	// Workers honor per-gap timeouts themselves; no error surfaces.
	_ = g.Wait()
	return results
}

func (r *Resolver) resolveOne(ctx context.Context, gap agents.GapResolution, sm *sources.SourceMap) Resolution {
	channel := gap.Channel
	if !channel.Valid() {
		channel = agents.ChannelStaticKnowledge
	}

	provider, hint := r.pick(channel)
	if provider == nil {
		r.logger.Info("gap channel disabled",
			zap.String("channel", string(channel)),
			zap.String("gap", gap.Description))
		return Resolution{Gap: gap, Hint: hint}
	}

	query := gap.SearchQuery
	if query == "" {
		query = gap.Description
	}
	if channel == agents.ChannelStaticKnowledge && gap.Answer != "" {
		query = fmt.Sprintf("Proposed answer: %s\n\nQuestion: %s", gap.Answer, query)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := provider.Fetch(callCtx, query)
	if err != nil {
		r.logger.Warn("gap resolution failed",
			zap.String("channel", string(channel)),
			zap.String("gap", gap.Description),
			zap.Error(err))
		return Resolution{
			Gap:  gap,
			Hint: "external lookup attempted and failed",
		}
	}

	rec := sm.Append(sources.SourceRecord{
		Tier:    sources.EnrichmentTier,
		Kind:    originFor(channel),
		Locator: fmt.Sprintf("urn:reasoner:%s:%s", channel, uuid.NewString()),
		Label:   "Enrichment",
		Title:   res.Title,
		Snippet: res.Attribution,
	})
	r.logger.Debug("gap resolved",
		zap.String("channel", string(channel)),
		zap.Int("source_id", rec.ID))
	return Resolution{
		Gap:      gap,
		Resolved: true,
		Content:  res.Content,
		SourceID: rec.ID,
	}
}

// pick returns the provider for a channel, or nil plus the hint text
// when the channel is switched off.
func (r *Resolver) pick(channel agents.GapChannel) (Provider, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if channel == agents.ChannelStaticKnowledge {
		return r.static, ""
	}
	if !r.flags.Enabled(string(channel)) {
		return nil, "this needs external lookup; not performed"
	}
	return r.providers[channel], "this needs external lookup; not performed"
}

func originFor(channel agents.GapChannel) sources.OriginKind {
	switch channel {
	case agents.ChannelWebSearch:
		return sources.OriginWeb
	case agents.ChannelStock:
		return sources.OriginStock
	case agents.ChannelWeather:
		return sources.OriginWeather
	case agents.ChannelEncyclopedia:
		return sources.OriginEncyclopedia
	case agents.ChannelCompany:
		return sources.OriginCompany
	default:
		return sources.OriginLLMKnowledge
	}
}
