package gaps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/config"
	"github.com/meridian-search/reasoner/internal/sources"
)

type fakeProvider struct {
	name    string
	delay   time.Duration
	result  Result
	err     error
	invoked int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, query string) (Result, error) {
	f.invoked++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func newTestResolver(t *testing.T, flags config.ProviderFlags, timeout time.Duration) *Resolver {
	t.Helper()
	static := &fakeProvider{
		name:   "static_knowledge",
		result: Result{Content: "EUV lithography uses 13.5nm light.", Title: "Synthesized: EUV"},
	}
	return NewResolver(static, flags, timeout, zap.NewNop())
}

func TestStaticChannelAlwaysEnabled(t *testing.T) {
	// All network channels off.
	r := newTestResolver(t, config.ProviderFlags{}, time.Second)
	sm := sources.NewSourceMap()

	res := r.Resolve(context.Background(), []agents.GapResolution{{
		Description: "what is EUV lithography",
		Channel:     agents.ChannelStaticKnowledge,
	}}, sm)

	require.Len(t, res, 1)
	assert.True(t, res[0].Resolved)
	require.Equal(t, 1, sm.Len())

	rec, ok := sm.Get(res[0].SourceID)
	require.True(t, ok)
	assert.Equal(t, sources.OriginLLMKnowledge, rec.Kind)
	assert.Equal(t, sources.EnrichmentTier, rec.Tier)
	assert.True(t, strings.HasPrefix(rec.Locator, "urn:reasoner:static_knowledge:"),
		"locator must be synthetic, got %q", rec.Locator)
	assert.NotContains(t, rec.Locator, "http")
}

func TestDisabledNetworkChannelYieldsHint(t *testing.T) {
	r := newTestResolver(t, config.ProviderFlags{}, time.Second)
	sm := sources.NewSourceMap()

	res := r.Resolve(context.Background(), []agents.GapResolution{{
		Description: "current TSMC share price",
		Channel:     agents.ChannelStock,
	}}, sm)

	require.Len(t, res, 1)
	assert.False(t, res[0].Resolved)
	assert.Contains(t, res[0].Hint, "not performed")
	assert.Zero(t, sm.Len())
	assert.Contains(t, res[0].ContextLine(), "gap unresolved")
}

func TestProviderFailureAbsorbed(t *testing.T) {
	r := newTestResolver(t, config.ProviderFlags{WebSearch: true}, time.Second)
	r.Register(agents.ChannelWebSearch, &fakeProvider{name: "web_search", err: errors.New("upstream 503")})
	sm := sources.NewSourceMap()

	res := r.Resolve(context.Background(), []agents.GapResolution{{
		Description: "recent fab announcements",
		Channel:     agents.ChannelWebSearch,
		SearchQuery: "fab announcements 2026",
	}}, sm)

	require.Len(t, res, 1)
	assert.False(t, res[0].Resolved)
	// A failed lookup hedges differently from one that never ran.
	assert.Equal(t, "external lookup attempted and failed", res[0].Hint)
	assert.NotContains(t, res[0].Hint, "not performed")
	assert.Zero(t, sm.Len())
}

func TestParallelResolutionBoundedByTimeout(t *testing.T) {
	// One provider takes 5s against a 3s per-gap timeout, the other
	// fails after 1s. The round must take about the timeout, not the
	// sum, and yield exactly one resolution.
	r := newTestResolver(t, config.ProviderFlags{WebSearch: true, Stock: true}, 3*time.Second)
	r.Register(agents.ChannelWebSearch, &fakeProvider{
		name:  "web_search",
		delay: 5 * time.Second,
		result: Result{Content: "never arrives"},
	})
	r.Register(agents.ChannelStock, &fakeProvider{
		name:  "stock",
		delay: time.Second,
		err:   errors.New("symbol not found"),
	})
	sm := sources.NewSourceMap()

	start := time.Now()
	res := r.Resolve(context.Background(), []agents.GapResolution{
		{Description: "web gap", Channel: agents.ChannelWebSearch},
		{Description: "stock gap", Channel: agents.ChannelStock},
		{Description: "static gap", Channel: agents.ChannelStaticKnowledge},
	}, sm)
	elapsed := time.Since(start)

	require.Len(t, res, 3)
	assert.False(t, res[0].Resolved)
	assert.False(t, res[1].Resolved)
	assert.True(t, res[2].Resolved)
	assert.Equal(t, 1, sm.Len())

	assert.Greater(t, elapsed, 2500*time.Millisecond)
	assert.Less(t, elapsed, 4500*time.Millisecond,
		"resolution must join at the timeout, not serialize the calls")
}

func TestInvalidChannelFallsBackToStatic(t *testing.T) {
	r := newTestResolver(t, config.ProviderFlags{}, time.Second)
	sm := sources.NewSourceMap()

	res := r.Resolve(context.Background(), []agents.GapResolution{{
		Description: "something",
		Channel:     agents.GapChannel("teleport"),
	}}, sm)

	require.Len(t, res, 1)
	assert.True(t, res[0].Resolved)
	rec, _ := sm.Get(res[0].SourceID)
	assert.Equal(t, sources.OriginLLMKnowledge, rec.Kind)
}

func TestConcurrentAppendsKeepIDsStable(t *testing.T) {
	r := newTestResolver(t, config.ProviderFlags{}, time.Second)
	sm := sources.NewSourceMap()
	sm.Append(sources.SourceRecord{Tier: 1, Kind: sources.OriginDocument, Locator: "https://example.com/a"})

	var gapList []agents.GapResolution
	for i := 0; i < 8; i++ {
		gapList = append(gapList, agents.GapResolution{
			Description: "gap",
			Channel:     agents.ChannelStaticKnowledge,
		})
	}

	res := r.Resolve(context.Background(), gapList, sm)

	assert.Equal(t, 9, sm.Len())
	seen := make(map[int]bool)
	for _, re := range res {
		require.True(t, re.Resolved)
		assert.False(t, seen[re.SourceID], "duplicate source id %d", re.SourceID)
		seen[re.SourceID] = true
	}
}

func TestSetFlagsAppliesToLaterRounds(t *testing.T) {
	r := newTestResolver(t, config.ProviderFlags{}, time.Second)
	r.Register(agents.ChannelWeather, &fakeProvider{
		name:   "weather",
		result: Result{Content: "Taipei: 31.0°C, humid", Title: "Weather for Taipei"},
	})
	sm := sources.NewSourceMap()
	gap := []agents.GapResolution{{Description: "weather in Taipei", Channel: agents.ChannelWeather}}

	res := r.Resolve(context.Background(), gap, sm)
	assert.False(t, res[0].Resolved)

	r.SetFlags(config.ProviderFlags{Weather: true})
	res = r.Resolve(context.Background(), gap, sm)
	assert.True(t, res[0].Resolved)
}
