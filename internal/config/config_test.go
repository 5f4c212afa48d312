package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Research.MaxIterations)
	assert.Equal(t, 2, cfg.Research.EscalationThreshold)
	assert.InDelta(t, 3.0, cfg.Research.InflationMargin, 0.001)
	assert.Equal(t, 20000, cfg.Budget.ContextCharBudget)
	// Network channels default off; there is no flag for static knowledge.
	assert.False(t, cfg.Providers.WebSearch)
	assert.False(t, cfg.Providers.Stock)
	assert.False(t, cfg.Providers.Weather)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reasoner.yaml")
	data := []byte(`
research:
  max_iterations: 5
providers:
  web_search: true
timeouts:
  gap_provider: 3s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Research.MaxIterations)
	assert.True(t, cfg.Providers.WebSearch)
	assert.False(t, cfg.Providers.Stock)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.GapProvider)
	// Untouched knobs keep defaults.
	assert.Equal(t, 2, cfg.Research.EscalationThreshold)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Research.MaxIterations = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Timeouts.GapProvider = cfg.Timeouts.Critic + time.Second
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestProviderFlagsEnabled(t *testing.T) {
	p := ProviderFlags{WebSearch: true, Weather: true}
	assert.True(t, p.Enabled("web_search"))
	assert.True(t, p.Enabled("weather"))
	assert.False(t, p.Enabled("stock"))
	assert.False(t, p.Enabled("nonsense"))
}

func TestWatcherReloadsProviderFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reasoner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  web_search: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, cfg.Providers, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan ProviderFlags, 1)
	w.OnChange(func(f ProviderFlags) {
		select {
		case changed <- f:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("providers:\n  web_search: true\n"), 0o644))

	select {
	case f := <-changed:
		assert.True(t, f.WebSearch)
		assert.True(t, w.Flags().WebSearch)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not observe config change")
	}
}
