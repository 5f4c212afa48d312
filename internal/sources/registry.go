package sources

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTier is assigned to domains the registry does not know.
const DefaultTier = 4

// Registry maps source domains to trust tiers (1 = most authoritative).
// Tier membership is consumed from an external registry file; the
// reasoner never computes it.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]int
	labels  map[int]string
}

// registryFile is the on-disk YAML shape for the tier registry.
type registryFile struct {
	Domains map[string]int `yaml:"domains"`
	Labels  map[int]string `yaml:"labels"`
}

var defaultTierLabels = map[int]string{
	1: "Official / Primary",
	2: "Mainstream Media",
	3: "Industry Press",
	4: "Community",
	5: "User-Generated",
	6: "Enriched Knowledge",
}

// NewRegistry builds an empty registry with default tier labels.
// Every lookup falls back to DefaultTier until domains are loaded.
func NewRegistry() *Registry {
	labels := make(map[int]string, len(defaultTierLabels))
	for k, v := range defaultTierLabels {
		labels[k] = v
	}
	return &Registry{
		domains: make(map[string]int),
		labels:  labels,
	}
}

// LoadRegistry reads a tier registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier registry: %w", err)
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse tier registry: %w", err)
	}
	r := NewRegistry()
	for domain, tier := range rf.Domains {
		if tier < 1 || tier > 5 {
			return nil, fmt.Errorf("tier registry: domain %q has out-of-range tier %d", domain, tier)
		}
		r.domains[normalizeDomain(domain)] = tier
	}
	for tier, label := range rf.Labels {
		r.labels[tier] = label
	}
	return r, nil
}

// SetTier registers or overrides a domain's tier.
func (r *Registry) SetTier(domain string, tier int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[normalizeDomain(domain)] = tier
}

// TierOf returns the tier for a domain, defaulting to DefaultTier for
// unknown domains.
func (r *Registry) TierOf(domain string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := normalizeDomain(domain)
	if tier, ok := r.domains[d]; ok {
		return tier
	}
	// Fall back to the registrable parent (news.example.com -> example.com).
	if i := strings.Index(d, "."); i >= 0 {
		if tier, ok := r.domains[d[i+1:]]; ok {
			return tier
		}
	}
	return DefaultTier
}

// Label returns the display label for a tier.
func (r *Registry) Label(tier int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if label, ok := r.labels[tier]; ok {
		return label
	}
	return fmt.Sprintf("Tier %d", tier)
}

func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "www.")
	return d
}
