package scoring

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stitts-dev/race-sim/internal/profile"
)

type registryKey struct {
	site   string
	series profile.Series
}

// Registry resolves rule sets by site and series.
type Registry struct {
	mu    sync.RWMutex
	rules map[registryKey]*RuleSet
}

// NewRegistry returns a registry holding the built-in DraftKings rule sets.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[registryKey]*RuleSet)}
	r.Register(DraftKingsNascar())
	r.Register(DraftKingsF1())
	return r
}

// Register adds or replaces the rule set for its site and series.
func (r *Registry) Register(rs *RuleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[registryKey{rs.Site, rs.Series}] = rs
}

func (r *Registry) Lookup(site string, series profile.Series) (*RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rules[registryKey{site, series}]
	if !ok {
		return nil, &ConfigurationError{Site: site, Series: series, Reason: "no scoring rules registered"}
	}
	return rs, nil
}

// Sites lists the sites that score series.
func (r *Registry) Sites(series profile.Series) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sites []string
	for k := range r.rules {
		if k.series == series {
			sites = append(sites, k.site)
		}
	}
	sort.Strings(sites)
	return sites
}

// LoadRuleSet decodes a YAML rule set.
func LoadRuleSet(rd io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("failed to decode scoring rules: %w", err)
	}
	if rs.Site == "" || rs.Series == "" {
		return nil, &ConfigurationError{Site: rs.Site, Series: rs.Series, Reason: "site and series are required"}
	}
	return &rs, nil
}
