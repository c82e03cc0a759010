// Package policy decides which Home Assistant entities the gateway may
// expose and control. The same policy gates both context curation and
// tool dispatch: curation is a hint to the model, dispatch is the
// enforcement point.
package policy

import (
	"path"
	"strings"
)

// Policy is the immutable filter loaded once at startup.
type Policy struct {
	// AllowedDomains is the set of controllable domains (light, lock, ...).
	// An entity outside these domains is excluded regardless of patterns.
	AllowedDomains []string

	// AllowPatterns are glob patterns over entity IDs. When non-empty,
	// an entity must match at least one of them.
	AllowPatterns []string

	// BlockPatterns are glob patterns over entity IDs. A match excludes
	// the entity even if an allow pattern also matches.
	BlockPatterns []string
}

// AllowsDomain reports whether the domain is in the allowlist.
// An empty allowlist admits every domain.
func (p *Policy) AllowsDomain(domain string) bool {
	if len(p.AllowedDomains) == 0 {
		return true
	}
	for _, d := range p.AllowedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// AllowsEntity reports whether the entity passes the full policy:
// domain allowlist first, then block patterns, then allow patterns.
func (p *Policy) AllowsEntity(entityID string) bool {
	if !p.AllowsDomain(EntityDomain(entityID)) {
		return false
	}
	if matchesAny(p.BlockPatterns, entityID) {
		return false
	}
	if len(p.AllowPatterns) > 0 && !matchesAny(p.AllowPatterns, entityID) {
		return false
	}
	return true
}

// EntityDomain extracts the domain from an entity ID such as
// "light.kitchen". IDs without a dot have no domain.
func EntityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}

func matchesAny(patterns []string, value string) bool {
	for _, pat := range patterns {
		if ok, err := path.Match(pat, value); err == nil && ok {
			return true
		}
	}
	return false
}
