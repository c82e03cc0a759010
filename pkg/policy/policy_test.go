package policy

import "testing"

func TestAllowsDomain(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		domain  string
		want    bool
	}{
		{"empty list admits all", nil, "light", true},
		{"listed domain", []string{"light", "switch"}, "light", true},
		{"unlisted domain", []string{"light", "switch"}, "lock", false},
		{"empty domain against list", []string{"light"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Policy{AllowedDomains: tt.domains}
			if got := p.AllowsDomain(tt.domain); got != tt.want {
				t.Errorf("AllowsDomain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestAllowsEntity(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		entityID string
		want     bool
	}{
		{
			name:     "no restrictions",
			policy:   Policy{},
			entityID: "light.kitchen",
			want:     true,
		},
		{
			name:     "domain gate rejects even with matching allow pattern",
			policy:   Policy{AllowedDomains: []string{"light"}, AllowPatterns: []string{"lock.*"}},
			entityID: "lock.front_door",
			want:     false,
		},
		{
			name:     "block pattern beats allow pattern",
			policy:   Policy{AllowPatterns: []string{"light.*"}, BlockPatterns: []string{"light.bedroom"}},
			entityID: "light.bedroom",
			want:     false,
		},
		{
			name:     "allow pattern admits",
			policy:   Policy{AllowPatterns: []string{"light.*"}},
			entityID: "light.kitchen",
			want:     true,
		},
		{
			name:     "allow pattern excludes non-match",
			policy:   Policy{AllowPatterns: []string{"light.*"}},
			entityID: "switch.fan",
			want:     false,
		},
		{
			name:     "block without allow list",
			policy:   Policy{BlockPatterns: []string{"switch.*"}},
			entityID: "switch.fan",
			want:     false,
		},
		{
			name:     "domain allowed, no patterns",
			policy:   Policy{AllowedDomains: []string{"light", "switch"}},
			entityID: "switch.fan",
			want:     true,
		},
		{
			name:     "glob question mark",
			policy:   Policy{AllowPatterns: []string{"light.room_?"}},
			entityID: "light.room_2",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.AllowsEntity(tt.entityID); got != tt.want {
				t.Errorf("AllowsEntity(%q) = %v, want %v", tt.entityID, got, tt.want)
			}
		})
	}
}

func TestEntityDomain(t *testing.T) {
	tests := []struct {
		entityID string
		want     string
	}{
		{"light.kitchen", "light"},
		{"climate.living_room", "climate"},
		{"nodomain", ""},
		{".leading_dot", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := EntityDomain(tt.entityID); got != tt.want {
			t.Errorf("EntityDomain(%q) = %q, want %q", tt.entityID, got, tt.want)
		}
	}
}

func TestMalformedPatternIgnored(t *testing.T) {
	// path.Match errors on a bad pattern; a broken pattern must not
	// accidentally admit or block everything.
	p := &Policy{BlockPatterns: []string{"[invalid"}}
	if !p.AllowsEntity("light.kitchen") {
		t.Error("Malformed block pattern should not block")
	}

	p = &Policy{AllowPatterns: []string{"[invalid"}}
	if p.AllowsEntity("light.kitchen") {
		t.Error("Malformed allow pattern should not admit")
	}
}
