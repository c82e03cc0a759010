// Package curate builds the bounded, filtered device inventory injected
// into the remote session at priming time. Given the same inventory and
// policy the output is identical, including the truncation point, so
// session priming stays reproducible.
package curate

import (
	"fmt"
	"strings"

	"github.com/hearthware/go-hearth/pkg/hass"
	"github.com/hearthware/go-hearth/pkg/policy"
)

// Filter applies the policy to the fetched inventory and truncates to at
// most max entries, preserving fetch order. max <= 0 means no limit.
func Filter(entities []hass.Entity, pol *policy.Policy, max int) []hass.Entity {
	out := make([]hass.Entity, 0, len(entities))
	for _, ent := range entities {
		if ent.ID == "" {
			continue
		}
		if !pol.AllowsEntity(ent.ID) {
			continue
		}
		out = append(out, ent)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// ContextLines renders one compact line per entity for prompt injection.
func ContextLines(entities []hass.Entity) []string {
	if len(entities) == 0 {
		return []string{"(No entities matched the current filters.)"}
	}
	lines := make([]string, 0, len(entities))
	for _, ent := range entities {
		// Keep it short: Name (entity_id) = state
		lines = append(lines, fmt.Sprintf("- %s (%s) = %s", ent.Name, ent.ID, ent.State))
	}
	return lines
}

// FallbackLines is used when the inventory could not be fetched at all.
func FallbackLines() []string {
	return []string{"(Could not fetch Home Assistant entity list.)"}
}

// SystemPrompt builds the remote session priming instructions around the
// curated device list. In realtime voice, prompt bloat is latency bloat,
// so this stays tight.
func SystemPrompt(entityLines []string) string {
	var b strings.Builder
	b.WriteString("You are a voice-first smart home assistant running inside Home Assistant.\n")
	b.WriteString("\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Be concise in speech.\n")
	b.WriteString("- When you need to control the smart home, call the tool `control_home_assistant`.\n")
	b.WriteString("- Always use an entity_id from the device list below; do NOT invent entity_ids.\n")
	b.WriteString("- If you cannot find a matching device, ask a short clarifying question or say you can't find it.\n")
	b.WriteString("- Confirm actions briefly after tool success.\n")
	b.WriteString("\n")
	b.WriteString("Device list (name, entity_id, state):\n")
	b.WriteString(strings.Join(entityLines, "\n"))
	b.WriteString("\n")
	return b.String()
}
