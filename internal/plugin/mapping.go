package plugin

import "github.com/emfoursolutions/trakbridge-sub002/internal/model"

// identifierValue extracts the mapping identifier from a position. The
// built-in fields "uid" and "name" are always available; anything else is
// looked up in the position's Extra map.
func identifierValue(p *model.Position, field string) string {
	switch field {
	case "", "uid":
		return p.UID
	case "name":
		return p.Name
	default:
		return p.ExtraString(field)
	}
}

// applyMappings is the shared callsign-mapping implementation used by the
// built-in providers. It renames mapped positions in place, attaches team
// metadata and per-device type overrides through Extra, and drops positions
// whose mapping is disabled. Unmapped positions pass through unchanged, as
// does any position whose identifier cannot be resolved: a mapping failure
// for one position is never fatal to the batch.
func applyMappings(positions []model.Position, field string, mappings map[string]model.CallsignMapping) []model.Position {
	if len(mappings) == 0 {
		return positions
	}
	out := positions[:0]
	for i := range positions {
		p := positions[i]
		id := identifierValue(&p, field)
		m, ok := mappings[id]
		if !ok || id == "" {
			out = append(out, p)
			continue
		}
		if !m.Enabled {
			continue
		}
		if m.Callsign != "" {
			p.Name = m.Callsign
		}
		if m.CotTypeOverride != "" {
			p.SetExtra(model.ExtraCotTypeOverride, m.CotTypeOverride)
		}
		if m.TeamColor != "" {
			p.SetExtra(model.ExtraTeamColor, m.TeamColor)
		}
		if m.TeamRole != "" {
			p.SetExtra(model.ExtraTeamRole, m.TeamRole)
		}
		out = append(out, p)
	}
	return out
}
