package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func init() {
	Register("deepstate", func() Provider { return &deepstateProvider{} })
}

const deepstateDefaultURL = "https://deepstatemap.live/api/history/last"

// deepstateProvider pulls the Deepstate OSINT map's latest snapshot, a
// GeoJSON feature collection. Snapshots routinely carry a few hundred
// features, which is the pipeline's large-batch scenario.
type deepstateProvider struct{}

func (d *deepstateProvider) Name() string { return "deepstate" }

func (d *deepstateProvider) Metadata() Metadata {
	return Metadata{
		DisplayName: "Deepstate Map",
		Category:    "osint",
		ConfigFields: []ConfigField{
			{Name: "api_url", Label: "API URL", Type: "url", Default: deepstateDefaultURL},
			{Name: "cot_type_hostile", Label: "CoT type for hostile markers", Type: "string", Default: "a-h-G"},
		},
	}
}

func (d *deepstateProvider) ValidateConfig(cfg map[string]any) (bool, []string) {
	return true, nil
}

func (d *deepstateProvider) TestConnection(ctx context.Context, client *http.Client, cfg map[string]any) TestResult {
	positions, err := d.Fetch(ctx, client, cfg)
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	return TestResult{Success: true, Details: map[string]any{"features": len(positions)}}
}

type deepstateResponse struct {
	// Map timestamps apply to every feature in the snapshot.
	UpdatedAt string `json:"updated_at"`
	Map       struct {
		Features []deepstateFeature `json:"features"`
	} `json:"map"`
}

type deepstateFeature struct {
	ID       json.Number `json:"id"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // lon, lat[, alt]
	} `json:"geometry"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

func (d *deepstateProvider) Fetch(ctx context.Context, client *http.Client, cfg map[string]any) ([]model.Position, error) {
	apiURL := cfgString(cfg, "api_url")
	if apiURL == "" {
		apiURL = deepstateDefaultURL
	}

	body, err := httpGet(ctx, client, apiURL, func(req *http.Request) {
		req.Header.Set("Accept", "application/json")
	})
	if err != nil {
		return nil, err
	}

	var resp deepstateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ParseError("decode deepstate snapshot", err)
	}

	// One snapshot timestamp for all features; fall back to now.
	ts := time.Now().UTC().Truncate(time.Second)
	if resp.UpdatedAt != "" {
		if parsed, err := time.Parse("2006-01-02 15:04:05", resp.UpdatedAt); err == nil {
			ts = parsed.UTC()
		}
	}

	hostileType := cfgString(cfg, "cot_type_hostile")
	if hostileType == "" {
		hostileType = "a-h-G"
	}

	positions := make([]model.Position, 0, len(resp.Map.Features))
	for _, f := range resp.Map.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		name := stripMarkup(f.Properties.Name)
		p := model.Position{
			UID:       fmt.Sprintf("deepstate-%s", f.ID.String()),
			Name:      name,
			Lat:       f.Geometry.Coordinates[1],
			Lon:       f.Geometry.Coordinates[0],
			Timestamp: ts,
		}
		if isHostile(name) {
			p.CotTypeHint = hostileType
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// stripMarkup removes the inline HTML Deepstate embeds in feature names.
func stripMarkup(s string) string {
	for {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			return strings.TrimSpace(s)
		}
		closeIdx := strings.IndexByte(s[open:], '>')
		if closeIdx < 0 {
			return strings.TrimSpace(s[:open])
		}
		s = s[:open] + s[open+closeIdx+1:]
	}
}

// isHostile flags the enemy-unit markers in the Deepstate feed.
func isHostile(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "enemy") ||
		strings.Contains(lower, "російськ") ||
		strings.Contains(lower, "окупант")
}
