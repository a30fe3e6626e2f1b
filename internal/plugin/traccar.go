package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func init() {
	Register("traccar", func() Provider { return &traccarProvider{} })
}

// knotsToMPS converts Traccar's speed unit (knots) to metres per second.
const knotsToMPS = 0.514444

// traccarProvider polls a Traccar fleet-tracking server's REST API.
type traccarProvider struct{}

func (t *traccarProvider) Name() string { return "traccar" }

func (t *traccarProvider) Metadata() Metadata {
	return Metadata{
		DisplayName: "Traccar Server",
		Category:    "fleet",
		ConfigFields: []ConfigField{
			{Name: "base_url", Label: "Server URL", Type: "url", Required: true},
			{Name: "username", Label: "Username", Type: "string", Required: true},
			{Name: "password", Label: "Password", Type: "password", Required: true, Sensitive: true},
		},
		HelpSections: []HelpSection{{
			Title: "API access",
			Lines: []string{
				"Use a read-only Traccar account; the pipeline only lists devices and positions.",
			},
		}},
	}
}

func (t *traccarProvider) ValidateConfig(cfg map[string]any) (bool, []string) {
	ok, warnings := requireFields(cfg, "base_url", "username", "password")
	if u := cfgString(cfg, "base_url"); u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		warnings = append(warnings, "base_url should start with http:// or https://")
		ok = false
	}
	return ok, warnings
}

func (t *traccarProvider) TestConnection(ctx context.Context, client *http.Client, cfg map[string]any) TestResult {
	devices, err := t.fetchDevices(ctx, client, cfg)
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	return TestResult{Success: true, Details: map[string]any{"devices": len(devices)}}
}

type traccarDevice struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	UniqueID string `json:"uniqueId"`
	Status   string `json:"status"`
}

type traccarPosition struct {
	DeviceID   int64          `json:"deviceId"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Altitude   float64        `json:"altitude"`
	Speed      float64        `json:"speed"` // knots
	Course     float64        `json:"course"`
	FixTime    time.Time      `json:"fixTime"`
	DeviceTime time.Time      `json:"deviceTime"`
	Attributes map[string]any `json:"attributes"`
}

func (t *traccarProvider) Fetch(ctx context.Context, client *http.Client, cfg map[string]any) ([]model.Position, error) {
	devices, err := t.fetchDevices(ctx, client, cfg)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]traccarDevice, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}

	body, err := t.get(ctx, client, cfg, "/api/positions")
	if err != nil {
		return nil, err
	}
	var raw []traccarPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ParseError("decode positions", err)
	}

	positions := make([]model.Position, 0, len(raw))
	for _, r := range raw {
		ts := r.FixTime
		if ts.IsZero() {
			ts = r.DeviceTime
		}
		dev := byID[r.DeviceID]
		uid := dev.UniqueID
		if uid == "" {
			uid = strconv.FormatInt(r.DeviceID, 10)
		}
		name := dev.Name
		if name == "" {
			name = uid
		}
		p := model.Position{
			UID:       "traccar-" + uid,
			Name:      name,
			Lat:       r.Latitude,
			Lon:       r.Longitude,
			Timestamp: ts.UTC(),
			Altitude:  floatPtr(r.Altitude),
			SpeedMPS:  floatPtr(r.Speed * knotsToMPS),
			CourseDeg: floatPtr(r.Course),
		}
		p.SetExtra("device_id", strconv.FormatInt(r.DeviceID, 10))
		p.SetExtra("device_status", dev.Status)
		positions = append(positions, p)
	}
	return positions, nil
}

func (t *traccarProvider) fetchDevices(ctx context.Context, client *http.Client, cfg map[string]any) ([]traccarDevice, error) {
	body, err := t.get(ctx, client, cfg, "/api/devices")
	if err != nil {
		return nil, err
	}
	var devices []traccarDevice
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, ParseError("decode devices", err)
	}
	return devices, nil
}

func (t *traccarProvider) get(ctx context.Context, client *http.Client, cfg map[string]any, path string) ([]byte, error) {
	base := strings.TrimSuffix(cfgString(cfg, "base_url"), "/")
	if base == "" {
		return nil, AuthError("base_url is not configured")
	}
	user := cfgString(cfg, "username")
	pass := cfgString(cfg, "password")
	return httpGet(ctx, client, fmt.Sprintf("%s%s", base, path), func(req *http.Request) {
		req.SetBasicAuth(user, pass)
		req.Header.Set("Accept", "application/json")
	})
}

func (t *traccarProvider) AvailableFields() []FieldMeta {
	return []FieldMeta{
		{Name: "uid", Label: "Device UID"},
		{Name: "name", Label: "Device name"},
		{Name: "device_id", Label: "Traccar device ID"},
	}
}

func (t *traccarProvider) ApplyCallsignMapping(positions []model.Position, field string, mappings map[string]model.CallsignMapping) []model.Position {
	return applyMappings(positions, field, mappings)
}
