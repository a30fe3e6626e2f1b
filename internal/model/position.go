// Package model defines the data types shared across the TrakBridge pipeline:
// normalized position reports, stream and TAK server configurations, and
// callsign mappings. Configuration values are treated as immutable snapshots
// once handed to a worker; changes go through the orchestrator.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPosition wraps all position validation failures.
var ErrInvalidPosition = errors.New("invalid position")

// Well-known keys in Position.Extra, set by callsign mapping and consumed by
// the CoT builder.
const (
	ExtraCotTypeOverride = "cot_type_override"
	ExtraTeamColor       = "team_color"
	ExtraTeamRole        = "team_role"
)

// Position is a single normalized position report produced by a provider
// plug-in. Optional numeric fields are pointers so that absence is
// distinguishable from zero.
type Position struct {
	UID         string
	Name        string
	Lat         float64
	Lon         float64
	Timestamp   time.Time
	Altitude    *float64
	SpeedMPS    *float64
	CourseDeg   *float64
	Description string
	CotTypeHint string
	Extra       map[string]any
}

// Validate checks the invariants every position must satisfy before it enters
// the pipeline. Invalid positions are dropped by the stream worker, never
// propagated.
func (p *Position) Validate() error {
	if p.UID == "" {
		return fmt.Errorf("%w: missing uid", ErrInvalidPosition)
	}
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return fmt.Errorf("%w: NaN coordinate for %s", ErrInvalidPosition, p.UID)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range for %s", ErrInvalidPosition, p.Lat, p.UID)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of range for %s", ErrInvalidPosition, p.Lon, p.UID)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for %s", ErrInvalidPosition, p.UID)
	}
	return nil
}

// SetExtra stores a key in the Extra map, allocating it on first use.
func (p *Position) SetExtra(key string, value any) {
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
}

// ExtraString returns Extra[key] as a string, or "" if absent or not a string.
func (p *Position) ExtraString(key string) string {
	if p.Extra == nil {
		return ""
	}
	s, _ := p.Extra[key].(string)
	return s
}
