// Package plugin defines the provider plug-in contract and hosts the built-in
// providers. A provider fetches provider-native data and returns normalized
// positions; everything downstream (CoT building, queueing, transmission) is
// provider-agnostic.
//
// Providers register themselves with the package registry at init time; the
// orchestrator selects one by the stream's plugin_type string.
package plugin

import (
	"context"
	"net/http"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// ConfigField describes one configuration option of a provider, used by the
// ops API to render and validate stream configuration. Sensitive fields are
// stored encrypted outside the core and resolved just before use.
type ConfigField struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"` // string, int, bool, password, url
	Required  bool   `json:"required"`
	Sensitive bool   `json:"sensitive"`
	Default   any    `json:"default,omitempty"`
	Help      string `json:"help,omitempty"`
}

// HelpSection is a titled block of operator documentation for a provider.
type HelpSection struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// Metadata describes a provider to the ops API.
type Metadata struct {
	DisplayName  string        `json:"display_name"`
	Category     string        `json:"category"`
	ConfigFields []ConfigField `json:"config_fields"`
	HelpSections []HelpSection `json:"help_sections,omitempty"`
}

// TestResult is the outcome of a connectivity probe against the provider.
type TestResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Provider is the contract every tracking provider implements.
//
// Fetch must honour ctx cancellation and deadline, must not retain references
// to the returned positions, and should reuse the caller-supplied HTTP
// client for network I/O. Failures are reported through the typed fetch
// errors in this package; they are logged by the stream worker and never kill
// it.
type Provider interface {
	Name() string
	Metadata() Metadata
	ValidateConfig(cfg map[string]any) (bool, []string)
	TestConnection(ctx context.Context, client *http.Client, cfg map[string]any) TestResult
	Fetch(ctx context.Context, client *http.Client, cfg map[string]any) ([]model.Position, error)
}

// FieldMeta names one position field usable as a callsign mapping identifier.
type FieldMeta struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Closer is the optional capability for providers that hold resources beyond
// a single Fetch call, such as a broker connection. The stream worker closes
// the provider when its stream stops.
type Closer interface {
	Close() error
}

// CallsignMapper is the optional capability for providers whose devices can
// be renamed through callsign mappings. ApplyCallsignMapping mutates the
// slice in place (renaming, attaching team metadata) and returns it with
// disabled entries dropped.
type CallsignMapper interface {
	AvailableFields() []FieldMeta
	ApplyCallsignMapping(positions []model.Position, field string, mappings map[string]model.CallsignMapping) []model.Position
}
