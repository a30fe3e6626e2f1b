package model

import (
	"fmt"
	"time"
)

// CotTypeMode selects how the CoT event type is chosen for a stream's
// positions.
type CotTypeMode string

const (
	// CotTypeModeStream uses the stream's default type for every position.
	CotTypeModeStream CotTypeMode = "stream"
	// CotTypeModePerPoint prefers the provider's per-position type hint.
	CotTypeModePerPoint CotTypeMode = "per_point"
)

// CallsignMapping renames one device identity and optionally attaches
// team-member metadata. Disabled mappings cause the position to be dropped.
type CallsignMapping struct {
	Callsign        string `json:"callsign"`
	Enabled         bool   `json:"enabled"`
	CotTypeOverride string `json:"cot_type_override,omitempty"`
	TeamRole        string `json:"team_role,omitempty"`
	TeamColor       string `json:"team_color,omitempty"`
}

// StreamConfig is one configured provider polling pipeline bound to one or
// more destination TAK servers.
type StreamConfig struct {
	ID                      int64                      `json:"id"`
	Name                    string                     `json:"name"`
	Enabled                 bool                       `json:"enabled"`
	PluginType              string                     `json:"plugin_type"`
	PluginConfig            map[string]any             `json:"plugin_config"`
	PollIntervalSeconds     int                        `json:"poll_interval_seconds"`
	CotTypeDefault          string                     `json:"cot_type_default"`
	CotStaleSeconds         int                        `json:"cot_stale_seconds"`
	CotTypeMode             CotTypeMode                `json:"cot_type_mode"`
	Destinations            []int64                    `json:"destinations"`
	EnableCallsignMapping   bool                       `json:"enable_callsign_mapping"`
	CallsignIdentifierField string                     `json:"callsign_identifier_field,omitempty"`
	CallsignMappings        map[string]CallsignMapping `json:"callsign_mappings,omitempty"`
}

// PollInterval returns the polling cadence as a duration.
func (s StreamConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Validate rejects stream configurations that can never run. The orchestrator
// skips invalid streams without affecting the others.
func (s StreamConfig) Validate() error {
	if s.PluginType == "" {
		return fmt.Errorf("stream %d: plugin_type is required", s.ID)
	}
	if s.PollIntervalSeconds <= 0 {
		return fmt.Errorf("stream %d: poll_interval_seconds must be positive", s.ID)
	}
	if s.CotStaleSeconds <= 0 {
		return fmt.Errorf("stream %d: cot_stale_seconds must be positive", s.ID)
	}
	if len(s.Destinations) == 0 {
		return fmt.Errorf("stream %d: at least one destination is required", s.ID)
	}
	if s.CotTypeMode != CotTypeModeStream && s.CotTypeMode != CotTypeModePerPoint {
		return fmt.Errorf("stream %d: unknown cot_type_mode %q", s.ID, s.CotTypeMode)
	}
	return nil
}

// Protocol is the transport used to reach a TAK server.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
)

// TLSMaterial holds the client identity and server trust settings for a TLS
// destination. Either CAPEM or Fingerprint (SHA-256 of the server leaf
// certificate, hex, optionally colon-separated) anchors server verification.
type TLSMaterial struct {
	CertPEM     []byte `json:"cert_pem,omitempty"`
	KeyPEM      []byte `json:"key_pem,omitempty"`
	CAPEM       []byte `json:"ca_pem,omitempty"`
	ServerName  string `json:"server_name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ServerConfig is one destination TAK server endpoint plus its transport
// settings.
type ServerConfig struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	Protocol Protocol     `json:"protocol"`
	TLS      *TLSMaterial `json:"tls,omitempty"`
}

// Addr returns the host:port dial address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate rejects server configurations that can never be dialled.
func (s ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("server %d: host is required", s.ID)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server %d: port %d out of range", s.ID, s.Port)
	}
	if s.Protocol != ProtocolTCP && s.Protocol != ProtocolTLS {
		return fmt.Errorf("server %d: unknown protocol %q", s.ID, s.Protocol)
	}
	return nil
}
