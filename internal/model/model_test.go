package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validPosition() Position {
	return Position{
		UID:       "dev-1",
		Name:      "Device One",
		Lat:       51.5,
		Lon:       -0.12,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPositionValidate(t *testing.T) {
	p := validPosition()
	assert.NoError(t, p.Validate())

	cases := []struct {
		name   string
		mutate func(*Position)
	}{
		{"missing uid", func(p *Position) { p.UID = "" }},
		{"nan lat", func(p *Position) { p.Lat = math.NaN() }},
		{"nan lon", func(p *Position) { p.Lon = math.NaN() }},
		{"lat too high", func(p *Position) { p.Lat = 90.1 }},
		{"lat too low", func(p *Position) { p.Lat = -90.1 }},
		{"lon too high", func(p *Position) { p.Lon = 180.1 }},
		{"lon too low", func(p *Position) { p.Lon = -180.1 }},
		{"zero timestamp", func(p *Position) { p.Timestamp = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPosition()
			tc.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPosition)
		})
	}
}

func TestPositionValidateBoundaries(t *testing.T) {
	p := validPosition()
	p.Lat, p.Lon = 90, -180
	assert.NoError(t, p.Validate())
	p.Lat, p.Lon = -90, 180
	assert.NoError(t, p.Validate())
}

func TestPositionExtra(t *testing.T) {
	p := validPosition()
	assert.Empty(t, p.ExtraString("anything"))
	p.SetExtra("k", "v")
	p.SetExtra("n", 7)
	assert.Equal(t, "v", p.ExtraString("k"))
	assert.Empty(t, p.ExtraString("n"), "non-string values read as empty")
}

func TestStreamConfigValidate(t *testing.T) {
	valid := StreamConfig{
		ID:                  1,
		PluginType:          "spot",
		PollIntervalSeconds: 60,
		CotStaleSeconds:     300,
		CotTypeMode:         CotTypeModeStream,
		Destinations:        []int64{1},
	}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, time.Minute, valid.PollInterval())

	cases := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"no plugin type", func(s *StreamConfig) { s.PluginType = "" }},
		{"zero interval", func(s *StreamConfig) { s.PollIntervalSeconds = 0 }},
		{"zero stale", func(s *StreamConfig) { s.CotStaleSeconds = 0 }},
		{"no destinations", func(s *StreamConfig) { s.Destinations = nil }},
		{"bad mode", func(s *StreamConfig) { s.CotTypeMode = "per_stream" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestServerConfigValidateAndAddr(t *testing.T) {
	valid := ServerConfig{ID: 1, Host: "tak.example.com", Port: 8089, Protocol: ProtocolTLS}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, "tak.example.com:8089", valid.Addr())

	cases := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"no host", func(s *ServerConfig) { s.Host = "" }},
		{"zero port", func(s *ServerConfig) { s.Port = 0 }},
		{"port too high", func(s *ServerConfig) { s.Port = 70000 }},
		{"bad protocol", func(s *ServerConfig) { s.Protocol = "udp" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
