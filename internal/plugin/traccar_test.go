package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const traccarDevicesJSON = `[
	{"id": 1, "name": "Truck 7", "uniqueId": "867530900001", "status": "online"},
	{"id": 2, "name": "", "uniqueId": "", "status": "offline"}
]`

const traccarPositionsJSON = `[
	{"deviceId": 1, "latitude": 50.45, "longitude": 30.52, "altitude": 180,
	 "speed": 10, "course": 90, "fixTime": "2026-03-01T12:00:00Z"},
	{"deviceId": 2, "latitude": 49.84, "longitude": 24.03, "altitude": 0,
	 "speed": 0, "course": 0, "deviceTime": "2026-03-01T11:59:00Z"}
]`

func traccarServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(traccarDevicesJSON))
	})
	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(traccarPositionsJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func traccarConfig(baseURL string) map[string]any {
	return map[string]any{
		"base_url": baseURL,
		"username": "admin",
		"password": "secret",
	}
}

func TestTraccarFetch(t *testing.T) {
	srv := traccarServer(t)
	p := &traccarProvider{}

	positions, err := p.Fetch(context.Background(), srv.Client(), traccarConfig(srv.URL))
	require.NoError(t, err)
	require.Len(t, positions, 2)

	first := positions[0]
	assert.Equal(t, "traccar-867530900001", first.UID)
	assert.Equal(t, "Truck 7", first.Name)
	assert.Equal(t, 50.45, first.Lat)
	assert.Equal(t, 30.52, first.Lon)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), first.Timestamp)
	require.NotNil(t, first.SpeedMPS)
	assert.InDelta(t, 5.14444, *first.SpeedMPS, 0.0001, "knots converted to m/s")

	// Device without a uniqueId falls back to the numeric id; fixTime missing
	// falls back to deviceTime.
	second := positions[1]
	assert.Equal(t, "traccar-2", second.UID)
	assert.Equal(t, "2", second.Name)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC), second.Timestamp)
}

func TestTraccarFetchBadCredentials(t *testing.T) {
	srv := traccarServer(t)
	p := &traccarProvider{}
	cfg := traccarConfig(srv.URL)
	cfg["password"] = "wrong"

	_, err := p.Fetch(context.Background(), srv.Client(), cfg)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestTraccarValidateConfig(t *testing.T) {
	p := &traccarProvider{}

	ok, warnings := p.ValidateConfig(traccarConfig("https://traccar.example.com"))
	assert.True(t, ok)
	assert.Empty(t, warnings)

	ok, warnings = p.ValidateConfig(map[string]any{"base_url": "traccar.example.com"})
	assert.False(t, ok)
	assert.NotEmpty(t, warnings)
}

func TestTraccarTestConnection(t *testing.T) {
	srv := traccarServer(t)
	p := &traccarProvider{}

	res := p.TestConnection(context.Background(), srv.Client(), traccarConfig(srv.URL))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Details["devices"])
}
