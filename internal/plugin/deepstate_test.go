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

const deepstateJSON = `{
	"updated_at": "2026-03-01 12:00:00",
	"map": {"features": [
		{"id": 101,
		 "geometry": {"type": "Point", "coordinates": [30.52, 50.45]},
		 "properties": {"name": "<strong>Enemy</strong> armor group"}},
		{"id": 102,
		 "geometry": {"type": "Point", "coordinates": [24.03, 49.84, 300]},
		 "properties": {"name": "Friendly observation post"}},
		{"id": 103,
		 "geometry": {"type": "Polygon", "coordinates": []},
		 "properties": {"name": "frontline area"}}
	]}
}`

func deepstateServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeepstateFetch(t *testing.T) {
	srv := deepstateServer(t, deepstateJSON)
	p := &deepstateProvider{}

	positions, err := p.Fetch(context.Background(), srv.Client(), map[string]any{"api_url": srv.URL})
	require.NoError(t, err)
	require.Len(t, positions, 2, "non-point geometries are skipped")

	hostile := positions[0]
	assert.Equal(t, "deepstate-101", hostile.UID)
	assert.Equal(t, "Enemy armor group", hostile.Name, "inline markup stripped")
	assert.Equal(t, 50.45, hostile.Lat)
	assert.Equal(t, 30.52, hostile.Lon)
	assert.Equal(t, "a-h-G", hostile.CotTypeHint)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), hostile.Timestamp)

	friendly := positions[1]
	assert.Empty(t, friendly.CotTypeHint)
}

func TestDeepstateFetchHostileTypeOverride(t *testing.T) {
	srv := deepstateServer(t, deepstateJSON)
	p := &deepstateProvider{}

	positions, err := p.Fetch(context.Background(), srv.Client(), map[string]any{
		"api_url":          srv.URL,
		"cot_type_hostile": "a-h-G-U-C",
	})
	require.NoError(t, err)
	assert.Equal(t, "a-h-G-U-C", positions[0].CotTypeHint)
}

func TestDeepstateFetchMissingTimestampFallsBackToNow(t *testing.T) {
	srv := deepstateServer(t, `{"map": {"features": [
		{"id": 1, "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"name": "x"}}
	]}}`)
	p := &deepstateProvider{}

	before := time.Now().Add(-time.Second)
	positions, err := p.Fetch(context.Background(), srv.Client(), map[string]any{"api_url": srv.URL})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Timestamp.After(before))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Enemy armor", stripMarkup("<strong>Enemy</strong> armor"))
	assert.Equal(t, "plain", stripMarkup("plain"))
	assert.Equal(t, "truncated", stripMarkup("truncated <unclosed"))
}

func TestIsHostile(t *testing.T) {
	assert.True(t, isHostile("Enemy infantry"))
	assert.True(t, isHostile("Російська армія"))
	assert.False(t, isHostile("Friendly unit"))
}
