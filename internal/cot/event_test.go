package cot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

func floatPtr(f float64) *float64 { return &f }

func basePosition() model.Position {
	return model.Position{
		UID:       "spot-123",
		Name:      "Alpha 1",
		Lat:       51.5,
		Lon:       -0.12,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildEventLayout(t *testing.T) {
	ev, err := BuildEvent(basePosition(), "a-f-G-U-C", 300)
	require.NoError(t, err)

	xml := string(ev.XML)
	assert.Equal(t,
		`<event version="2.0" uid="spot-123" type="a-f-G-U-C" how="m-g" `+
			`time="2026-03-01T12:00:00Z" start="2026-03-01T12:00:00Z" stale="2026-03-01T12:05:00Z">`+
			`<point lat="51.50000000" lon="-0.12000000" hae="0.00" ce="9999999.0" le="9999999.0"/>`+
			`<detail><contact callsign="Alpha 1"/></detail></event>`,
		xml,
	)
	assert.False(t, strings.Contains(xml, "\n"), "must be single line")
	assert.False(t, strings.HasPrefix(xml, "<?xml"), "no XML declaration")

	assert.Equal(t, "spot-123", ev.UID)
	assert.Equal(t, basePosition().Timestamp, ev.Time)
	assert.Equal(t, 51.5, ev.Lat)
	assert.Equal(t, -0.12, ev.Lon)
}

func TestBuildEventAltitudeAndTrack(t *testing.T) {
	p := basePosition()
	p.Altitude = floatPtr(123.456)
	p.SpeedMPS = floatPtr(5.5)
	p.CourseDeg = floatPtr(270)

	ev, err := BuildEvent(p, "a-f-G", 60)
	require.NoError(t, err)
	xml := string(ev.XML)
	assert.Contains(t, xml, `hae="123.46"`)
	assert.Contains(t, xml, `<track speed="5.50" course="270.00"/>`)
}

func TestBuildEventTrackWithOnlySpeed(t *testing.T) {
	p := basePosition()
	p.SpeedMPS = floatPtr(3)
	ev, err := BuildEvent(p, "a-f-G", 60)
	require.NoError(t, err)
	assert.Contains(t, string(ev.XML), `<track speed="3.00" course="0.00"/>`)
}

func TestBuildEventGroupAndRemarks(t *testing.T) {
	p := basePosition()
	p.Description = "last seen near bridge"
	p.SetExtra(model.ExtraTeamColor, "Cyan")
	p.SetExtra(model.ExtraTeamRole, "Team Member")

	ev, err := BuildEvent(p, "a-f-G-U-C", 60)
	require.NoError(t, err)
	xml := string(ev.XML)
	assert.Contains(t, xml, `<__group name="Cyan" role="Team Member"/>`)
	assert.Contains(t, xml, `<remarks>last seen near bridge</remarks>`)
}

func TestBuildEventEscaping(t *testing.T) {
	p := basePosition()
	p.Name = `A<B>&"C'`
	ev, err := BuildEvent(p, "a-f-G", 60)
	require.NoError(t, err)
	assert.Contains(t, string(ev.XML), `callsign="A&lt;B&gt;&amp;&quot;C&apos;"`)
}

func TestBuildEventCallsignFallsBackToUID(t *testing.T) {
	p := basePosition()
	p.Name = ""
	ev, err := BuildEvent(p, "a-f-G", 60)
	require.NoError(t, err)
	assert.Contains(t, string(ev.XML), `callsign="spot-123"`)
}

func TestBuildEventNormalizesToUTC(t *testing.T) {
	p := basePosition()
	p.Timestamp = time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	ev, err := BuildEvent(p, "a-f-G", 60)
	require.NoError(t, err)
	assert.Contains(t, string(ev.XML), `time="2026-03-01T12:00:00Z"`)
}

func TestBuildEventRejectsBadInput(t *testing.T) {
	p := basePosition()
	_, err := BuildEvent(p, "", 60)
	assert.Error(t, err)
	_, err = BuildEvent(p, "a-f-G", 0)
	assert.Error(t, err)

	p.UID = ""
	_, err = BuildEvent(p, "a-f-G", 60)
	assert.ErrorIs(t, err, model.ErrInvalidPosition)
}

func TestExtractUIDTimeRoundTrip(t *testing.T) {
	ev, err := BuildEvent(basePosition(), "a-f-G", 60)
	require.NoError(t, err)

	uid, ts, err := ExtractUIDTime(ev.XML)
	require.NoError(t, err)
	assert.Equal(t, ev.UID, uid)
	assert.True(t, ts.Equal(ev.Time))
}
