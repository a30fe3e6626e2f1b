// Package cot builds Cursor-on-Target XML events from normalized positions.
//
// The wire format is a single-line UTF-8 XML element with no declaration;
// TAK servers parse a stream of such elements written back-to-back.
package cot

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// timeLayout is ISO-8601 UTC with seconds precision and a trailing Z.
const timeLayout = "2006-01-02T15:04:05Z"

// Event is an immutable CoT event: the raw XML bytes plus the fields the
// queue layer needs, extracted once at build time so it never re-parses XML.
type Event struct {
	UID  string
	Time time.Time
	Lat  float64
	Lon  float64
	XML  []byte
}

// BuildEvent renders one position as a CoT event of the given type. The stale
// time is the event time plus staleSeconds. Team-member metadata and the type
// override attached by callsign mapping are read from the position's Extra
// map.
func BuildEvent(p model.Position, cotType string, staleSeconds int) (Event, error) {
	if err := p.Validate(); err != nil {
		return Event{}, err
	}
	if cotType == "" {
		return Event{}, fmt.Errorf("cot: empty event type for %s", p.UID)
	}
	if staleSeconds <= 0 {
		return Event{}, fmt.Errorf("cot: stale seconds must be positive for %s", p.UID)
	}

	t := p.Timestamp.UTC()
	ts := t.Format(timeLayout)
	stale := t.Add(time.Duration(staleSeconds) * time.Second).Format(timeLayout)

	hae := 0.0
	if p.Altitude != nil {
		hae = *p.Altitude
	}

	var b strings.Builder
	b.Grow(512)
	b.WriteString(`<event version="2.0" uid="`)
	b.WriteString(escape(p.UID))
	b.WriteString(`" type="`)
	b.WriteString(escape(cotType))
	b.WriteString(`" how="m-g" time="`)
	b.WriteString(ts)
	b.WriteString(`" start="`)
	b.WriteString(ts)
	b.WriteString(`" stale="`)
	b.WriteString(stale)
	b.WriteString(`">`)

	b.WriteString(`<point lat="`)
	b.WriteString(strconv.FormatFloat(p.Lat, 'f', 8, 64))
	b.WriteString(`" lon="`)
	b.WriteString(strconv.FormatFloat(p.Lon, 'f', 8, 64))
	b.WriteString(`" hae="`)
	b.WriteString(strconv.FormatFloat(hae, 'f', 2, 64))
	b.WriteString(`" ce="9999999.0" le="9999999.0"/>`)

	b.WriteString(`<detail><contact callsign="`)
	name := p.Name
	if name == "" {
		name = p.UID
	}
	b.WriteString(escape(name))
	b.WriteString(`"/>`)

	if p.SpeedMPS != nil || p.CourseDeg != nil {
		speed, course := 0.0, 0.0
		if p.SpeedMPS != nil {
			speed = *p.SpeedMPS
		}
		if p.CourseDeg != nil {
			course = *p.CourseDeg
		}
		b.WriteString(`<track speed="`)
		b.WriteString(strconv.FormatFloat(speed, 'f', 2, 64))
		b.WriteString(`" course="`)
		b.WriteString(strconv.FormatFloat(course, 'f', 2, 64))
		b.WriteString(`"/>`)
	}

	if color := p.ExtraString(model.ExtraTeamColor); color != "" {
		role := p.ExtraString(model.ExtraTeamRole)
		b.WriteString(`<__group name="`)
		b.WriteString(escape(color))
		b.WriteString(`" role="`)
		b.WriteString(escape(role))
		b.WriteString(`"/>`)
	}

	if p.Description != "" {
		b.WriteString(`<remarks>`)
		b.WriteString(escape(p.Description))
		b.WriteString(`</remarks>`)
	}

	b.WriteString(`</detail></event>`)

	return Event{UID: p.UID, Time: t, Lat: p.Lat, Lon: p.Lon, XML: []byte(b.String())}, nil
}

// escaper covers the five characters that must be escaped in XML attribute
// values and text content.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(s string) string {
	return escaper.Replace(s)
}

// eventHeader mirrors the attributes we care about when reading an event back.
type eventHeader struct {
	UID  string `xml:"uid,attr"`
	Type string `xml:"type,attr"`
	Time string `xml:"time,attr"`
}

// ExtractUIDTime parses the uid and time attributes out of a serialized
// event. Used by tests and diagnostics; the hot path relies on the cached
// fields of Event instead.
func ExtractUIDTime(raw []byte) (string, time.Time, error) {
	var h eventHeader
	if err := xml.Unmarshal(raw, &h); err != nil {
		return "", time.Time{}, fmt.Errorf("cot: parse event: %w", err)
	}
	t, err := time.Parse(timeLayout, h.Time)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("cot: parse event time %q: %w", h.Time, err)
	}
	return h.UID, t, nil
}
