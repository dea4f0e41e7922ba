// Package format projects tracker events into spreadsheet rows.
package format

import (
	"strings"

	"github.com/trailmark-io/trailmark/internal/event"
	"github.com/trailmark-io/trailmark/internal/sheets"
)

// ErrorMessageLimit caps the error cell length.
const ErrorMessageLimit = 150

// Fallback literals for missing fields.
const (
	unknown        = "Unknown"
	unknownOS      = "Unknown OS"
	unknownCity    = "Unknown City"
	unknownCountry = "Unknown Country"
)

// Format flattens a tracker event into the fixed 8-cell row
// [timestamp, page, userId, userName, location, deviceOS, browser, error].
// fallback is the coordinator's last known location, used when the event
// carries none.
func Format(e event.TrackerEvent, fallback *event.Location) sheets.Row {
	return sheets.Row{
		e.Timestamp,
		e.Page,
		e.User.ID,
		e.User.Name,
		formatLocation(e.Location, fallback),
		formatDevice(e.Device),
		formatBrowser(e.Browser),
		formatError(e),
	}
}

func formatLocation(loc, fallback *event.Location) string {
	if loc == nil {
		loc = fallback
	}
	if loc == nil {
		return unknown
	}
	city := loc.City
	if city == "" {
		city = unknownCity
	}
	country := loc.Country
	if country == "" {
		country = unknownCountry
	}
	return city + ", " + country
}

func formatDevice(d *event.Device) string {
	if d == nil {
		return unknown
	}
	if d.OS == "" {
		return unknownOS
	}
	return d.OS
}

func formatBrowser(b *event.Browser) string {
	if b == nil {
		return unknown
	}
	name := b.Name
	if name == "" {
		name = unknown
	}
	return strings.TrimSpace(name + " " + b.Version)
}

func formatError(e event.TrackerEvent) string {
	if e.Kind != event.KindError || e.Error == nil {
		return ""
	}
	msg := e.Error.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return Truncate(msg, ErrorMessageLimit)
}

// Truncate returns the first maxLen runes of s without splitting a
// multi-byte character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
