package storage

import (
	"time"

	"github.com/trailmark-io/trailmark/internal/event"
)

// EventWriter is the interface for mirroring activity events to an
// analytics sink. Write() must NEVER block the caller.
type EventWriter interface {
	Write(record *ActivityRecord)
	Close()
}

// ActivityRecord is the flattened analytics projection of one tracker event.
type ActivityRecord struct {
	EventID        string
	Kind           string
	Page           string
	Timestamp      time.Time
	UserID         string
	UserName       string
	City           string
	Country        string
	Latitude       float64
	Longitude      float64
	DeviceOS       string
	DeviceMobile   bool
	UserAgent      string
	BrowserName    string
	BrowserVersion string
	ElementTag     string
	ElementID      string
	ElementClass   string
	ElementText    string
	ErrorMessage   string
	ErrorSource    string
	ErrorURL       string
}

// FromEvent flattens a tracker event, filling location from the fallback
// when the event carries none. An unparseable timestamp falls back to now.
func FromEvent(e event.TrackerEvent, fallback *event.Location) *ActivityRecord {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	rec := &ActivityRecord{
		EventID:   e.EventID,
		Kind:      string(e.Kind),
		Page:      e.Page,
		Timestamp: ts,
		UserID:    e.User.ID,
		UserName:  e.User.Name,
	}

	loc := e.Location
	if loc == nil {
		loc = fallback
	}
	if loc != nil {
		rec.City = loc.City
		rec.Country = loc.Country
		rec.Latitude = loc.Latitude
		rec.Longitude = loc.Longitude
	}
	if e.Device != nil {
		rec.DeviceOS = e.Device.OS
		rec.DeviceMobile = e.Device.Mobile
		rec.UserAgent = e.Device.UserAgent
	}
	if e.Browser != nil {
		rec.BrowserName = e.Browser.Name
		rec.BrowserVersion = e.Browser.Version
	}
	if e.Element != nil {
		rec.ElementTag = e.Element.Tag
		rec.ElementID = e.Element.ID
		rec.ElementClass = e.Element.Class
		rec.ElementText = e.Element.Text
	}
	if e.Error != nil {
		rec.ErrorMessage = e.Error.Message
		rec.ErrorSource = e.Error.Source
		rec.ErrorURL = e.Error.URL
	}
	return rec
}
