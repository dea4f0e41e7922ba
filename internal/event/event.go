// Package event defines the activity-event data model shared by the relay,
// the coordinator, and the storage sinks.
package event

// Kind discriminates the TrackerEvent union.
type Kind string

const (
	KindPageView       Kind = "page_view"
	KindClick          Kind = "click"
	KindError          Kind = "error"
	KindLocationUpdate Kind = "location_update"
	KindInit           Kind = "init"
)

// User identifies the person generating activity.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Device describes the client device. OS is the only field the sheet
// projection uses; the rest is carried for the mirror sink.
type Device struct {
	OS        string `json:"os"`
	Mobile    bool   `json:"mobile,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Browser describes the client browser.
type Browser struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Location is a geographic position with optional resolved place names.
// Coordinates are always present; City/Country may be empty when reverse
// geocoding was unavailable.
type Location struct {
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Element describes the DOM element a click landed on. Text is truncated to
// 50 characters by the sender.
type Element struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Class string `json:"class,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ErrorDetail carries an application error observed by the host context.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Source  string `json:"source,omitempty"`
	Lineno  int    `json:"lineno,omitempty"`
	Colno   int    `json:"colno,omitempty"`
	URL     string `json:"url,omitempty"`
}

// TrackerEvent is a single activity event. Kind selects the variant; Element
// is set only for clicks and Error only for error events.
type TrackerEvent struct {
	EventID   string       `json:"event_id,omitempty"`
	Kind      Kind         `json:"kind"`
	Page      string       `json:"page"`
	Timestamp string       `json:"timestamp"` // RFC 3339, carried verbatim into the sheet
	User      User         `json:"user"`
	Device    *Device      `json:"device,omitempty"`
	Browser   *Browser     `json:"browser,omitempty"`
	Location  *Location    `json:"location,omitempty"`
	Element   *Element     `json:"element,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}
