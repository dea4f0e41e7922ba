package format

import (
	"strings"
	"testing"

	"github.com/trailmark-io/trailmark/internal/event"
)

func TestFormat_AllOptionalFieldsOmitted(t *testing.T) {
	e := event.TrackerEvent{
		Kind:      event.KindPageView,
		Page:      "/home",
		Timestamp: "2024-01-01T00:00:00Z",
		User:      event.User{ID: "u1", Name: "A"},
	}

	row := Format(e, nil)
	want := []string{"2024-01-01T00:00:00Z", "/home", "u1", "A", "Unknown", "Unknown", "Unknown", ""}
	if len(row) != 8 {
		t.Fatalf("expected 8 cells, got %d", len(row))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d: expected %q, got %q", i, want[i], row[i])
		}
	}
}

func TestFormat_SparsePageViewRow(t *testing.T) {
	e := event.TrackerEvent{
		Kind:      event.KindPageView,
		Page:      "/home",
		Timestamp: "2024-01-01T00:00:00Z",
		User:      event.User{ID: "u1", Name: "A"},
		Device:    &event.Device{OS: "Linux"},
		Browser:   &event.Browser{Name: "Chrome", Version: "120"},
	}

	row := Format(e, nil)
	want := []string{"2024-01-01T00:00:00Z", "/home", "u1", "A", "Unknown", "Linux", "Chrome 120", ""}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d: expected %q, got %q", i, want[i], row[i])
		}
	}
}

func TestFormat_LocationFallsBackToCached(t *testing.T) {
	e := event.TrackerEvent{Kind: event.KindPageView, Page: "/p", Timestamp: "t"}
	cached := &event.Location{City: "Lagos", Country: "Nigeria", Latitude: 6.5, Longitude: 3.4}

	row := Format(e, cached)
	if row[4] != "Lagos, Nigeria" {
		t.Errorf("expected cached location, got %q", row[4])
	}
}

func TestFormat_LocationPerFieldFallbacks(t *testing.T) {
	cases := []struct {
		name string
		loc  *event.Location
		want string
	}{
		{"city only", &event.Location{City: "Berlin"}, "Berlin, Unknown Country"},
		{"country only", &event.Location{Country: "Germany"}, "Unknown City, Germany"},
		{"coords only", &event.Location{Latitude: 1, Longitude: 2}, "Unknown City, Unknown Country"},
		{"both set", &event.Location{City: "Berlin", Country: "Germany"}, "Berlin, Germany"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := event.TrackerEvent{Kind: event.KindPageView, Location: tc.loc}
			if got := Format(e, nil)[4]; got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFormat_DeviceFallbacks(t *testing.T) {
	e := event.TrackerEvent{Kind: event.KindPageView, Device: &event.Device{UserAgent: "x"}}
	if got := Format(e, nil)[5]; got != "Unknown OS" {
		t.Errorf("expected Unknown OS, got %q", got)
	}
}

func TestFormat_BrowserNameFallbackTrimsVersion(t *testing.T) {
	e := event.TrackerEvent{Kind: event.KindPageView, Browser: &event.Browser{Name: "Firefox"}}
	if got := Format(e, nil)[6]; got != "Firefox" {
		t.Errorf("expected trimmed name, got %q", got)
	}
}

func TestFormat_ErrorTruncatedTo150(t *testing.T) {
	long := strings.Repeat("x", 400)
	e := event.TrackerEvent{
		Kind:  event.KindError,
		Error: &event.ErrorDetail{Message: long},
	}

	got := Format(e, nil)[7]
	if len(got) != ErrorMessageLimit {
		t.Errorf("expected %d chars, got %d", ErrorMessageLimit, len(got))
	}
}

func TestFormat_ErrorCellEmptyForNonErrorKinds(t *testing.T) {
	e := event.TrackerEvent{
		Kind:  event.KindClick,
		Error: &event.ErrorDetail{Message: "should not leak"},
	}
	if got := Format(e, nil)[7]; got != "" {
		t.Errorf("error cell must be empty for non-error events, got %q", got)
	}
}

func TestTruncate_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := Truncate(s, 5)
	if got != strings.Repeat("é", 5) {
		t.Errorf("truncate split a multi-byte rune: %q", got)
	}
}
