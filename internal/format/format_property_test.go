package format

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/trailmark-io/trailmark/internal/event"
)

// TestProperty_FormatShape validates that the projection always yields
// exactly 8 cells with a bounded, valid-UTF-8 error cell, whatever the
// input event looks like.
func TestProperty_FormatShape(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every event formats to 8 cells", prop.ForAll(
		func(page, userID, userName, timestamp string) bool {
			e := event.TrackerEvent{
				Kind:      event.KindPageView,
				Page:      page,
				Timestamp: timestamp,
				User:      event.User{ID: userID, Name: userName},
			}
			return len(Format(e, nil)) == 8
		},
		gen.AnyString(), gen.AnyString(), gen.AnyString(), gen.AnyString(),
	))

	properties.Property("error cell stays within the limit and valid UTF-8", prop.ForAll(
		func(message string) bool {
			e := event.TrackerEvent{
				Kind:  event.KindError,
				Error: &event.ErrorDetail{Message: message},
			}
			cell := Format(e, nil)[7]
			return utf8.RuneCountInString(cell) <= ErrorMessageLimit && utf8.ValidString(cell)
		},
		gen.AnyString(),
	))

	properties.Property("location cell always renders as city, country", prop.ForAll(
		func(city, country string) bool {
			e := event.TrackerEvent{
				Kind:     event.KindPageView,
				Location: &event.Location{City: city, Country: country},
			}
			cell := Format(e, nil)[4]
			return strings.Contains(cell, ", ")
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
