package tracker

import "github.com/trailmark-io/trailmark/internal/event"

// SheetConfig is the remote-spreadsheet configuration supplied by Init.
type SheetConfig struct {
	SheetID  string `json:"sheetId"`
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

// Inbound is the closed set of messages the coordinator accepts. The
// unexported marker keeps the union closed so dispatch stays exhaustive.
type Inbound interface{ isInbound() }

// InitMsg supplies configuration and an optional initial location, and
// triggers token acquisition.
type InitMsg struct {
	Config   SheetConfig
	Location *event.Location
}

// PageViewMsg reports a page navigation.
type PageViewMsg struct{ Event event.TrackerEvent }

// ClickMsg reports a DOM click.
type ClickMsg struct{ Event event.TrackerEvent }

// ErrorEventMsg reports an application error observed by the host context.
type ErrorEventMsg struct{ Event event.TrackerEvent }

// LocationUpdateMsg refreshes the coordinator's cached location.
type LocationUpdateMsg struct{ Location event.Location }

// AuthTokenMsg carries the host context's answer to a RequestAuthMsg: a
// fresh bearer token, or the reason acquisition failed.
type AuthTokenMsg struct {
	Token string
	Err   string
}

func (InitMsg) isInbound()           {}
func (PageViewMsg) isInbound()       {}
func (ClickMsg) isInbound()          {}
func (ErrorEventMsg) isInbound()     {}
func (LocationUpdateMsg) isInbound() {}
func (AuthTokenMsg) isInbound()      {}

// Outbound is the closed set of messages the coordinator emits.
type Outbound interface{ isOutbound() }

// InitializedMsg signals that configuration is in place and a token is held.
type InitializedMsg struct{}

// RequestAuthMsg asks the host context to run interactive token acquisition.
type RequestAuthMsg struct{}

// ReportErrorMsg surfaces a per-message failure. The coordinator never
// crashes; it reports and moves on.
type ReportErrorMsg struct{ Message string }

func (InitializedMsg) isOutbound() {}
func (RequestAuthMsg) isOutbound() {}
func (ReportErrorMsg) isOutbound() {}
